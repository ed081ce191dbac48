// File: reactor/source.go
// Author: momentics <momentics@gmail.com>
//
// Tagged source records and the generation-checked slot map that owns them.

package reactor

import "github.com/momentics/pcxd/api"

type sourceKind uint8

const (
	kindPoll sourceKind = iota + 1
	kindTimer
	kindIdle
	kindQuit
)

func (k sourceKind) String() string {
	switch k {
	case kindPoll:
		return "poll"
	case kindTimer:
		return "timer"
	case kindIdle:
		return "idle"
	case kindQuit:
		return "quit"
	}
	return "unknown"
}

// source is a registered unit of work. Exactly one callback field is set,
// matching kind.
type source struct {
	kind   sourceKind
	handle api.Handle

	// poll
	fd     int
	flags  api.PollFlags
	pollCB api.PollFunc

	// timer
	bucket  *bucket
	busy    bool
	removed bool
	timerCB api.TimerFunc

	idleCB api.IdleFunc
	quitCB api.QuitFunc
}

type slot struct {
	gen uint32
	src *source
}

// slotMap hands out handles whose generation is bumped on every reuse of
// the slot, so a handle kept after removal can never reach a newer source.
type slotMap struct {
	slots []slot
	free  []uint32
	live  [kindQuit + 1]int
}

func (m *slotMap) insert(s *source) api.Handle {
	var idx uint32
	if n := len(m.free); n > 0 {
		idx = m.free[n-1]
		m.free = m.free[:n-1]
	} else {
		idx = uint32(len(m.slots))
		m.slots = append(m.slots, slot{})
	}
	sl := &m.slots[idx]
	sl.gen++
	if sl.gen == 0 {
		sl.gen = 1
	}
	sl.src = s
	s.handle = api.NewHandle(idx, sl.gen)
	m.live[s.kind]++
	return s.handle
}

func (m *slotMap) get(h api.Handle) *source {
	if !h.Valid() || int(h.Index()) >= len(m.slots) {
		return nil
	}
	sl := m.slots[h.Index()]
	if sl.gen != h.Generation() {
		return nil
	}
	return sl.src
}

func (m *slotMap) release(h api.Handle) {
	s := m.get(h)
	if s == nil {
		return
	}
	m.live[s.kind]--
	m.slots[h.Index()].src = nil
	m.free = append(m.free, h.Index())
}

func (m *slotMap) count(k sourceKind) int { return m.live[k] }
