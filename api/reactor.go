// File: api/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Defines the contract of the single-threaded event reactor that every
// connection, timer and deferred job in the server is dispatched from.

package api

import (
	"fmt"
	"os"
	"time"
)

// PollFlags is the abstract readiness/interest set of a poll source.
type PollFlags uint8

const (
	PollIn PollFlags = 1 << iota
	PollOut
	PollError
)

func (f PollFlags) String() string {
	s := ""
	if f&PollIn != 0 {
		s += "IN|"
	}
	if f&PollOut != 0 {
		s += "OUT|"
	}
	if f&PollError != 0 {
		s += "ERR|"
	}
	if s == "" {
		return "0"
	}
	return s[:len(s)-1]
}

// Handle is an opaque, generation-checked reference to a registered source.
// The zero Handle never refers to a live source.
type Handle struct {
	index uint32
	gen   uint32
}

// NewHandle is used by reactor implementations to mint handles.
func NewHandle(index, gen uint32) Handle { return Handle{index: index, gen: gen} }

// Index returns the slot index of the handle.
func (h Handle) Index() uint32 { return h.index }

// Generation returns the slot generation the handle was minted for.
func (h Handle) Generation() uint32 { return h.gen }

// Valid reports whether h was ever minted by a reactor.
func (h Handle) Valid() bool { return h.gen != 0 }

func (h Handle) String() string { return fmt.Sprintf("source#%d.%d", h.index, h.gen) }

// Callbacks dispatched by the reactor. All of them run on the loop goroutine.
type (
	PollFunc  func(h Handle, fd int, flags PollFlags)
	TimerFunc func(h Handle)
	IdleFunc  func(h Handle)
	QuitFunc  func(h Handle, sig os.Signal)
)

// Reactor is the scheduling surface consumed by higher layers.
// Only AddIdle may be called from a goroutine other than the loop's.
type Reactor interface {
	// AddPoll registers fd for the given interest set.
	AddPoll(fd int, flags PollFlags, cb PollFunc) Handle

	// ModifyPoll replaces the interest set of a poll source.
	ModifyPoll(h Handle, flags PollFlags)

	// AddTimer registers a periodic timer with minute granularity.
	AddTimer(periodMinutes int, cb TimerFunc) Handle

	// AddIdle schedules one-shot deferred work. Safe from any goroutine.
	AddIdle(cb IdleFunc) Handle

	// AddQuit registers an observer for termination signals.
	AddQuit(cb QuitFunc) Handle

	// Remove unregisters a source. Removing twice returns ErrStaleHandle.
	Remove(h Handle) error

	// Now returns the cached monotonic time of the current iteration.
	Now() time.Time

	// WallClock returns the cached wall-clock time in unix seconds.
	WallClock() int64
}
