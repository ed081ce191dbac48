// File: reactor/poll.go
// Author: momentics <momentics@gmail.com>
//
// Poll set bookkeeping and readiness translation.

package reactor

import "github.com/momentics/pcxd/api"

// PollFd mirrors struct pollfd.
type PollFd struct {
	Fd      int32
	Events  int16
	Revents int16
}

// poll(2) event bits; identical on Linux and the BSDs.
const (
	EvIn   int16 = 0x001
	EvOut  int16 = 0x004
	EvErr  int16 = 0x008
	EvHup  int16 = 0x010
	EvNval int16 = 0x020
)

// Poller blocks until a descriptor in fds is ready or timeoutMs elapses.
// A negative timeout blocks indefinitely. Revents must be rewritten for
// every entry.
type Poller interface {
	Poll(fds []PollFd, timeoutMs int) (int, error)
}

func interestEvents(flags api.PollFlags) int16 {
	var ev int16
	if flags&api.PollIn != 0 {
		ev |= EvIn
	}
	if flags&api.PollOut != 0 {
		ev |= EvOut
	}
	return ev
}

// translateEvents maps revents onto the abstract flags. A hang-up on a
// source interested in IN is reported as IN so the owner finds EOF through
// its normal read path; otherwise it is an error.
func translateEvents(revents int16, interest api.PollFlags) api.PollFlags {
	var flags api.PollFlags
	if revents&EvOut != 0 {
		flags |= api.PollOut
	}
	if revents&EvIn != 0 {
		flags |= api.PollIn
	}
	if revents&EvHup != 0 {
		if interest&api.PollIn != 0 {
			flags |= api.PollIn
		} else {
			flags |= api.PollError
		}
	}
	if revents&(EvErr|EvNval) != 0 {
		flags |= api.PollError
	}
	return flags
}

// ensurePollArray rebuilds the contiguous pollfd array if any poll source
// was added, removed or modified since the last wait.
func (mc *MainContext) ensurePollArray() {
	if !mc.pollDirty {
		return
	}
	mc.pollFds = mc.pollFds[:0]
	mc.pollHandles = mc.pollHandles[:0]
	for _, h := range mc.pollSources {
		src := mc.lookup(h)
		if src == nil {
			continue
		}
		mc.pollFds = append(mc.pollFds, PollFd{Fd: int32(src.fd), Events: interestEvents(src.flags)})
		mc.pollHandles = append(mc.pollHandles, h)
	}
	mc.pollDirty = false
}

func (mc *MainContext) dispatchPoll() {
	for i := range mc.pollFds {
		revents := mc.pollFds[i].Revents
		if revents == 0 {
			continue
		}
		h := mc.pollHandles[i]
		// An earlier callback in this iteration may have removed it.
		src := mc.lookup(h)
		if src == nil {
			continue
		}
		mc.metrics.ObserveDispatch("poll")
		src.pollCB(h, src.fd, translateEvents(revents, src.flags))
	}
}
