// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package fake

import (
	"sync"
	"time"

	"github.com/momentics/pcxd/reactor"
)

// Poller checks real descriptors without blocking, merges injected readiness
// and, when nothing is ready, advances Clock by the requested timeout instead
// of sleeping.
type Poller struct {
	Clock *Clock
	Real  reactor.Poller

	// Oversleep is added to every simulated wait, as if the process had been
	// descheduled past the deadline.
	Oversleep time.Duration

	mu       sync.Mutex
	injected map[int32]int16
	timeouts []int
}

// NewPoller wraps the system poller.
func NewPoller(clock *Clock) *Poller {
	real, _ := reactor.NewSystemPoller()
	return &Poller{Clock: clock, Real: real, injected: make(map[int32]int16)}
}

// Inject makes the next Poll report revents for fd.
func (p *Poller) Inject(fd int, revents int16) {
	p.mu.Lock()
	p.injected[int32(fd)] |= revents
	p.mu.Unlock()
}

// Timeouts returns every timeout the reactor asked for, in order.
func (p *Poller) Timeouts() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.timeouts...)
}

// LastTimeout returns the most recent timeout or -2 if Poll never ran.
func (p *Poller) LastTimeout() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.timeouts) == 0 {
		return -2
	}
	return p.timeouts[len(p.timeouts)-1]
}

// Poll implements reactor.Poller.
func (p *Poller) Poll(fds []reactor.PollFd, timeoutMs int) (int, error) {
	p.mu.Lock()
	p.timeouts = append(p.timeouts, timeoutMs)
	injected := p.injected
	p.injected = make(map[int32]int16)
	p.mu.Unlock()

	n := 0
	if p.Real != nil && len(fds) > 0 {
		var err error
		if n, err = p.Real.Poll(fds, 0); err != nil {
			return n, err
		}
	} else {
		for i := range fds {
			fds[i].Revents = 0
		}
	}
	for i := range fds {
		if ev, ok := injected[fds[i].Fd]; ok {
			if fds[i].Revents == 0 {
				n++
			}
			fds[i].Revents |= ev
		}
	}
	if n == 0 && timeoutMs > 0 && p.Clock != nil {
		p.Clock.Advance(time.Duration(timeoutMs)*time.Millisecond + p.Oversleep)
	}
	return n, nil
}
