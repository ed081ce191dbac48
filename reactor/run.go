// File: reactor/run.go
// Author: momentics <momentics@gmail.com>
//
// One iteration of the main loop and the blocking Run wrapper.

package reactor

import (
	"context"
	"errors"
	"syscall"

	"go.uber.org/zap"

	"github.com/momentics/pcxd/api"
)

// computeTimeout returns 0 when idle work is pending, otherwise the timer
// deadline. When the wait may block, polling is set under the same lock
// AddIdle takes, so an idle source added after the check always finds it and
// writes a wakeup byte.
func (mc *MainContext) computeTimeout() int {
	mc.mu.Lock()
	if mc.idle.Length() > 0 {
		mc.mu.Unlock()
		return 0
	}
	mc.polling = true
	mc.mu.Unlock()
	return mc.timerTimeout()
}

// RunOnce blocks for at most one wait and dispatches everything that became
// due: ready descriptors, elapsed timer buckets, then idle work. Timers are
// only checked after a successful wait.
func (mc *MainContext) RunOnce() {
	mc.ensurePollArray()
	timeout := mc.computeTimeout()

	_, err := mc.poller.Poll(mc.pollFds, timeout)

	mc.mu.Lock()
	mc.polling = false
	mc.mu.Unlock()

	// Time is assumed not to pass between waits.
	mc.invalidateClocks()
	mc.metrics.ObserveIteration()

	if err != nil {
		if !errors.Is(err, syscall.EINTR) {
			mc.metrics.ObservePollError()
			mc.log.Error("poll failed", zap.Error(err))
		}
	} else {
		mc.dispatchPoll()
		mc.checkTimers()
	}

	// Idle work still drains after a failed wait so Stop is honoured.
	mc.drainIdle()
}

// Run iterates until Stop is called or ctx is cancelled.
func (mc *MainContext) Run(ctx context.Context) error {
	if mc.closed {
		return api.ErrReactorClosed
	}
	stop := context.AfterFunc(ctx, mc.Stop)
	defer stop()

	for !mc.stopping {
		mc.RunOnce()
	}
	mc.stopping = false
	return ctx.Err()
}

// Stop makes Run return after the current iteration. Safe from any goroutine.
func (mc *MainContext) Stop() {
	mc.AddIdle(func(api.Handle) { mc.stopping = true })
}
