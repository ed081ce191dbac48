// File: reactor/idle.go
// Author: momentics <momentics@gmail.com>

package reactor

import "github.com/momentics/pcxd/api"

// drainIdle runs idle sources in insertion order until the list is empty.
// The lock is released around each callback, so work queued by a callback,
// or by another goroutine meanwhile, runs in the same pass.
func (mc *MainContext) drainIdle() {
	for {
		mc.mu.Lock()
		if mc.idle.Length() == 0 {
			mc.mu.Unlock()
			return
		}
		h := mc.idle.Remove().(api.Handle)
		src := mc.slots.get(h)
		if src != nil {
			mc.slots.release(h)
		}
		n := mc.slots.count(kindIdle)
		mc.mu.Unlock()

		if src == nil {
			continue
		}
		mc.metrics.SetSources(kindIdle.String(), n)
		mc.metrics.ObserveDispatch("idle")
		src.idleCB(h)
	}
}
