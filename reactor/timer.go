// File: reactor/timer.go
// Author: momentics <momentics@gmail.com>
//
// Minute-granularity timer buckets.

package reactor

import (
	"math"
	"time"

	"github.com/momentics/pcxd/api"
)

// bucket groups every timer source sharing one period.
type bucket struct {
	period  int
	elapsed int
	sources []api.Handle
}

func (mc *MainContext) bucketFor(period int) *bucket {
	for _, b := range mc.buckets {
		if b.period == period {
			return b
		}
	}
	b := &bucket{period: period}
	mc.buckets = append(mc.buckets, b)
	mc.publishBuckets()
	return b
}

func (mc *MainContext) pruneBuckets() {
	kept := mc.buckets[:0]
	for _, b := range mc.buckets {
		if len(b.sources) > 0 {
			kept = append(kept, b)
		}
	}
	clear(mc.buckets[len(kept):])
	mc.buckets = kept
	mc.publishBuckets()
}

// publishBuckets copies the bucket count where Stats can read it.
func (mc *MainContext) publishBuckets() {
	mc.mu.Lock()
	mc.nbuckets = len(mc.buckets)
	mc.mu.Unlock()
}

// timerTimeout returns how long the wait may block before the nearest bucket
// is due, in milliseconds, or -1 when no timers exist.
func (mc *MainContext) timerTimeout() int {
	if len(mc.buckets) == 0 {
		return -1
	}
	minutes := math.MaxInt
	for _, b := range mc.buckets {
		if rem := b.period - b.elapsed; rem < minutes {
			minutes = rem
		}
	}
	ms := int64(minutes)*time.Minute.Milliseconds() -
		mc.Now().Sub(mc.lastTimerCheck).Milliseconds()
	switch {
	case ms < 0:
		return 0
	case ms > math.MaxInt32:
		return math.MaxInt32
	}
	return int(ms)
}

// checkTimers advances every bucket by the whole minutes elapsed since the
// last check and dispatches the due ones. Due sources are moved into a
// private batch and marked busy first, so callbacks may remove themselves or
// their siblings without disturbing the walk.
func (mc *MainContext) checkTimers() {
	if len(mc.buckets) == 0 {
		return
	}
	minutes := int(mc.Now().Sub(mc.lastTimerCheck) / time.Minute)
	if minutes <= 0 {
		return
	}
	mc.lastTimerCheck = mc.lastTimerCheck.Add(time.Duration(minutes) * time.Minute)

	var batch []api.Handle
	for _, b := range mc.buckets {
		b.elapsed += minutes
		if b.elapsed < b.period {
			continue
		}
		b.elapsed %= b.period
		for _, h := range b.sources {
			if src := mc.lookup(h); src != nil {
				src.busy = true
			}
		}
		batch = append(batch, b.sources...)
		b.sources = nil
	}
	if len(batch) == 0 {
		return
	}

	mc.firing = true
	for _, h := range batch {
		src := mc.lookup(h)
		if src == nil || src.removed {
			continue
		}
		mc.metrics.ObserveDispatch("timer")
		src.timerCB(h)
	}
	mc.firing = false

	for _, h := range batch {
		src := mc.lookup(h)
		if src == nil {
			continue
		}
		src.busy = false
		if src.removed {
			mc.release(h, kindTimer)
			continue
		}
		src.bucket.sources = append(src.bucket.sources, h)
	}
	mc.pruneBuckets()
}
