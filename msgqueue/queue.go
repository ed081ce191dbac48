// File: msgqueue/queue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-destination outbound FIFOs behind a fixed-window send limiter.

package msgqueue

import (
	"time"

	"github.com/eapache/queue"
)

const (
	// DefaultLimit is the number of messages a destination may receive per
	// window.
	DefaultLimit = 18
	// DefaultWindow is the length of a rate-limit window.
	DefaultWindow = 60 * time.Second
)

// Message is a payload released for delivery.
type Message[T any] struct {
	Dest    int64
	Payload T
}

// Wait describes why Dequeue returned nothing. Pending is false when every
// FIFO is empty; otherwise Delay is how long until the earliest destination
// becomes eligible again.
type Wait struct {
	Pending bool
	Delay   time.Duration
}

type chat struct {
	dest        int64
	fifo        *queue.Queue
	periodStart time.Time
	sent        int
}

// Queue holds pending payloads per destination. It is owned by the loop
// goroutine and performs no locking.
type Queue[T any] struct {
	chats  []*chat
	limit  int
	window time.Duration
	now    func() time.Time
}

// Option configures a Queue.
type Option func(*config)

type config struct {
	limit  int
	window time.Duration
	now    func() time.Time
}

// WithLimit sets the per-window message quota.
func WithLimit(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.limit = n
		}
	}
}

// WithWindow sets the window length.
func WithWindow(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.window = d
		}
	}
}

// WithClock sets the time source, normally the reactor's cached clock.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// New returns an empty queue.
func New[T any](opts ...Option) *Queue[T] {
	cfg := config{limit: DefaultLimit, window: DefaultWindow, now: time.Now}
	for _, o := range opts {
		o(&cfg)
	}
	return &Queue[T]{limit: cfg.limit, window: cfg.window, now: cfg.now}
}

// dead reports whether c holds nothing and can no longer affect limiting.
func (q *Queue[T]) dead(c *chat, now time.Time) bool {
	if c.fifo.Length() > 0 {
		return false
	}
	return c.sent == 0 || !now.Before(c.periodStart.Add(q.window))
}

// Enqueue appends payload to the FIFO of dest. Other destinations found
// dead during the lookup are dropped.
func (q *Queue[T]) Enqueue(dest int64, payload T) {
	now := q.now()
	var found *chat
	kept := q.chats[:0]
	for _, c := range q.chats {
		switch {
		case c.dest == dest:
			found = c
		case q.dead(c, now):
			continue
		}
		kept = append(kept, c)
	}
	clear(q.chats[len(kept):])
	q.chats = kept

	if found == nil {
		found = &chat{dest: dest, fifo: queue.New()}
		q.chats = append(q.chats, found)
	}
	found.fifo.Add(payload)
}

// Dequeue releases the head payload of the first destination, in creation
// order, that is under its quota or whose window has elapsed.
func (q *Queue[T]) Dequeue() (Message[T], bool, Wait) {
	now := q.now()
	var (
		next    time.Time
		pending bool
	)
	for _, c := range q.chats {
		if c.fifo.Length() == 0 {
			continue
		}
		end := c.periodStart.Add(q.window)
		expired := !now.Before(end)
		if c.sent < q.limit || expired {
			if c.sent == 0 || expired {
				c.periodStart = now
				c.sent = 0
			}
			c.sent++
			payload, _ := c.fifo.Remove().(T)
			return Message[T]{Dest: c.dest, Payload: payload}, true, Wait{}
		}
		if !pending || end.Before(next) {
			next = end
			pending = true
		}
	}
	if !pending {
		return Message[T]{}, false, Wait{}
	}
	return Message[T]{}, false, Wait{Pending: true, Delay: ceilMillis(next.Sub(now))}
}

// ceilMillis rounds d up to a whole, strictly positive, number of
// milliseconds.
func ceilMillis(d time.Duration) time.Duration {
	ms := (d + time.Millisecond - 1) / time.Millisecond
	if ms < 1 {
		ms = 1
	}
	return ms * time.Millisecond
}

// Len returns the number of queued payloads across all destinations.
func (q *Queue[T]) Len() int {
	n := 0
	for _, c := range q.chats {
		n += c.fifo.Length()
	}
	return n
}

// Destinations returns the number of tracked destinations, including ones
// kept only for their window state.
func (q *Queue[T]) Destinations() int { return len(q.chats) }
