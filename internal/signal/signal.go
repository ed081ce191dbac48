// File: internal/signal/signal.go
// Author: momentics <momentics@gmail.com>
//
// Ordered observer list used for connection and conversation events.

package signal

// Listener observes an emitted value. Returning false stops propagation:
// listeners registered after it are not called for that emission.
type Listener[T any] func(v T) bool

// Subscription identifies a registered listener.
type Subscription uint64

// Signal is an ordered list of listeners. It is not safe for concurrent use;
// like everything else on the loop goroutine it is owned by one caller.
type Signal[T any] struct {
	next      Subscription
	listeners []entry[T]
}

type entry[T any] struct {
	id Subscription
	fn Listener[T]
}

// Add appends l and returns a subscription usable with Remove.
func (s *Signal[T]) Add(l Listener[T]) Subscription {
	s.next++
	s.listeners = append(s.listeners, entry[T]{id: s.next, fn: l})
	return s.next
}

// Remove unregisters a listener. Removing an unknown subscription is a no-op
// and reports false.
func (s *Signal[T]) Remove(id Subscription) bool {
	for i, e := range s.listeners {
		if e.id == id {
			s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// Emit calls listeners in registration order and reports whether every one
// of them let the emission propagate. Listeners added or removed during
// Emit take effect from the next emission.
func (s *Signal[T]) Emit(v T) bool {
	snapshot := s.listeners
	for _, e := range snapshot {
		if !e.fn(v) {
			return false
		}
	}
	return true
}

// Len returns the number of registered listeners.
func (s *Signal[T]) Len() int { return len(s.listeners) }
