// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package fake

import (
	"os"
	"sync"
)

// Notifier records signal subscriptions and delivers synthetic signals.
type Notifier struct {
	mu   sync.Mutex
	subs map[chan<- os.Signal][]os.Signal
}

// NewNotifier returns an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[chan<- os.Signal][]os.Signal)}
}

// Notify implements reactor.SignalNotifier.
func (n *Notifier) Notify(c chan<- os.Signal, sig ...os.Signal) {
	n.mu.Lock()
	n.subs[c] = append(n.subs[c], sig...)
	n.mu.Unlock()
}

// Stop implements reactor.SignalNotifier.
func (n *Notifier) Stop(c chan<- os.Signal) {
	n.mu.Lock()
	delete(n.subs, c)
	n.mu.Unlock()
}

// Raise delivers sig to every subscriber registered for it and reports how
// many received it.
func (n *Notifier) Raise(sig os.Signal) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	delivered := 0
	for c, sigs := range n.subs {
		for _, s := range sigs {
			if s == sig {
				c <- sig
				delivered++
				break
			}
		}
	}
	return delivered
}
