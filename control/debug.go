// control/debug.go
// Author: momentics <momentics@gmail.com>
//
// Named probes dumped by the /debug/state endpoint.

package control

import (
	"fmt"
	"sync"
)

// Probe returns a JSON-encodable view of some component. Probes run on HTTP
// goroutines and must only read state that is safe to share, such as
// reactor.Stats.
type Probe func() any

// DebugProbes is a registry of probes kept in registration order.
type DebugProbes struct {
	mu     sync.RWMutex
	names  []string
	probes map[string]Probe
}

// NewDebugProbes creates a probe registry.
func NewDebugProbes() *DebugProbes {
	return &DebugProbes{probes: make(map[string]Probe)}
}

// RegisterProbe adds or replaces a named probe.
func (dp *DebugProbes) RegisterProbe(name string, p Probe) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if _, ok := dp.probes[name]; !ok {
		dp.names = append(dp.names, name)
	}
	dp.probes[name] = p
}

// UnregisterProbe drops a probe. Unknown names are ignored.
func (dp *DebugProbes) UnregisterProbe(name string) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if _, ok := dp.probes[name]; !ok {
		return
	}
	delete(dp.probes, name)
	for i, n := range dp.names {
		if n == name {
			dp.names = append(dp.names[:i], dp.names[i+1:]...)
			break
		}
	}
}

// Names lists registered probes in registration order.
func (dp *DebugProbes) Names() []string {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	return append([]string(nil), dp.names...)
}

// DumpState runs every probe. A probe that panics is reported as an error
// string in place of its value.
func (dp *DebugProbes) DumpState() map[string]any {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	out := make(map[string]any, len(dp.probes))
	for _, name := range dp.names {
		out[name] = runProbe(dp.probes[name])
	}
	return out
}

func runProbe(p Probe) (v any) {
	defer func() {
		if r := recover(); r != nil {
			v = fmt.Sprintf("probe failed: %v", r)
		}
	}()
	return p()
}
