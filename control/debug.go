// control/debug.go
// Author: momentics <momentics@gmail.com>
//
// Debug probes. The reactor owns its state on one goroutine, so it publishes
// snapshots that any goroutine can read; probes never touch live sessions.

package control

import (
	"runtime"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/samber/lo"
)

// Probe reports one named piece of state. It must be safe to call from any
// goroutine.
type Probe func() any

// Probes holds named state reporters.
type Probes struct {
	mu     sync.RWMutex
	probes map[string]Probe
}

// NewProbes creates a probe registry with the process-level probes.
func NewProbes() *Probes {
	p := &Probes{probes: make(map[string]Probe)}
	p.Register("runtime.goroutines", func() any { return runtime.NumGoroutine() })
	return p
}

// Register inserts or replaces a named probe.
func (p *Probes) Register(name string, fn Probe) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probes[name] = fn
}

// Unregister drops a probe. Unknown names are ignored.
func (p *Probes) Unregister(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.probes, name)
}

// Names lists registered probes in order.
func (p *Probes) Names() []string {
	p.mu.RLock()
	names := lo.Keys(p.probes)
	p.mu.RUnlock()
	slices.Sort(names)
	return names
}

// Dump evaluates every probe.
func (p *Probes) Dump() map[string]any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]any, len(p.probes))
	for k, fn := range p.probes {
		out[k] = fn()
	}
	return out
}

// Publish registers name as a probe reporting the last value passed to the
// returned setter, or nil before the first call. The setter is how the
// reactor hands out snapshots of state only it may read.
func Publish[T any](p *Probes, name string) func(T) {
	var last atomic.Pointer[T]
	p.Register(name, func() any {
		if v := last.Load(); v != nil {
			return *v
		}
		return nil
	})
	return func(v T) { last.Store(&v) }
}
