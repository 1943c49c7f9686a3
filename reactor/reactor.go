// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Driver registry and factory.

package reactor

import (
	"slices"
	"time"

	"github.com/samber/lo"
	"github.com/samber/oops"

	"github.com/momentics/sockcore/api"
)

// Factory constructs a fresh driver instance.
type Factory func() (api.Poller, error)

var drivers = map[string]Factory{}

func register(name string, f Factory) { drivers[name] = f }

// Drivers lists the driver names available on this platform.
func Drivers() []string {
	names := lo.Keys(drivers)
	slices.Sort(names)
	return names
}

// DefaultDriver is the driver used when none is configured.
func DefaultDriver() string { return defaultDriver }

// New creates the named driver; an empty name selects DefaultDriver.
func New(kind string) (api.Poller, error) {
	if kind == "" {
		kind = defaultDriver
	}
	f, ok := drivers[kind]
	if !ok {
		return nil, oops.In("reactor").With("driver", kind).With("available", Drivers()).
			Wrapf(api.ErrNotSupported, "unknown event driver")
	}
	return f()
}

// millis converts a wait timeout to the millisecond argument of the
// syscalls, rounding sub-millisecond waits up so they still sleep.
func millis(d time.Duration) int {
	if d < 0 {
		return -1
	}
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		ms = 1
	}
	return int(ms)
}
