// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Typed socket core configuration and its defaults.

package control

import (
	"fmt"
	"slices"
	"time"

	"github.com/momentics/sockcore/admission"
	"github.com/momentics/sockcore/api"
	"github.com/momentics/sockcore/pool"
)

// MinStallTime is the floor for the inactivity timeout.
const MinStallTime = 3 * time.Second

// Config is the full set of directives tuning the socket layer.
type Config struct {
	StallTime time.Duration

	EnableIPRules bool
	Order         admission.Order
	Allow         []admission.Rule
	Deny          []admission.Rule

	DDoSInterval  time.Duration
	DDoSCount     int
	DDoSAutoReset time.Duration
	DDoSBuckets   int
	DDoSSweep     time.Duration

	Debug           bool
	MaxClientPacket int
	Driver          string
	Shortlist       bool
	MaxHandles      int

	AcceptRate  float64
	AcceptBurst int

	ShowStats     bool
	StatsInterval time.Duration

	LogFormat string
	LogFile   string
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	gate := admission.DefaultConfig()
	return Config{
		StallTime:       60 * time.Second,
		EnableIPRules:   gate.Enabled,
		Order:           admission.DenyAllow,
		DDoSInterval:    gate.Window,
		DDoSCount:       gate.Threshold,
		DDoSAutoReset:   gate.AutoReset,
		DDoSBuckets:     gate.Buckets,
		DDoSSweep:       5 * time.Minute,
		MaxClientPacket: pool.DefaultMaxClientPacket,
		Shortlist:       true,
		AcceptBurst:     64,
		StatsInterval:   time.Second,
		LogFormat:       "console",
	}
}

// Validate reports directives outside their usable range.
func (c Config) Validate() error {
	switch {
	case c.StallTime < MinStallTime:
		return fmt.Errorf("%w: stall_time %s below %s", api.ErrInvalidArgument, c.StallTime, MinStallTime)
	case c.DDoSInterval <= 0:
		return fmt.Errorf("%w: ddos_interval must be positive", api.ErrInvalidArgument)
	case c.DDoSCount < 0:
		return fmt.Errorf("%w: ddos_count must not be negative", api.ErrInvalidArgument)
	case c.DDoSAutoReset <= 0:
		return fmt.Errorf("%w: ddos_autoreset must be positive", api.ErrInvalidArgument)
	case c.DDoSBuckets <= 0:
		return fmt.Errorf("%w: ddos_history_buckets must be positive", api.ErrInvalidArgument)
	case c.MaxClientPacket <= 0 || c.MaxClientPacket > pool.MaxPacketLen:
		return fmt.Errorf("%w: socket_max_client_packet %d outside 1..%d", api.ErrInvalidArgument, c.MaxClientPacket, pool.MaxPacketLen)
	case c.MaxHandles < 0:
		return fmt.Errorf("%w: max_handles must not be negative", api.ErrInvalidArgument)
	case c.AcceptRate < 0 || c.AcceptBurst < 0:
		return fmt.Errorf("%w: accept_rate and accept_burst must not be negative", api.ErrInvalidArgument)
	}
	return nil
}

// Gate projects the admission tunables.
func (c Config) Gate() admission.Config {
	return admission.Config{
		Enabled:   c.EnableIPRules,
		Window:    c.DDoSInterval,
		Threshold: c.DDoSCount,
		AutoReset: c.DDoSAutoReset,
		Buckets:   c.DDoSBuckets,
		Debug:     c.Debug,
	}
}

// Policy projects the rule set.
func (c Config) Policy() admission.Policy {
	return admission.Policy{Order: c.Order, Allow: slices.Clone(c.Allow), Deny: slices.Clone(c.Deny)}
}

// Clone returns a copy that shares no slices with c.
func (c Config) Clone() Config {
	c.Allow = slices.Clone(c.Allow)
	c.Deny = slices.Clone(c.Deny)
	return c
}
