// File: admission/gate.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Sliding-window connection rate gate backed by an address-bucketed history.

package admission

import (
	"math/bits"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/sockcore/api"
)

// Config tunes the gate.
type Config struct {
	// Enabled turns rule evaluation and rate tracking on.
	Enabled bool
	// Window is the interval within which consecutive attempts count as a burst.
	Window time.Duration
	// Threshold is the number of attempts per window tolerated before flagging.
	Threshold int
	// AutoReset is how long a flagged address stays flagged without attempts.
	AutoReset time.Duration
	// Buckets is the history table width, rounded up to a power of two.
	Buckets int
	// Debug logs every rule match and decision.
	Debug bool
}

// DefaultConfig returns the stock limits: 10 attempts per 3s, flagged
// addresses forgiven after 10 minutes.
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Window:    3 * time.Second,
		Threshold: 10,
		AutoReset: 10 * time.Minute,
		Buckets:   1 << 16,
	}
}

// State is the tracking state of an address.
type State int

const (
	StateNew State = iota
	StateActive
	StateFlagged
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateFlagged:
		return "flagged"
	}
	return "new"
}

// Entry is one address history record.
type Entry struct {
	Addr     uint32
	LastSeen time.Time
	Hits     int
	Flagged  bool
	next     *Entry
}

// Decision is the result of one admission check.
type Decision struct {
	Allowed bool
	Verdict Verdict
	State   State
}

// Gate applies the rule policy and the rate window. Not safe for concurrent
// use; it lives on the reactor thread.
type Gate struct {
	cfg     Config
	policy  Policy
	buckets []*Entry
	mask    uint32
	entries int
	log     *zap.Logger
}

// NewGate builds a gate.
func NewGate(cfg Config, p Policy, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	g := &Gate{cfg: cfg, policy: p, log: log}
	g.rebucket(cfg.Buckets)
	return g
}

func roundBuckets(n int) int {
	if n <= 1 {
		return 1
	}
	if n > 1<<24 {
		n = 1 << 24
	}
	return 1 << bits.Len(uint(n-1))
}

func (g *Gate) rebucket(n int) {
	n = roundBuckets(n)
	old := g.buckets
	g.buckets = make([]*Entry, n)
	g.mask = uint32(n - 1)
	for _, head := range old {
		for e := head; e != nil; {
			next := e.next
			i := e.Addr & g.mask
			e.next = g.buckets[i]
			g.buckets[i] = e
			e = next
		}
	}
}

// Config returns the active configuration.
func (g *Gate) Config() Config { return g.cfg }

// Policy returns the active rule set.
func (g *Gate) Policy() Policy { return g.policy }

// Enabled reports whether connections are checked at all.
func (g *Gate) Enabled() bool { return g.cfg.Enabled }

// Reconfigure swaps limits and rules, keeping tracked history.
func (g *Gate) Reconfigure(cfg Config, p Policy) {
	if roundBuckets(cfg.Buckets) != len(g.buckets) {
		g.rebucket(cfg.Buckets)
	}
	g.cfg = cfg
	g.policy = p
}

// Len returns the number of tracked addresses.
func (g *Gate) Len() int { return g.entries }

func (g *Gate) find(ip uint32) *Entry {
	for e := g.buckets[ip&g.mask]; e != nil; e = e.next {
		if e.Addr == ip {
			return e
		}
	}
	return nil
}

// Lookup returns a copy of the history record for ip and its state.
func (g *Gate) Lookup(ip uint32) (Entry, State) {
	e := g.find(ip)
	switch {
	case e == nil:
		return Entry{Addr: ip}, StateNew
	case e.Flagged:
		return *e, StateFlagged
	}
	return *e, StateActive
}

// Allow reports whether a connection from ip may proceed.
func (g *Gate) Allow(ip uint32, now time.Time) bool {
	return g.Check(ip, now).Allowed
}

// Check evaluates the rules and updates the history of ip. The history is
// updated whatever the verdict, so the rate measures request pressure.
func (g *Gate) Check(ip uint32, now time.Time) Decision {
	v := g.policy.Evaluate(ip)
	d := g.track(ip, now, v)
	if g.cfg.Debug {
		g.log.Info("admission check",
			zap.String("addr", api.FormatIPv4(ip)),
			zap.Stringer("verdict", v),
			zap.Stringer("state", d.State),
			zap.Bool("allowed", d.Allowed))
	}
	return d
}

func (g *Gate) track(ip uint32, now time.Time, v Verdict) Decision {
	e := g.find(ip)
	if e == nil {
		i := ip & g.mask
		g.buckets[i] = &Entry{Addr: ip, LastSeen: now, Hits: 1, next: g.buckets[i]}
		g.entries++
		return decide(v, StateActive)
	}
	if e.Flagged {
		if now.Sub(e.LastSeen) <= g.cfg.AutoReset {
			return decide(v, StateFlagged)
		}
		e.Flagged = false
		e.Hits = 0
	}
	if e.Hits > 0 && now.Sub(e.LastSeen) < g.cfg.Window {
		e.LastSeen = now
		e.Hits++
		if g.cfg.Threshold > 0 && e.Hits > g.cfg.Threshold {
			e.Flagged = true
			g.log.Warn("connection flood detected",
				zap.String("addr", api.FormatIPv4(ip)),
				zap.Int("hits", e.Hits),
				zap.Duration("window", g.cfg.Window))
			return decide(v, StateFlagged)
		}
		return decide(v, StateActive)
	}
	e.LastSeen = now
	e.Hits = 1
	return decide(v, StateActive)
}

func decide(v Verdict, st State) Decision {
	allowed := v != Reject
	if st == StateFlagged {
		allowed = v == AcceptUnconditional
	}
	return Decision{Allowed: allowed, Verdict: v, State: st}
}

// Sweep drops idle records: active ones after three windows, flagged ones
// after the auto-reset period. It returns the dropped and scanned counts.
func (g *Gate) Sweep(now time.Time) (cleared, total int) {
	for i, head := range g.buckets {
		var kept *Entry
		var tail *Entry
		for e := head; e != nil; {
			next := e.next
			total++
			idle := now.Sub(e.LastSeen)
			if (!e.Flagged && idle > 3*g.cfg.Window) || (e.Flagged && idle > g.cfg.AutoReset) {
				cleared++
			} else {
				e.next = nil
				if tail == nil {
					kept = e
				} else {
					tail.next = e
				}
				tail = e
			}
			e = next
		}
		g.buckets[i] = kept
	}
	g.entries -= cleared
	if g.cfg.Debug {
		g.log.Info("admission history swept", zap.Int("cleared", cleared), zap.Int("total", total))
	}
	return cleared, total
}
