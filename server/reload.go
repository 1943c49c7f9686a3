// File: server/reload.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Configuration reloads funnelled onto the reactor thread.

package server

import (
	"go.uber.org/zap"

	"github.com/momentics/sockcore/control"
	"github.com/momentics/sockcore/session"
)

// Reload queues cfg for the next Step. It is safe to call from any
// goroutine; a newer queued configuration replaces an older one.
func (s *Server) Reload(cfg control.Config) {
	cfg = cfg.Clone()
	for {
		select {
		case s.reloads <- cfg:
			return
		default:
		}
		select {
		case <-s.reloads:
		default:
		}
	}
}

// Watch applies every configuration published by store.
func (s *Server) Watch(store *control.Store) {
	store.OnReload(s.Reload)
}

func (s *Server) applyReloads() {
	select {
	case cfg := <-s.reloads:
		s.apply(cfg)
	default:
	}
}

func (s *Server) apply(cfg control.Config) {
	if err := cfg.Validate(); err != nil {
		s.log.Error("configuration rejected", zap.Error(err))
		return
	}
	old := s.cfg
	s.cfg = cfg

	s.gate.Reconfigure(cfg.Gate(), cfg.Policy())
	s.reg.SetMaxClientPacket(cfg.MaxClientPacket)
	s.reg.SetLimit(s.handleLimit(cfg))
	s.limiter = newLimiter(cfg)

	switch {
	case cfg.Shortlist && !old.Shortlist:
		s.short.Reset()
		s.reg.Range(func(sess *session.Session) bool {
			if sess.Pending() > 0 || sess.EOF() {
				s.short.Add(sess.Handle())
			}
			return true
		})
	case !cfg.Shortlist:
		s.short.Reset()
	}
	if cfg.DDoSSweep != old.DDoSSweep {
		s.scheduleSweep()
	}
	if cfg.ShowStats != old.ShowStats || cfg.StatsInterval != old.StatsInterval {
		s.scheduleStats()
	}
	if s.debugSwitch != nil && cfg.Debug != old.Debug {
		s.debugSwitch(cfg.Debug)
	}
	if cfg.Driver != old.Driver && cfg.Driver != "" && cfg.Driver != s.poller.Name() {
		s.log.Warn("driver change takes effect on restart",
			zap.String("active", s.poller.Name()), zap.String("configured", cfg.Driver))
	}
	s.metrics.Reload()
	s.log.Info("configuration applied",
		zap.Duration("stall_time", cfg.StallTime),
		zap.Bool("ip_rules", cfg.EnableIPRules),
		zap.Stringer("order", cfg.Order),
		zap.Int("allow", len(cfg.Allow)),
		zap.Int("deny", len(cfg.Deny)))
}
