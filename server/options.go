// File: server/options.go
// Package server defines functional options for the Server facade.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/momentics/sockcore/api"
	"github.com/momentics/sockcore/control"
	"github.com/momentics/sockcore/session"
)

// ServerOption customizes server initialization.
type ServerOption func(*Server)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// WithClock replaces the wall clock, chiefly for tests.
func WithClock(c api.Clock) ServerOption {
	return func(s *Server) { s.clock = c }
}

// WithRegisterer registers the server metrics with reg.
func WithRegisterer(reg prometheus.Registerer) ServerOption {
	return func(s *Server) { s.registerer = reg }
}

// WithPoller uses p instead of the configured readiness driver.
func WithPoller(p api.Poller) ServerOption {
	return func(s *Server) { s.poller = p }
}

// WithDefaultParser sets the parser bound to accepted sessions.
func WithDefaultParser(p session.Parser) ServerOption {
	return func(s *Server) { s.parser = p }
}

// WithProbes publishes server state through p.
func WithProbes(p *control.Probes) ServerOption {
	return func(s *Server) { s.probes = p }
}

// WithDebugSwitch is called with the debug directive on start and on every
// reload, typically to flip the logger level.
func WithDebugSwitch(fn func(on bool)) ServerOption {
	return func(s *Server) { s.debugSwitch = fn }
}
