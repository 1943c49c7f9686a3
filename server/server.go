// File: server/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server construction, accessors, timers and shutdown.

package server

import (
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/momentics/sockcore/admission"
	"github.com/momentics/sockcore/api"
	"github.com/momentics/sockcore/control"
	"github.com/momentics/sockcore/internal/shortlist"
	"github.com/momentics/sockcore/internal/timer"
	"github.com/momentics/sockcore/internal/transport"
	"github.com/momentics/sockcore/metrics"
	"github.com/momentics/sockcore/reactor"
	"github.com/momentics/sockcore/session"
)

// readyBatch bounds the descriptors handled per poll.
const readyBatch = 256

// Server owns every session of one process.
type Server struct {
	id    uuid.UUID
	cfg   control.Config
	log   *zap.Logger
	clock api.Clock

	reg     *session.Registry
	poller  api.Poller
	gate    *admission.Gate
	limiter *rate.Limiter
	timers  *timer.Heap
	short   *shortlist.Set
	metrics *metrics.Collector

	registerer  prometheus.Registerer
	probes      *control.Probes
	census      func(Census)
	parser      session.Parser
	debugSwitch func(bool)

	ready   []int
	reasons map[api.Handle]string
	reloads chan control.Config

	sweepID timer.ID
	statsID timer.ID
	stats   statsWindow
	closed  bool
}

// New builds a server from cfg. No socket is opened until MakeListener or
// ConnectOutbound.
func New(cfg control.Config, opts ...ServerOption) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		id:      uuid.New(),
		cfg:     cfg.Clone(),
		log:     zap.NewNop(),
		clock:   time.Now,
		timers:  timer.New(),
		ready:   make([]int, readyBatch),
		reasons: make(map[api.Handle]string),
		reloads: make(chan control.Config, 1),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(zap.String("server", s.id.String()))

	if s.poller == nil {
		p, err := reactor.New(cfg.Driver)
		if err != nil {
			return nil, err
		}
		s.poller = p
	}

	limit := s.handleLimit(cfg)
	s.short = shortlist.New(int(limit))
	s.reg = session.NewRegistry(limit,
		session.WithLogger(s.log),
		session.WithClock(s.clock),
		session.WithMaxClientPacket(cfg.MaxClientPacket),
		session.WithAttention(s.attention),
	)
	s.gate = admission.NewGate(cfg.Gate(), cfg.Policy(), s.log)
	s.limiter = newLimiter(cfg)
	s.metrics = metrics.NewCollector(s.registerer, "sockcore")

	s.scheduleSweep()
	s.scheduleStats()
	if s.debugSwitch != nil {
		s.debugSwitch(cfg.Debug)
	}
	s.registerProbes()

	s.log.Info("socket core ready",
		zap.String("driver", s.poller.Name()),
		zap.Int("max_handles", int(limit)),
		zap.Duration("stall_time", cfg.StallTime),
		zap.Bool("shortlist", cfg.Shortlist),
		zap.Bool("ip_rules", cfg.EnableIPRules))
	return s, nil
}

func (s *Server) handleLimit(cfg control.Config) api.Handle {
	if cfg.MaxHandles > 0 {
		return api.Handle(cfg.MaxHandles)
	}
	return api.Handle(transport.MaxDescriptors())
}

func newLimiter(cfg control.Config) *rate.Limiter {
	if cfg.AcceptRate <= 0 {
		return nil
	}
	burst := cfg.AcceptBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.AcceptRate), burst)
}

func (s *Server) registerProbes() {
	if s.probes == nil {
		return
	}
	s.probes.Register("server.id", func() any { return s.id.String() })
	s.probes.Register("server.driver", func() any { return s.poller.Name() })
	s.probes.Register("server.traffic", func() any { return s.metrics.Snapshot() })
	s.census = control.Publish[Census](s.probes, "server.sessions")
}

func (s *Server) attention(h api.Handle) {
	if s.cfg.Shortlist {
		s.short.Add(h)
	}
}

// ID returns the instance identifier carried in every log entry.
func (s *Server) ID() uuid.UUID { return s.id }

// Config returns the active configuration.
func (s *Server) Config() control.Config { return s.cfg.Clone() }

// Registry exposes the session table.
func (s *Server) Registry() *session.Registry { return s.reg }

// Session returns the live session at h.
func (s *Server) Session(h api.Handle) (*session.Session, bool) { return s.reg.Get(h) }

// Gate exposes admission state.
func (s *Server) Gate() *admission.Gate { return s.gate }

// Metrics exposes the instrumentation.
func (s *Server) Metrics() *metrics.Collector { return s.metrics }

// Logger returns the server logger.
func (s *Server) Logger() *zap.Logger { return s.log }

// Now reads the server clock.
func (s *Server) Now() time.Time { return s.clock() }

// AddTimer runs fn once after d.
func (s *Server) AddTimer(d time.Duration, fn timer.Func) timer.ID {
	return s.timers.Add(s.clock().Add(d), fn)
}

// AddInterval runs fn after first and then every interval.
func (s *Server) AddInterval(first, interval time.Duration, fn timer.Func) timer.ID {
	return s.timers.AddInterval(s.clock().Add(first), interval, fn)
}

// CancelTimer removes a pending timer.
func (s *Server) CancelTimer(id timer.ID) bool { return s.timers.Cancel(id) }

func (s *Server) scheduleSweep() {
	if s.sweepID != 0 {
		s.timers.Cancel(s.sweepID)
	}
	every := s.cfg.DDoSSweep
	s.sweepID = s.AddInterval(every, every, func(_ timer.ID, now time.Time) {
		cleared, total := s.gate.Sweep(now)
		if cleared > 0 {
			s.log.Debug("admission history swept", zap.Int("cleared", cleared), zap.Int("tracked", total))
		}
	})
}

// Shutdown flushes what the kernel takes, closes every socket and the
// readiness driver. It is idempotent.
func (s *Server) Shutdown() {
	if s.closed {
		return
	}
	s.closed = true
	s.reg.Range(func(sess *session.Session) bool {
		s.flushSession(sess)
		s.reasons[sess.Handle()] = metrics.CloseShutdown
		s.reclaim(sess)
		return true
	})
	s.short.Reset()
	if err := s.poller.Close(); err != nil {
		s.log.Warn("readiness driver close failed", zap.Error(err))
	}
	s.log.Info("socket core shut down")
}
