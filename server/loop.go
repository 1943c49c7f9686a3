// File: server/loop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The reactor loop: flush, poll, receive, reclaim, parse, stall check.

package server

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/sockcore/api"
	"github.com/momentics/sockcore/internal/transport"
	"github.com/momentics/sockcore/metrics"
	"github.com/momentics/sockcore/session"
)

// Run drives Step until ctx is cancelled or polling fails, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	defer s.Shutdown()
	for ctx.Err() == nil {
		if err := s.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Step applies pending reloads, fires due timers and runs one iteration
// bounded by the time to the next timer.
func (s *Server) Step() error {
	s.applyReloads()
	next := s.timers.Run(s.clock())
	return s.Iterate(next)
}

// Iterate runs one pass of the loop, waiting at most timeout for readiness.
func (s *Server) Iterate(timeout time.Duration) error {
	if s.closed {
		return api.ErrSessionClosed
	}

	s.flush()

	n, err := s.poller.Wait(timeout, s.ready)
	if err != nil {
		s.log.Error("readiness poll failed", zap.String("driver", s.poller.Name()), zap.Error(err))
		return err
	}
	for _, fd := range s.ready[:n] {
		sess, ok := s.reg.Get(api.Handle(fd))
		if !ok || !sess.Handle().Valid() || sess.EOF() {
			continue
		}
		if err := sess.Pipeline().Recv(sess); err != nil {
			s.log.Info("receive failed, closing", zap.Int("handle", fd),
				zap.String("addr", api.FormatIPv4(sess.PeerAddr())), zap.Error(err))
			sess.SetEOF()
		}
	}

	s.flush()
	s.reg.Range(func(sess *session.Session) bool {
		if sess.EOF() {
			s.parse(sess)
			s.flushSession(sess)
			s.reclaim(sess)
		}
		return true
	})

	now := s.clock()
	var queuedIn, queuedOut int
	var census Census
	s.reg.Range(func(sess *session.Session) bool {
		// A session the stall check just closed still gets its final parse.
		s.stallCheck(sess, now)
		s.parse(sess)
		if sess.EOF() {
			s.flushSession(sess)
			s.reclaim(sess)
			return true
		}
		if sess.ReadStuck() {
			s.log.Warn("read buffer full with nothing parsed, closing",
				zap.Int("handle", int(sess.Handle())),
				zap.String("addr", api.FormatIPv4(sess.PeerAddr())),
				zap.Int("cap", sess.ReadCap()))
			s.reasons[sess.Handle()] = metrics.CloseReadStuck
			sess.SetEOF()
		}
		sess.Compact()
		queuedIn += sess.Rest()
		queuedOut += sess.Pending()
		census.count(sess)
		return true
	})
	s.metrics.SetQueued(queuedIn, queuedOut)
	s.metrics.SetSessions(s.reg.Len())
	s.publishCensus(census)
	return nil
}

func (s *Server) parse(sess *session.Session) {
	p := sess.Pipeline()
	if p == nil {
		return
	}
	err := p.Parse(sess)
	if errors.Is(err, api.ErrBackpressure) {
		s.reasons[sess.Handle()] = metrics.CloseBackpressure
	}
	if err != nil && !sess.EOF() {
		s.log.Info("parse failed, closing", zap.Int("handle", int(sess.Handle())),
			zap.String("addr", api.FormatIPv4(sess.PeerAddr())), zap.Error(err))
		sess.SetEOF()
	}
}

// stallCheck closes idle clients and asks idle peer links for a keepalive.
// Sessions with a zero activity stamp are exempt.
func (s *Server) stallCheck(sess *session.Session, now time.Time) {
	last := sess.LastActivity()
	if last.IsZero() || sess.EOF() || now.Sub(last) <= s.cfg.StallTime {
		return
	}
	if sess.IsPeerLink() {
		if sess.Keepalive() == session.KeepaliveNone {
			s.log.Debug("peer link idle, keepalive requested", zap.Int("handle", int(sess.Handle())))
		}
		sess.RequestKeepalive()
		return
	}
	s.log.Info("session timed out", zap.Int("handle", int(sess.Handle())),
		zap.String("addr", api.FormatIPv4(sess.PeerAddr())),
		zap.Duration("idle", now.Sub(last)))
	s.reasons[sess.Handle()] = metrics.CloseStall
	sess.SetEOF()
}

// flush sends pending output, visiting only shortlisted handles when the
// shortlist is on, and drops whatever was written to the vacuum session.
func (s *Server) flush() {
	if s.cfg.Shortlist {
		s.short.Drain(func(h api.Handle) {
			if sess, ok := s.reg.Get(h); ok {
				s.flushSession(sess)
			}
		})
	} else {
		s.reg.Range(func(sess *session.Session) bool {
			s.flushSession(sess)
			return true
		})
	}
	s.reg.Vacuum().DiscardPending()
}

func (s *Server) flushSession(sess *session.Session) {
	if sess.Pending() == 0 || sess.Pipeline() == nil {
		return
	}
	if err := sess.Pipeline().Send(sess); err != nil {
		s.log.Info("send failed, closing", zap.Int("handle", int(sess.Handle())),
			zap.String("addr", api.FormatIPv4(sess.PeerAddr())), zap.Error(err))
		sess.SetEOF()
		return
	}
	if sess.Pending() > 0 && !sess.EOF() {
		s.attention(sess.Handle())
	}
}

// reclaim closes the descriptor and destroys the session. Callers reach it
// once per session since the slot is empty afterwards.
func (s *Server) reclaim(sess *session.Session) {
	h := sess.Handle()
	if err := s.poller.Remove(int(h)); err != nil {
		s.log.Debug("readiness driver remove failed", zap.Int("handle", int(h)), zap.Error(err))
	}
	if err := transport.Close(int(h)); err != nil && !errors.Is(err, api.ErrNotSupported) {
		s.log.Debug("descriptor close failed", zap.Int("handle", int(h)), zap.Error(err))
	}
	reason, ok := s.reasons[h]
	if !ok {
		reason = metrics.CloseEOF
	}
	delete(s.reasons, h)
	s.reg.Destroy(h)
	s.metrics.Close(reason)
	s.log.Debug("session closed", zap.Int("handle", int(h)), zap.String("reason", reason),
		zap.Stringer("role", sess.Role()))
}
