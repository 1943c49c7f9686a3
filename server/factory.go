// File: server/factory.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection factory: listeners, inbound accepts, outbound connects and the
// recv/send/parse pipelines bound to each role.

package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/samber/oops"
	"go.uber.org/zap"

	"github.com/momentics/sockcore/api"
	"github.com/momentics/sockcore/internal/transport"
	"github.com/momentics/sockcore/metrics"
	"github.com/momentics/sockcore/session"
)

// acceptBatch bounds accepts per listener readiness.
const acceptBatch = 32

// listenBacklog is the kernel accept queue requested for listeners.
const listenBacklog = 511

// DefaultConnectTimeout bounds ConnectOutbound when no positive timeout is given.
const DefaultConnectTimeout = 5 * time.Second

// listenerPipeline accepts on readiness and never parses.
type listenerPipeline struct{ s *Server }

func (p listenerPipeline) Recv(l *session.Session) error {
	for i := 0; i < acceptBatch; i++ {
		fd, ip, err := transport.Accept(int(l.Handle()))
		if errors.Is(err, api.ErrWouldBlock) {
			return nil
		}
		if err != nil {
			p.s.metrics.Accept(metrics.AcceptError)
			p.s.log.Warn("accept failed", zap.Int("listener", int(l.Handle())), zap.Error(err))
			return nil
		}
		p.s.admit(fd, ip)
	}
	return nil
}

func (listenerPipeline) Send(*session.Session) error { return nil }

func (listenerPipeline) Parse(*session.Session) error { return nil }

// streamPipeline moves bytes between a socket and the session FIFOs. A nil
// parser defers to the server default at call time.
type streamPipeline struct {
	s      *Server
	parser session.Parser
}

func (p streamPipeline) Recv(sess *session.Session) error {
	if sess.EOF() {
		return nil
	}
	space := sess.ReadSpace()
	if len(space) == 0 {
		return nil
	}
	n, err := transport.Recv(int(sess.Handle()), space)
	switch {
	case errors.Is(err, api.ErrWouldBlock):
		return nil
	case errors.Is(err, api.ErrPeerClosed):
		sess.SetEOF()
		return nil
	case err != nil:
		return err
	}
	sess.Filled(n)
	sess.Touch(p.s.clock())
	p.s.metrics.AddIn(n)
	return nil
}

func (p streamPipeline) Send(sess *session.Session) error {
	pending := sess.PendingBytes()
	if len(pending) == 0 {
		return nil
	}
	n, err := transport.Send(int(sess.Handle()), pending)
	if errors.Is(err, api.ErrWouldBlock) {
		return nil
	}
	if err != nil {
		sess.DiscardPending()
		return err
	}
	sess.Drain(n)
	p.s.metrics.AddOut(n)
	return nil
}

func (p streamPipeline) Parse(sess *session.Session) error {
	parser := p.parser
	if parser == nil {
		parser = p.s.parser
	}
	if parser == nil {
		sess.Skip(sess.Rest())
		return nil
	}
	return parser.Parse(sess)
}

// Pipeline returns the socket pipeline bound to parser; nil follows the
// default parser.
func (s *Server) Pipeline(parser session.Parser) session.Pipeline {
	return streamPipeline{s: s, parser: parser}
}

// SetDefaultParser changes the parser of sessions on the default pipeline.
func (s *Server) SetDefaultParser(p session.Parser) { s.parser = p }

// admit runs the acceptance checks on a fresh descriptor and either binds it
// to a new inbound session or closes it.
func (s *Server) admit(fd int, ip uint32) {
	now := s.clock()
	h := api.Handle(fd)
	addr := api.FormatIPv4(ip)

	refuse := func(result, msg string, fields ...zap.Field) {
		transport.Close(fd)
		s.metrics.Accept(result)
		s.log.Info(msg, append(fields, zap.Int("fd", fd), zap.String("addr", addr))...)
	}

	if !h.Valid() || (s.reg.Limit() > 0 && h >= s.reg.Limit()) {
		refuse(metrics.AcceptLimit, "accepted descriptor outside handle range",
			zap.Int("limit", int(s.reg.Limit())))
		return
	}
	// The gate sees every attempt so paced floods still build history.
	if s.gate.Enabled() && !s.gate.Allow(ip, now) {
		refuse(metrics.AcceptRejected, "connection rejected by admission rules")
		return
	}
	if s.limiter != nil && !s.limiter.AllowN(now, 1) {
		refuse(metrics.AcceptPaced, "accept rate exceeded, connection dropped")
		return
	}
	transport.SetOptions(fd)
	sess, err := s.register(h, session.RoleInbound, s.Pipeline(nil))
	if err != nil {
		refuse(metrics.AcceptError, "inbound session setup failed", zap.Error(err))
		return
	}
	sess.SetPeerAddr(ip)
	s.metrics.Accept(metrics.AcceptOK)
	s.log.Debug("connection accepted", zap.Int("handle", int(h)), zap.String("addr", addr))
}

// register creates the session and subscribes its descriptor for reads.
func (s *Server) register(h api.Handle, role session.Role, p session.Pipeline) (*session.Session, error) {
	if p == nil {
		p = s.Pipeline(nil)
	}
	sess, err := s.reg.Create(h, role, p)
	if err != nil {
		return nil, err
	}
	if err := s.poller.Add(int(h)); err != nil {
		s.reg.Destroy(h)
		return nil, err
	}
	return sess, nil
}

// MakeListener binds addr:port (empty addr binds every interface) and
// returns the listener handle. Failures wrap api.ErrFatal.
func (s *Server) MakeListener(addr string, port int) (api.Handle, error) {
	ip, err := api.LookupIPv4(addr)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", api.ErrFatal, oops.In("server").With("addr", addr).Wrapf(err, "resolve listen address"))
	}
	fd, err := transport.Listen(ip, port, listenBacklog)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", api.ErrFatal, err)
	}
	h := api.Handle(fd)
	sess, err := s.register(h, session.RoleListener, listenerPipeline{s: s})
	if err != nil {
		transport.Close(fd)
		return 0, fmt.Errorf("%w: %w", api.ErrFatal,
			oops.In("server").With("addr", addr).With("port", port).Wrapf(err, "register listener"))
	}
	sess.DisableTimeout()
	bound, _ := transport.LocalPort(fd)
	s.log.Info("listening", zap.Int("handle", int(h)), zap.String("addr", api.FormatIPv4(ip)), zap.Int("port", bound))
	return h, nil
}

// LocalPort returns the port a listener is bound to.
func (s *Server) LocalPort(h api.Handle) (int, error) {
	return transport.LocalPort(int(h))
}

// ConnectOutbound dials addr:port, waiting at most timeout for the
// handshake (DefaultConnectTimeout when timeout is not positive), and binds
// the connection to the default pipeline.
func (s *Server) ConnectOutbound(addr string, port int, timeout time.Duration) (api.Handle, error) {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	errb := oops.In("server").With("addr", addr).With("port", port)
	ip, err := api.LookupIPv4(addr)
	if err != nil {
		return 0, errb.Wrapf(err, "resolve peer address")
	}
	fd, err := transport.Connect(ip, port, timeout)
	if err != nil {
		s.log.Warn("outbound connect failed", zap.String("addr", addr), zap.Int("port", port), zap.Error(err))
		return 0, err
	}
	h := api.Handle(fd)
	sess, err := s.register(h, session.RoleOutbound, s.Pipeline(nil))
	if err != nil {
		transport.Close(fd)
		return 0, errb.Wrapf(err, "register outbound session")
	}
	sess.SetPeerAddr(ip)
	s.log.Info("connected", zap.Int("handle", int(h)), zap.String("addr", api.FormatIPv4(ip)), zap.Int("port", port))
	return h, nil
}

// CreateSession adopts an already open non-blocking descriptor h under role
// with pipeline p (nil binds the default pipeline).
func (s *Server) CreateSession(h api.Handle, role session.Role, p session.Pipeline) (*session.Session, error) {
	return s.register(h, role, p)
}

// SetPeerLink switches h between peer-link and client policy.
func (s *Server) SetPeerLink(h api.Handle, on bool) error {
	sess, ok := s.reg.Get(h)
	if !ok || !h.Valid() {
		return api.ErrInvalidHandle
	}
	sess.SetPeerLink(on)
	return nil
}

// Close asks for h to be flushed and reclaimed by the loop.
func (s *Server) Close(h api.Handle) {
	if sess, ok := s.reg.Get(h); ok && h.Valid() {
		sess.SetEOF()
	}
}
