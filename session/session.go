// File: session/session.go
// Package session
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-connection record: FIFOs, flags, activity tick and the bound pipeline.
// Sessions are owned by a Registry and touched only from the reactor thread.

package session

import (
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/sockcore/api"
	"github.com/momentics/sockcore/pool"
)

// Role tags what a session was created for.
type Role uint8

const (
	RolePseudo Role = iota
	RoleListener
	RoleInbound
	RoleOutbound
)

func (r Role) String() string {
	switch r {
	case RolePseudo:
		return "pseudo"
	case RoleListener:
		return "listener"
	case RoleInbound:
		return "inbound"
	case RoleOutbound:
		return "outbound"
	}
	return "unknown"
}

// Keepalive is the probe state of a peer link.
type Keepalive uint8

const (
	KeepaliveNone Keepalive = iota
	// KeepaliveRequested is set by the stall check; protocol code should send a probe.
	KeepaliveRequested
	// KeepaliveAcknowledged is set by protocol code once the probe went out.
	KeepaliveAcknowledged
)

// Pipeline is the recv/send/parse triple bound to a session at creation.
type Pipeline interface {
	Recv(s *Session) error
	Send(s *Session) error
	Parse(s *Session) error
}

// Parser is the protocol-owned part of a pipeline.
type Parser interface {
	Parse(s *Session) error
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(s *Session) error

// Parse calls f(s).
func (f ParserFunc) Parse(s *Session) error { return f(s) }

// Session is one live, accepting or connecting endpoint.
type Session struct {
	handle api.Handle
	role   Role

	rfifo  pool.ReadFIFO
	wfifo  pool.WriteFIFO
	policy pool.Policy

	addr      uint32
	eof       bool
	peerLink  bool
	keepalive Keepalive

	lastActivity time.Time
	created      time.Time

	pipeline Pipeline
	data     any
	reg      *Registry
}

// Handle returns the session handle.
func (s *Session) Handle() api.Handle { return s.handle }

// Role returns the creation role.
func (s *Session) Role() Role { return s.role }

// PeerAddr returns the remote IPv4 address, 0 for listeners and pseudo sessions.
func (s *Session) PeerAddr() uint32 { return s.addr }

// SetPeerAddr records the remote address.
func (s *Session) SetPeerAddr(ip uint32) { s.addr = ip }

// Created returns the creation time.
func (s *Session) Created() time.Time { return s.created }

// Pipeline returns the bound pipeline.
func (s *Session) Pipeline() Pipeline { return s.pipeline }

// SetPipeline rebinds the pipeline, e.g. once a handshake picked a protocol.
func (s *Session) SetPipeline(p Pipeline) { s.pipeline = p }

// Data returns protocol side-data.
func (s *Session) Data() any { return s.data }

// SetData attaches protocol side-data. An io.Closer is closed on destroy.
func (s *Session) SetData(v any) { s.data = v }

// EOF reports whether the session is closing.
func (s *Session) EOF() bool { return s.eof }

// SetEOF flags the session for reclamation. No further reads happen.
func (s *Session) SetEOF() {
	if s.eof {
		return
	}
	s.eof = true
	s.reg.attention(s.handle)
}

// IsPeerLink reports whether the session links two processes of this system.
func (s *Session) IsPeerLink() bool { return s.peerLink }

// SetPeerLink switches the session to peer-link policy and grows both FIFOs
// to the peer link size.
func (s *Session) SetPeerLink(on bool) {
	s.peerLink = on
	if on {
		s.policy = pool.PeerLinkPolicy()
		s.rfifo.Resize(pool.PeerLinkSize)
		s.wfifo.Resize(pool.PeerLinkSize)
		return
	}
	s.policy = pool.ClientPolicy(s.reg.maxPacket)
	s.keepalive = KeepaliveNone
}

// Keepalive returns the probe state.
func (s *Session) Keepalive() Keepalive { return s.keepalive }

// RequestKeepalive asks protocol code to probe the peer. An acknowledged
// request is left alone so the probe is not resent.
func (s *Session) RequestKeepalive() {
	if s.keepalive != KeepaliveAcknowledged {
		s.keepalive = KeepaliveRequested
	}
}

// AckKeepalive records that the probe was sent.
func (s *Session) AckKeepalive() { s.keepalive = KeepaliveAcknowledged }

// LastActivity returns the last successful receive time. Zero means the
// stall check skips the session.
func (s *Session) LastActivity() time.Time { return s.lastActivity }

// Touch records activity at now and clears any keepalive request.
func (s *Session) Touch(now time.Time) {
	s.lastActivity = now
	s.keepalive = KeepaliveNone
}

// DisableTimeout exempts the session from the stall check.
func (s *Session) DisableTimeout() { s.lastActivity = time.Time{} }

// Unread returns the unconsumed received bytes.
func (s *Session) Unread() []byte { return s.rfifo.Bytes() }

// Rest returns the number of unconsumed bytes.
func (s *Session) Rest() int { return s.rfifo.Rest() }

// Reader returns a bounds-checked cursor over the unread region.
func (s *Session) Reader() pool.Reader { return pool.NewReader(s.rfifo.Bytes()) }

// Skip consumes n bytes. Requests past the end are clamped and logged since
// they point at a desynchronised parser.
func (s *Session) Skip(n int) {
	if _, clamped := s.rfifo.Skip(n); clamped {
		s.reg.log.Warn("skipped past end of read buffer",
			zap.Int("handle", int(s.handle)),
			zap.Int("requested", n),
			zap.Int("available", s.rfifo.Rest()))
	}
}

// Compact shifts unread bytes to the buffer start.
func (s *Session) Compact() { s.rfifo.Compact() }

// ReadSpace returns the free tail a receive fills.
func (s *Session) ReadSpace() []byte { return s.rfifo.Space() }

// Filled marks n bytes of ReadSpace as received.
func (s *Session) Filled(n int) { s.rfifo.Fill(n) }

// ReadCap returns the read FIFO capacity.
func (s *Session) ReadCap() int { return s.rfifo.Cap() }

// ReadStuck reports a default-sized read FIFO that is full with nothing
// consumed: the peer sent a packet larger than anything the parser can take.
func (s *Session) ReadStuck() bool {
	return s.rfifo.Full() && s.rfifo.Pos() == 0 && s.rfifo.Cap() == pool.ReadSize
}

// WriteHead guarantees n free bytes and returns them.
func (s *Session) WriteHead(n int) []byte {
	return s.wfifo.Reserve(n, s.policy.Floor)
}

// Writer returns a bounds-checked cursor over n reserved bytes.
func (s *Session) Writer(n int) pool.Writer { return pool.NewWriter(s.WriteHead(n)) }

// WriteSet commits n bytes placed through WriteHead.
func (s *Session) WriteSet(n int) error {
	if n == 0 {
		s.reg.log.Debug("zero-length write commit", zap.Int("handle", int(s.handle)))
		return nil
	}
	err := s.wfifo.Commit(n, s.policy)
	switch {
	case err == nil:
		s.reg.attention(s.handle)
		return nil
	case errors.Is(err, api.ErrPacketDropped):
		s.reg.log.Error("dropped oversized client packet",
			zap.Int("handle", int(s.handle)),
			zap.Int("len", n),
			zap.Int("max", s.policy.MaxPacket))
	case errors.Is(err, api.ErrBackpressure):
		s.reg.log.Warn("write queue ceiling exceeded",
			zap.Int("handle", int(s.handle)),
			zap.Int("pending", s.wfifo.Len()),
			zap.Int("len", n),
			zap.String("addr", api.FormatIPv4(s.addr)))
		s.SetEOF()
	}
	return err
}

// Write copies p into the write FIFO and commits it.
func (s *Session) Write(p []byte) error {
	copy(s.WriteHead(len(p)), p)
	return s.WriteSet(len(p))
}

// Pending returns the queued-unsent length.
func (s *Session) Pending() int { return s.wfifo.Len() }

// PendingBytes returns the queued-unsent region.
func (s *Session) PendingBytes() []byte { return s.wfifo.Bytes() }

// Drain removes n sent bytes from the write FIFO front.
func (s *Session) Drain(n int) { s.wfifo.Drain(n) }

// DiscardPending drops every queued byte.
func (s *Session) DiscardPending() { s.wfifo.Discard() }

// WriteCap returns the write FIFO capacity.
func (s *Session) WriteCap() int { return s.wfifo.Cap() }

// Resize sets explicit FIFO capacities for bulk payloads. Zero leaves a side
// unchanged.
func (s *Session) Resize(readCap, writeCap int) {
	if readCap > 0 {
		s.rfifo.Resize(readCap)
	}
	if writeCap > 0 {
		s.wfifo.Resize(writeCap)
	}
}

func (s *Session) release() {
	s.rfifo.Release()
	s.wfifo.Release()
	if c, ok := s.data.(io.Closer); ok {
		if err := c.Close(); err != nil {
			s.reg.log.Warn("session data close failed", zap.Int("handle", int(s.handle)), zap.Error(err))
		}
	}
	s.data = nil
	s.pipeline = nil
}
