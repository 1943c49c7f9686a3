// File: session/registry.go
// Package session
// Author: momentics <momentics@gmail.com>
//
// Slot-map registry keyed by small integer handles. Slot 0 holds the vacuum
// pseudo-session, which swallows writes aimed at peers that are already gone.

package session

import (
	"time"

	"go.uber.org/zap"

	"github.com/momentics/sockcore/api"
	"github.com/momentics/sockcore/pool"
)

// Registry owns every session and its buffers. It is not safe for
// concurrent use; the reactor thread is its single writer.
type Registry struct {
	slots []*Session
	count int
	limit api.Handle

	pool      *pool.BytePool
	log       *zap.Logger
	clock     api.Clock
	maxPacket int
	notify    func(api.Handle)
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// WithClock sets the time source used for creation and activity stamps.
func WithClock(c api.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithBytePool shares a buffer pool.
func WithBytePool(p *pool.BytePool) Option {
	return func(r *Registry) { r.pool = p }
}

// WithMaxClientPacket bounds single outbound client packets.
func WithMaxClientPacket(n int) Option {
	return func(r *Registry) { r.maxPacket = n }
}

// WithAttention registers the hook told about sessions with pending writes
// or a fresh eof.
func WithAttention(fn func(api.Handle)) Option {
	return func(r *Registry) { r.notify = fn }
}

// NewRegistry creates a registry accepting handles below limit and installs
// the vacuum session at handle 0.
func NewRegistry(limit api.Handle, opts ...Option) *Registry {
	r := &Registry{
		limit:     limit,
		log:       zap.NewNop(),
		clock:     time.Now,
		maxPacket: pool.DefaultMaxClientPacket,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.pool == nil {
		r.pool = pool.NewBytePool()
	}
	v := r.newSession(0, RolePseudo, nil)
	v.peerLink = true
	v.policy = pool.PeerLinkPolicy()
	v.rfifo.Resize(pool.PeerLinkSize)
	v.wfifo.Resize(pool.PeerLinkSize)
	v.lastActivity = time.Time{}
	r.slots = []*Session{v}
	return r
}

func (r *Registry) newSession(h api.Handle, role Role, p Pipeline) *Session {
	now := r.clock()
	s := &Session{
		handle:       h,
		role:         role,
		policy:       pool.ClientPolicy(r.maxPacket),
		pipeline:     p,
		lastActivity: now,
		created:      now,
		reg:          r,
	}
	s.rfifo.Init(r.pool, pool.ReadSize)
	s.wfifo.Init(r.pool, pool.WriteSize)
	return s
}

// Create allocates default-size FIFOs for handle h and binds p.
func (r *Registry) Create(h api.Handle, role Role, p Pipeline) (*Session, error) {
	switch {
	case h == 0:
		return nil, api.ErrReservedHandle
	case h < 0:
		return nil, api.ErrInvalidHandle
	case r.limit > 0 && h >= r.limit:
		return nil, api.ErrHandleLimit
	}
	for int(h) >= len(r.slots) {
		r.slots = append(r.slots, nil)
	}
	if r.slots[h] != nil {
		return nil, api.ErrHandleInUse
	}
	s := r.newSession(h, role, p)
	r.slots[h] = s
	r.count++
	r.log.Debug("session created", zap.Int("handle", int(h)), zap.Stringer("role", role))
	return s, nil
}

// Destroy releases the session's buffers and side-data. It is a no-op on an
// empty slot and never touches the vacuum session.
func (r *Registry) Destroy(h api.Handle) bool {
	if h <= 0 || int(h) >= len(r.slots) || r.slots[h] == nil {
		return false
	}
	s := r.slots[h]
	r.slots[h] = nil
	r.count--
	s.release()
	r.log.Debug("session destroyed", zap.Int("handle", int(h)))
	return true
}

// Get returns the session at h.
func (r *Registry) Get(h api.Handle) (*Session, bool) {
	if h < 0 || int(h) >= len(r.slots) || r.slots[h] == nil {
		return nil, false
	}
	return r.slots[h], true
}

// Active reports a live session that is not closing.
func (r *Registry) Active(h api.Handle) bool {
	s, ok := r.Get(h)
	return ok && h > 0 && !s.eof
}

// Vacuum returns the handle 0 pseudo-session.
func (r *Registry) Vacuum() *Session { return r.slots[0] }

// Range calls fn for each real session in handle order until fn returns
// false. fn may destroy the session it is given.
func (r *Registry) Range(fn func(*Session) bool) {
	for h := 1; h < len(r.slots); h++ {
		s := r.slots[h]
		if s == nil {
			continue
		}
		if !fn(s) {
			return
		}
	}
}

// Len returns the number of real sessions.
func (r *Registry) Len() int { return r.count }

// Limit returns the exclusive handle bound, 0 when unbounded.
func (r *Registry) Limit() api.Handle { return r.limit }

// SetLimit changes the handle bound for future creations.
func (r *Registry) SetLimit(l api.Handle) { r.limit = l }

// SetMaxClientPacket changes the client packet bound, live client sessions
// included.
func (r *Registry) SetMaxClientPacket(n int) {
	r.maxPacket = n
	for _, s := range r.slots {
		if s != nil && !s.peerLink {
			s.policy.MaxPacket = n
		}
	}
}

// Pool returns the buffer pool.
func (r *Registry) Pool() *pool.BytePool { return r.pool }

// Now returns the registry clock reading.
func (r *Registry) Now() time.Time { return r.clock() }

func (r *Registry) attention(h api.Handle) {
	if h > 0 && r.notify != nil {
		r.notify(h)
	}
}
