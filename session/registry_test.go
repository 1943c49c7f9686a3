package session_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/momentics/sockcore/api"
	"github.com/momentics/sockcore/pool"
	"github.com/momentics/sockcore/session"
)

type closerData struct{ closed int }

func (c *closerData) Close() error {
	c.closed++
	return nil
}

func TestRegistry_CreateValidatesHandles(t *testing.T) {
	r := session.NewRegistry(16)

	_, err := r.Create(0, session.RoleInbound, nil)
	assert.ErrorIs(t, err, api.ErrReservedHandle)
	_, err = r.Create(-3, session.RoleInbound, nil)
	assert.ErrorIs(t, err, api.ErrInvalidHandle)
	_, err = r.Create(16, session.RoleInbound, nil)
	assert.ErrorIs(t, err, api.ErrHandleLimit)

	s, err := r.Create(5, session.RoleInbound, nil)
	require.NoError(t, err)
	assert.Equal(t, api.Handle(5), s.Handle())
	assert.Equal(t, pool.ReadSize, s.ReadCap())
	assert.Equal(t, pool.WriteSize, s.WriteCap())

	_, err = r.Create(5, session.RoleInbound, nil)
	assert.ErrorIs(t, err, api.ErrHandleInUse)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_DestroyIsIdempotentAndHandlesReused(t *testing.T) {
	r := session.NewRegistry(0)
	s, err := r.Create(3, session.RoleInbound, nil)
	require.NoError(t, err)
	data := &closerData{}
	s.SetData(data)

	assert.True(t, r.Destroy(3))
	assert.False(t, r.Destroy(3))
	assert.False(t, r.Destroy(0), "vacuum survives")
	assert.Equal(t, 1, data.closed)
	assert.Zero(t, r.Len())

	_, ok := r.Get(3)
	assert.False(t, ok)
	_, err = r.Create(3, session.RoleOutbound, nil)
	assert.NoError(t, err)
}

func TestRegistry_RangeSkipsVacuumAndToleratesDestroy(t *testing.T) {
	r := session.NewRegistry(0)
	for _, h := range []api.Handle{2, 4, 6} {
		_, err := r.Create(h, session.RoleInbound, nil)
		require.NoError(t, err)
	}
	var seen []api.Handle
	r.Range(func(s *session.Session) bool {
		seen = append(seen, s.Handle())
		r.Destroy(s.Handle())
		return true
	})
	assert.Equal(t, []api.Handle{2, 4, 6}, seen)
	assert.Zero(t, r.Len())
	assert.NotNil(t, r.Vacuum())
}

func TestSession_AttentionOnCommitAndEOF(t *testing.T) {
	var flagged []api.Handle
	r := session.NewRegistry(0, session.WithAttention(func(h api.Handle) { flagged = append(flagged, h) }))
	s, err := r.Create(7, session.RoleInbound, nil)
	require.NoError(t, err)

	require.NoError(t, s.Write([]byte("ping")))
	assert.Equal(t, []byte("ping"), s.PendingBytes())
	s.SetEOF()
	s.SetEOF()
	assert.Equal(t, []api.Handle{7, 7}, flagged)
	assert.False(t, r.Active(7))
}

func TestSession_BackpressureSetsEOF(t *testing.T) {
	r := session.NewRegistry(0)
	s, err := r.Create(9, session.RoleInbound, nil)
	require.NoError(t, err)

	chunk := make([]byte, 20000)
	for !s.EOF() {
		err = s.Write(chunk)
		if err != nil {
			break
		}
	}
	assert.True(t, errors.Is(err, api.ErrBackpressure))
	assert.True(t, s.EOF())
	assert.LessOrEqual(t, s.Pending(), pool.MaxClientQueue)
}

func TestSession_SkipPastEndIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	r := session.NewRegistry(0, session.WithLogger(zap.New(core)))
	s, err := r.Create(1, session.RoleInbound, nil)
	require.NoError(t, err)

	n := copy(s.ReadSpace(), "abcde")
	s.Filled(n)
	s.Skip(5)
	assert.Zero(t, s.Rest())
	assert.Zero(t, logs.Len())

	s.Skip(0)
	assert.Zero(t, logs.Len())
	s.Skip(4)
	assert.Equal(t, 1, logs.FilterMessage("skipped past end of read buffer").Len())
}

func TestSession_PeerLinkAndKeepalive(t *testing.T) {
	now := time.Unix(1000, 0)
	r := session.NewRegistry(0, session.WithClock(func() time.Time { return now }))
	s, err := r.Create(2, session.RoleOutbound, nil)
	require.NoError(t, err)
	assert.Equal(t, now, s.LastActivity())

	s.SetPeerLink(true)
	assert.True(t, s.IsPeerLink())
	assert.Equal(t, pool.PeerLinkSize, s.ReadCap())
	assert.Equal(t, pool.PeerLinkSize, s.WriteCap())

	s.RequestKeepalive()
	assert.Equal(t, session.KeepaliveRequested, s.Keepalive())
	s.AckKeepalive()
	s.RequestKeepalive()
	assert.Equal(t, session.KeepaliveAcknowledged, s.Keepalive())
	s.Touch(now.Add(time.Second))
	assert.Equal(t, session.KeepaliveNone, s.Keepalive())

	s.DisableTimeout()
	assert.True(t, s.LastActivity().IsZero())
}

func TestSession_ReadStuck(t *testing.T) {
	r := session.NewRegistry(0)
	s, err := r.Create(4, session.RoleInbound, nil)
	require.NoError(t, err)
	s.Filled(len(s.ReadSpace()))
	assert.True(t, s.ReadStuck())
	s.Skip(1)
	s.Compact()
	assert.False(t, s.ReadStuck())
}

func TestVacuum_AcceptsLargeWrites(t *testing.T) {
	r := session.NewRegistry(0)
	v := r.Vacuum()
	require.NoError(t, v.Write(make([]byte, 60000)))
	require.NoError(t, v.Write(make([]byte, 60000)))
	assert.Equal(t, 120000, v.Pending())
	v.DiscardPending()
	assert.Zero(t, v.Pending())
}
