//go:build linux

package server_test

import (
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/momentics/sockcore/admission"
	"github.com/momentics/sockcore/api"
	"github.com/momentics/sockcore/control"
	"github.com/momentics/sockcore/internal/timer"
	"github.com/momentics/sockcore/metrics"
	"github.com/momentics/sockcore/server"
	"github.com/momentics/sockcore/session"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type harness struct {
	srv   *server.Server
	clock *fakeClock
	logs  *observer.ObservedLogs
	lh    api.Handle
	port  int
}

func newHarness(t *testing.T, cfg control.Config, parser session.Parser, opts ...server.ServerOption) *harness {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	core, logs := observer.New(zapcore.DebugLevel)
	opts = append([]server.ServerOption{
		server.WithLogger(zap.New(core)),
		server.WithClock(clock.Now),
		server.WithDefaultParser(parser),
	}, opts...)
	srv, err := server.New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(srv.Shutdown)

	lh, err := srv.MakeListener("127.0.0.1", 0)
	require.NoError(t, err)
	port, err := srv.LocalPort(lh)
	require.NoError(t, err)
	return &harness{srv: srv, clock: clock, logs: logs, lh: lh, port: port}
}

func (h *harness) addr() string { return net.JoinHostPort("127.0.0.1", strconv.Itoa(h.port)) }

func (h *harness) pump(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		require.True(t, time.Now().Before(deadline), "condition not reached")
		require.NoError(t, h.srv.Iterate(5*time.Millisecond))
	}
}

func (h *harness) settle(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, h.srv.Iterate(time.Millisecond))
	}
}

// dial connects a client and pumps until the server holds its session.
func (h *harness) dial(t *testing.T) net.Conn {
	t.Helper()
	before := h.srv.Registry().Len()
	c, err := net.Dial("tcp", h.addr())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	h.pump(t, func() bool { return h.srv.Registry().Len() > before })
	return c
}

func (h *harness) inbound(t *testing.T) *session.Session {
	t.Helper()
	var found *session.Session
	h.srv.Registry().Range(func(s *session.Session) bool {
		if s.Role() == session.RoleInbound {
			found = s
			return false
		}
		return true
	})
	require.NotNil(t, found)
	return found
}

func readAsync(c net.Conn, n int) <-chan []byte {
	out := make(chan []byte, 1)
	go func() {
		buf := make([]byte, n)
		_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
		k, _ := io.ReadFull(c, buf)
		out <- buf[:k]
	}()
	return out
}

func waitClosed(c net.Conn) <-chan error {
	out := make(chan error, 1)
	go func() {
		_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
		buf := make([]byte, 1<<16)
		for {
			if _, err := c.Read(buf); err != nil {
				out <- err
				return
			}
		}
	}()
	return out
}

var echo = session.ParserFunc(func(s *session.Session) error {
	if n := s.Rest(); n > 0 {
		if err := s.Write(s.Unread()); err != nil {
			return err
		}
		s.Skip(n)
	}
	return nil
})

func testConfig() control.Config {
	cfg := control.Defaults()
	cfg.StallTime = 3 * time.Second
	cfg.MaxHandles = 0
	return cfg
}

func TestServer_EchoEndToEnd(t *testing.T) {
	for _, shortlist := range []bool{true, false} {
		t.Run("shortlist="+strconv.FormatBool(shortlist), func(t *testing.T) {
			cfg := testConfig()
			cfg.Shortlist = shortlist
			h := newHarness(t, cfg, echo)
			c := h.dial(t)

			got := readAsync(c, 5)
			_, err := c.Write([]byte("hello"))
			require.NoError(t, err)

			var reply []byte
			h.pump(t, func() bool {
				select {
				case reply = <-got:
					return true
				default:
					return false
				}
			})
			assert.Equal(t, "hello", string(reply))
			snap := h.srv.Metrics().Snapshot()
			assert.Equal(t, uint64(5), snap.BytesIn)
			assert.Equal(t, uint64(5), snap.BytesOut)
		})
	}
}

func TestServer_StallClosesClient(t *testing.T) {
	var eofParses int
	parser := session.ParserFunc(func(s *session.Session) error {
		if s.EOF() {
			eofParses++
		}
		return nil
	})
	h := newHarness(t, testConfig(), parser)
	c := h.dial(t)
	closed := waitClosed(c)

	h.clock.Advance(2 * time.Second)
	h.settle(t, 3)
	assert.Equal(t, 2, h.srv.Registry().Len())

	h.clock.Advance(2 * time.Second)
	h.settle(t, 3)
	assert.Equal(t, 1, h.srv.Registry().Len(), "only the listener remains")
	assert.Equal(t, 1, eofParses)
	assert.Equal(t, 1, h.logs.FilterMessage("session timed out").Len())
	assert.Equal(t, 1, h.logs.FilterMessage("session closed").Len())
	assert.Error(t, <-closed)
}

func TestServer_PeerLinkGetsKeepalive(t *testing.T) {
	peer, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer peer.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := peer.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	h := newHarness(t, testConfig(), nil)
	port := peer.Addr().(*net.TCPAddr).Port
	ph, err := h.srv.ConnectOutbound("127.0.0.1", port, time.Second)
	require.NoError(t, err)
	require.NoError(t, h.srv.SetPeerLink(ph, true))
	remote := <-accepted
	defer remote.Close()

	h.clock.Advance(5 * time.Second)
	h.settle(t, 2)
	sess, ok := h.srv.Session(ph)
	require.True(t, ok, "peer links are not closed on stall")
	assert.False(t, sess.EOF())
	assert.Equal(t, session.KeepaliveRequested, sess.Keepalive())

	sess.AckKeepalive()
	h.settle(t, 1)
	assert.Equal(t, session.KeepaliveAcknowledged, sess.Keepalive())

	_, err = remote.Write([]byte("pong"))
	require.NoError(t, err)
	h.pump(t, func() bool { return sess.Keepalive() == session.KeepaliveNone })
	assert.Equal(t, h.clock.Now(), sess.LastActivity())
}

func TestServer_OutboundReceivesCommittedBytes(t *testing.T) {
	var got []byte
	restAfter, restAfterEmpty := -1, -1
	parser := session.ParserFunc(func(s *session.Session) error {
		switch s.Role() {
		case session.RoleInbound:
			if s.Data() == nil {
				s.SetData(true)
				copy(s.WriteHead(5), "hello")
				return s.WriteSet(5)
			}
		case session.RoleOutbound:
			if got == nil && s.Rest() >= 5 {
				got = append([]byte(nil), s.Unread()...)
				s.Skip(s.Rest())
				restAfter = s.Rest()
				s.Skip(0)
				restAfterEmpty = s.Rest()
			}
		}
		return nil
	})
	h := newHarness(t, testConfig(), parser)

	oh, err := h.srv.ConnectOutbound("127.0.0.1", h.port, time.Second)
	require.NoError(t, err)
	h.pump(t, func() bool { return got != nil })
	h.settle(t, 2)

	assert.Equal(t, "hello", string(got))
	assert.Equal(t, 0, restAfter)
	assert.Equal(t, 0, restAfterEmpty)
	out, ok := h.srv.Session(oh)
	require.True(t, ok)
	assert.False(t, out.EOF())
	assert.Equal(t, 0, out.Rest())
	assert.Equal(t, 0, h.logs.FilterMessage("skipped past end of read buffer").Len())
	assert.Equal(t, 0, h.logs.FilterMessage("parse failed, closing").Len())
	assert.Equal(t, 3, h.srv.Registry().Len(), "listener, inbound and outbound")
}

func TestServer_ConnectOutboundDefaultsTimeout(t *testing.T) {
	h := newHarness(t, testConfig(), echo)
	for _, timeout := range []time.Duration{0, -time.Second} {
		oh, err := h.srv.ConnectOutbound("127.0.0.1", h.port, timeout)
		require.NoError(t, err, timeout.String())
		assert.True(t, oh.Valid())
	}
}

func TestServer_ProbesPublishCensus(t *testing.T) {
	probes := control.NewProbes()
	cfg := testConfig()
	cfg.EnableIPRules = true
	h := newHarness(t, cfg, echo, server.WithProbes(probes))
	h.dial(t)
	h.settle(t, 1)

	state := probes.Dump()
	assert.Equal(t, h.srv.ID().String(), state["server.id"])
	census, ok := state["server.sessions"].(server.Census)
	require.True(t, ok)
	assert.Equal(t, 1, census.Listeners)
	assert.Equal(t, 1, census.Inbound)
	assert.Equal(t, 0, census.Closing)
	assert.Equal(t, 1, census.Tracked)
	assert.Positive(t, census.Timers)
}

func TestServer_PeerCloseReclaimedOnce(t *testing.T) {
	h := newHarness(t, testConfig(), echo)
	c := h.dial(t)
	require.NoError(t, c.Close())

	h.pump(t, func() bool { return h.srv.Registry().Len() == 1 })
	h.settle(t, 3)
	assert.Equal(t, 1, h.logs.FilterMessage("session closed").Len())
}

func TestServer_BackpressureReclaimedOnce(t *testing.T) {
	flood := session.ParserFunc(func(s *session.Session) error {
		chunk := make([]byte, 16000)
		for !s.EOF() {
			if err := s.Write(chunk); err != nil {
				return err
			}
		}
		return nil
	})
	h := newHarness(t, testConfig(), flood)
	c, err := net.Dial("tcp", h.addr())
	require.NoError(t, err)
	defer c.Close()

	h.pump(t, func() bool { return h.logs.FilterMessage("session closed").Len() > 0 })
	h.settle(t, 3)
	assert.Equal(t, 1, h.srv.Registry().Len())
	assert.Equal(t, 1, h.logs.FilterMessage("write queue ceiling exceeded").Len())
	closedLogs := h.logs.FilterMessage("session closed").All()
	require.Len(t, closedLogs, 1)
	assert.Equal(t, metrics.CloseBackpressure, closedLogs[0].ContextMap()["reason"])
}

func TestServer_AdmissionRejects(t *testing.T) {
	cfg := testConfig()
	cfg.EnableIPRules = true
	deny, err := admission.ParseRule("all")
	require.NoError(t, err)
	cfg.Deny = []admission.Rule{deny}

	h := newHarness(t, cfg, echo)
	c, err := net.Dial("tcp", h.addr())
	require.NoError(t, err)
	defer c.Close()
	closed := waitClosed(c)

	h.pump(t, func() bool { return h.logs.FilterMessage("connection rejected by admission rules").Len() == 1 })
	assert.Equal(t, 1, h.srv.Registry().Len())
	assert.Error(t, <-closed)
	_, st := h.srv.Gate().Lookup(0x7F000001)
	assert.Equal(t, admission.StateActive, st)
}

func TestServer_PacedAttemptsStillTracked(t *testing.T) {
	cfg := testConfig()
	cfg.EnableIPRules = true
	cfg.DDoSCount = 3
	cfg.AcceptRate = 0.001
	cfg.AcceptBurst = 1
	h := newHarness(t, cfg, echo)

	for i := 0; i < 4; i++ {
		c, err := net.Dial("tcp", h.addr())
		require.NoError(t, err)
		defer c.Close()
	}
	handled := func() int {
		return h.logs.FilterMessage("connection accepted").Len() +
			h.logs.FilterMessage("accept rate exceeded, connection dropped").Len() +
			h.logs.FilterMessage("connection rejected by admission rules").Len()
	}
	h.pump(t, func() bool { return handled() == 4 })

	assert.Equal(t, 1, h.logs.FilterMessage("connection accepted").Len())
	assert.Equal(t, 2, h.logs.FilterMessage("accept rate exceeded, connection dropped").Len())
	assert.Equal(t, 1, h.logs.FilterMessage("connection rejected by admission rules").Len())
	e, st := h.srv.Gate().Lookup(0x7F000001)
	assert.Equal(t, 4, e.Hits)
	assert.Equal(t, admission.StateFlagged, st)
}

func TestServer_ReadBufferFullCloses(t *testing.T) {
	hoard := session.ParserFunc(func(*session.Session) error { return nil })
	h := newHarness(t, testConfig(), hoard)
	c := h.dial(t)
	_, err := c.Write(make([]byte, 4096))
	require.NoError(t, err)

	h.pump(t, func() bool { return h.srv.Registry().Len() == 1 })
	assert.Equal(t, 1, h.logs.FilterMessage("read buffer full with nothing parsed, closing").Len())
}

func TestServer_VacuumWritesDiscarded(t *testing.T) {
	h := newHarness(t, testConfig(), echo)
	v := h.srv.Registry().Vacuum()
	require.NoError(t, v.Write([]byte("nobody listens")))
	h.settle(t, 1)
	assert.Zero(t, v.Pending())
}

func TestServer_ZeroLengthCommitSendsNothing(t *testing.T) {
	noop := session.ParserFunc(func(s *session.Session) error {
		s.WriteHead(8)
		if err := s.WriteSet(0); err != nil {
			return err
		}
		s.Skip(s.Rest())
		return nil
	})
	h := newHarness(t, testConfig(), noop)
	c := h.dial(t)
	_, err := c.Write([]byte("x"))
	require.NoError(t, err)
	h.pump(t, func() bool { return h.srv.Metrics().Snapshot().BytesIn == 1 })
	h.settle(t, 2)
	assert.Zero(t, h.srv.Metrics().Snapshot().BytesOut)
	assert.Zero(t, h.inbound(t).Pending())
}

func TestServer_TimersAndReload(t *testing.T) {
	var debug []bool
	h := newHarness(t, testConfig(), echo, server.WithDebugSwitch(func(on bool) { debug = append(debug, on) }))

	fired := 0
	h.srv.AddTimer(100*time.Millisecond, func(timer.ID, time.Time) { fired++ })
	require.NoError(t, h.srv.Step())
	assert.Zero(t, fired)
	h.clock.Advance(200 * time.Millisecond)
	require.NoError(t, h.srv.Step())
	assert.Equal(t, 1, fired)

	next := testConfig()
	next.Debug = true
	next.DDoSCount = 2
	h.srv.Reload(next)
	require.NoError(t, h.srv.Step())
	assert.Equal(t, []bool{false, true}, debug)
	assert.Equal(t, 2, h.srv.Gate().Config().Threshold)
	assert.True(t, h.srv.Config().Debug)
}

func TestServer_ListenerFailureIsFatal(t *testing.T) {
	h := newHarness(t, testConfig(), echo)
	_, err := h.srv.MakeListener("127.0.0.1", h.port)
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrFatal)
}

func TestServer_ShutdownClosesEverything(t *testing.T) {
	h := newHarness(t, testConfig(), echo)
	c := h.dial(t)
	closed := waitClosed(c)
	h.srv.Shutdown()
	h.srv.Shutdown()
	assert.Zero(t, h.srv.Registry().Len())
	assert.ErrorIs(t, h.srv.Iterate(0), api.ErrSessionClosed)
	assert.Error(t, <-closed)
}
