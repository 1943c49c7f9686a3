// File: server/stats.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Periodic throughput display and the session census published to probes.

package server

import (
	"time"

	"go.uber.org/zap"

	"github.com/momentics/sockcore/internal/timer"
	"github.com/momentics/sockcore/session"
)

type statsWindow struct {
	at      time.Time
	in, out uint64
}

// Throughput is one display sample.
type Throughput struct {
	InKBps    float64
	OutKBps   float64
	QueuedIn  int64
	QueuedOut int64
	Sessions  int64
}

func (s *Server) scheduleStats() {
	if s.statsID != 0 {
		s.timers.Cancel(s.statsID)
		s.statsID = 0
	}
	if !s.cfg.ShowStats {
		return
	}
	snap := s.metrics.Snapshot()
	s.stats = statsWindow{at: s.clock(), in: snap.BytesIn, out: snap.BytesOut}
	s.statsID = s.AddInterval(s.cfg.StatsInterval, s.cfg.StatsInterval, func(_ timer.ID, now time.Time) {
		t := s.sample(now)
		s.log.Info("socket throughput",
			zap.Float64("in_kbps", t.InKBps),
			zap.Float64("out_kbps", t.OutKBps),
			zap.Int64("queued_in", t.QueuedIn),
			zap.Int64("queued_out", t.QueuedOut),
			zap.Int64("sessions", t.Sessions))
	})
}

// sample computes rates since the previous sample and starts a new window.
func (s *Server) sample(now time.Time) Throughput {
	snap := s.metrics.Snapshot()
	t := Throughput{QueuedIn: snap.QueuedIn, QueuedOut: snap.QueuedOut, Sessions: snap.Sessions}
	if secs := now.Sub(s.stats.at).Seconds(); secs > 0 {
		t.InKBps = float64(snap.BytesIn-s.stats.in) / 1024 / secs
		t.OutKBps = float64(snap.BytesOut-s.stats.out) / 1024 / secs
	}
	s.stats = statsWindow{at: now, in: snap.BytesIn, out: snap.BytesOut}
	return t
}

// Census counts live sessions after an iteration.
type Census struct {
	Listeners int `json:"listeners"`
	Inbound   int `json:"inbound"`
	Outbound  int `json:"outbound"`
	PeerLinks int `json:"peer_links"`
	Closing   int `json:"closing"`
	Tracked   int `json:"admission_tracked"`
	Attention int `json:"shortlist"`
	Timers    int `json:"timers"`
}

func (c *Census) count(sess *session.Session) {
	switch sess.Role() {
	case session.RoleListener:
		c.Listeners++
	case session.RoleInbound:
		c.Inbound++
	case session.RoleOutbound:
		c.Outbound++
	}
	if sess.IsPeerLink() {
		c.PeerLinks++
	}
	if sess.EOF() {
		c.Closing++
	}
}

// publishCensus hands the counts to the probes; nothing happens without them.
func (s *Server) publishCensus(c Census) {
	if s.census == nil {
		return
	}
	c.Tracked = s.gate.Len()
	c.Attention = s.short.Len()
	c.Timers = s.timers.Len()
	s.census(c)
}
