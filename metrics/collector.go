// Package metrics
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Prometheus instrumentation for the socket core. Counters are also
// mirrored into atomics so the periodic stats display and debug probes can
// read them from any goroutine without scraping.

package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Accept outcomes.
const (
	AcceptOK       = "accepted"
	AcceptRejected = "rejected"
	AcceptLimit    = "handle_limit"
	AcceptPaced    = "paced"
	AcceptError    = "error"
)

// Close reasons.
const (
	CloseEOF          = "eof"
	CloseStall        = "stall"
	CloseBackpressure = "backpressure"
	CloseReadStuck    = "read_stuck"
	CloseShutdown     = "shutdown"
)

// Snapshot is a point-in-time copy of the mirrored values.
type Snapshot struct {
	BytesIn   uint64
	BytesOut  uint64
	QueuedIn  int64
	QueuedOut int64
	Sessions  int64
}

// Collector owns the socket core metric set.
type Collector struct {
	bytesIn   prometheus.Counter
	bytesOut  prometheus.Counter
	queuedIn  prometheus.Gauge
	queuedOut prometheus.Gauge
	sessions  prometheus.Gauge
	accepts   *prometheus.CounterVec
	closes    *prometheus.CounterVec
	reloads   prometheus.Counter

	in, out         atomic.Uint64
	qin, qout, sess atomic.Int64
}

// NewCollector builds the metric set and registers it with reg when reg is
// not nil. Duplicate registration is ignored.
func NewCollector(reg prometheus.Registerer, namespace string) *Collector {
	if namespace == "" {
		namespace = "sockcore"
	}
	c := &Collector{
		bytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "received_bytes_total",
			Help: "Bytes read from sockets.",
		}),
		bytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sent_bytes_total",
			Help: "Bytes written to sockets.",
		}),
		queuedIn: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "queued_read_bytes",
			Help: "Bytes received but not yet consumed by parsers.",
		}),
		queuedOut: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "queued_write_bytes",
			Help: "Bytes committed but not yet sent.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sessions",
			Help: "Live sessions, listeners included.",
		}),
		accepts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "accepts_total",
			Help: "Inbound connection attempts by outcome.",
		}, []string{"result"}),
		closes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "closes_total",
			Help: "Reclaimed sessions by reason.",
		}, []string{"reason"}),
		reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "config_reloads_total",
			Help: "Configuration reloads applied.",
		}),
	}
	if reg != nil {
		for _, col := range []prometheus.Collector{
			c.bytesIn, c.bytesOut, c.queuedIn, c.queuedOut, c.sessions, c.accepts, c.closes, c.reloads,
		} {
			_ = reg.Register(col)
		}
	}
	return c
}

// AddIn records received bytes.
func (c *Collector) AddIn(n int) {
	if n > 0 {
		c.in.Add(uint64(n))
		c.bytesIn.Add(float64(n))
	}
}

// AddOut records sent bytes.
func (c *Collector) AddOut(n int) {
	if n > 0 {
		c.out.Add(uint64(n))
		c.bytesOut.Add(float64(n))
	}
}

// SetQueued publishes the buffered byte totals.
func (c *Collector) SetQueued(in, out int) {
	c.qin.Store(int64(in))
	c.qout.Store(int64(out))
	c.queuedIn.Set(float64(in))
	c.queuedOut.Set(float64(out))
}

// SetSessions publishes the live session count.
func (c *Collector) SetSessions(n int) {
	c.sess.Store(int64(n))
	c.sessions.Set(float64(n))
}

// Accept counts one inbound attempt.
func (c *Collector) Accept(result string) { c.accepts.WithLabelValues(result).Inc() }

// Close counts one reclaimed session.
func (c *Collector) Close(reason string) { c.closes.WithLabelValues(reason).Inc() }

// Reload counts one applied configuration.
func (c *Collector) Reload() { c.reloads.Inc() }

// Snapshot reads the mirrored values.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		BytesIn:   c.in.Load(),
		BytesOut:  c.out.Load(),
		QueuedIn:  c.qin.Load(),
		QueuedOut: c.qout.Load(),
		Sessions:  c.sess.Load(),
	}
}
