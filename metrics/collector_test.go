package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/sockcore/metrics"
)

func TestCollector_MirrorsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg, "test")

	c.AddIn(100)
	c.AddIn(-5)
	c.AddOut(40)
	c.SetQueued(7, 9)
	c.SetSessions(3)
	c.Accept(metrics.AcceptOK)
	c.Accept(metrics.AcceptRejected)
	c.Accept(metrics.AcceptRejected)
	c.Close(metrics.CloseStall)

	assert.Equal(t, metrics.Snapshot{BytesIn: 100, BytesOut: 40, QueuedIn: 7, QueuedOut: 9, Sessions: 3}, c.Snapshot())

	mfs, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, mf := range mfs {
		names = append(names, mf.GetName())
		if mf.GetName() == "test_accepts_total" {
			assert.Len(t, mf.GetMetric(), 2, "one series per result")
		}
	}
	assert.Contains(t, names, "test_received_bytes_total")
	assert.Contains(t, names, "test_closes_total")

	// second collector on the same registry does not panic
	metrics.NewCollector(reg, "test")
}
