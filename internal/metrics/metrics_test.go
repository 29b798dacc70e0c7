package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersAllInstruments(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RingDistance.Set(42)
	m.RingOverflowTotal.Inc()
	m.EventsProcessed.WithLabelValues("read").Inc()
	m.ChunksPersisted.Inc()
	m.OutOfOrderWarnings.Inc()
	m.IPCBlacklistEvents.Inc()
	m.BlockLatency.Observe(1.5)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}
