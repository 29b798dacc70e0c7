// Package metrics registers the prometheus instruments the recorder
// exposes, grounded in the teacher's promauto-based registration style.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every instrument the recorder updates. Construct once at
// startup and pass by reference; every field is itself safe for concurrent
// use.
type Metrics struct {
	RingDistance       prometheus.Gauge
	RingOverflowTotal  prometheus.Counter
	EventsProcessed    *prometheus.CounterVec // label: tag
	ChunksPersisted    prometheus.Counter
	OutOfOrderWarnings prometheus.Counter
	IPCBlacklistEvents prometheus.Counter
	BlockLatency       prometheus.Histogram
}

// New registers every instrument against reg. Pass prometheus.NewRegistry()
// in tests to avoid colliding with the global default registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RingDistance: f.NewGauge(prometheus.GaugeOpts{
			Name: "mina_debugger_ring_distance_bytes",
			Help: "Unconsumed bytes between producer and consumer cursors in the kernel ring.",
		}),
		RingOverflowTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "mina_debugger_ring_overflow_total",
			Help: "Number of fatal ring-buffer overflow events observed.",
		}),
		EventsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mina_debugger_events_processed_total",
			Help: "Typed sniffer events processed, by tag.",
		}, []string{"tag"}),
		ChunksPersisted: f.NewCounter(prometheus.CounterOpts{
			Name: "mina_debugger_chunks_persisted_total",
			Help: "Raw connection chunks written to the store.",
		}),
		OutOfOrderWarnings: f.NewCounter(prometheus.CounterOpts{
			Name: "mina_debugger_out_of_order_total",
			Help: "Out-of-order per-tid timestamp warnings recorded.",
		}),
		IPCBlacklistEvents: f.NewCounter(prometheus.CounterOpts{
			Name: "mina_debugger_ipc_blacklist_total",
			Help: "IPC (pid, direction) pairs blacklisted after a parse error.",
		}),
		BlockLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mina_debugger_block_latency_seconds",
			Help:    "Gossip block propagation latency between first sight and a later IHAVE mention.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
