// Package metrics exposes the engine's Prometheus instrumentation: per-phase
// progress counters, batch timing, store retries and transaction outcomes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the pipeline updates.
type Metrics struct {
	registry *prometheus.Registry

	FilesProcessed *prometheus.CounterVec // phase, outcome
	BatchDuration  *prometheus.HistogramVec
	PhaseGauge     *prometheus.GaugeVec
	QueueDepth     prometheus.Gauge

	StoreRetries prometheus.Counter
	TxnOutcomes  *prometheus.CounterVec // outcome: committed | rolled-back
	OpsPerformed *prometheus.CounterVec // kind
	Rejections   *prometheus.CounterVec // category
	ReviewQueued prometheus.Counter
}

// New builds and registers all collectors on a private registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "music_cleanup"
	}
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		FilesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_processed_total",
			Help:      "Files processed per phase and outcome",
		}, []string{"phase", "outcome"}),
		BatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time per batch per phase",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"phase"}),
		PhaseGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "phase_active",
			Help:      "1 while the named phase is running",
		}, []string{"phase"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_files",
			Help:      "Files waiting for the current phase",
		}),
		StoreRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_busy_retries_total",
			Help:      "Busy retries against the unified store",
		}),
		TxnOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Transaction outcomes",
		}, []string{"outcome"}),
		OpsPerformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "file_operations_total",
			Help:      "Performed file operations by kind",
		}, []string{"kind"}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Rejection entries appended by category",
		}, []string{"category"}),
		ReviewQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "review_queued_total",
			Help:      "Files routed to the needs-review queue",
		}),
	}

	registry.MustRegister(
		m.FilesProcessed, m.BatchDuration, m.PhaseGauge, m.QueueDepth,
		m.StoreRetries, m.TxnOutcomes, m.OpsPerformed, m.Rejections,
		m.ReviewQueued,
	)
	return m
}

// Registry exposes the private registry for the HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
