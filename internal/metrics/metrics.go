package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "btcingest"

// Outcome labels of FilesTotal.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// Metrics groups the ingestion collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	FilesTotal   *prometheus.CounterVec
	RowsLoaded   prometheus.Counter
	RowsDropped  prometheus.Counter
	FileDuration prometheus.Histogram
	LedgerErrors *prometheus.CounterVec
	QueueDepth   prometheus.Gauge
}

// New registers all collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		FilesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "Source files handled, by outcome.",
		}, []string{"outcome"}),
		RowsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_loaded_total",
			Help:      "Candles handed to the store.",
		}),
		RowsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_dropped_total",
			Help:      "CSV rows discarded because every value field was empty.",
		}),
		FileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "file_duration_seconds",
			Help:      "Wall time spent processing one file.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		LedgerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_errors_total",
			Help:      "Ledger round-trips that failed and were handled fail-open.",
		}, []string{"op"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Units queued or running in the coordinator.",
		}),
	}

	m.registry.MustRegister(
		m.FilesTotal,
		m.RowsLoaded,
		m.RowsDropped,
		m.FileDuration,
		m.LedgerErrors,
		m.QueueDepth,
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// FileDone records a terminal file outcome.
func (m *Metrics) FileDone(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.FilesTotal.WithLabelValues(outcome).Inc()
	if outcome != OutcomeSkipped {
		m.FileDuration.Observe(seconds)
	}
}

// Rows records loaded and dropped row counts of one file.
func (m *Metrics) Rows(loaded, dropped int) {
	if m == nil {
		return
	}
	m.RowsLoaded.Add(float64(loaded))
	m.RowsDropped.Add(float64(dropped))
}

// LedgerError counts one failed ledger operation.
func (m *Metrics) LedgerError(op string) {
	if m == nil {
		return
	}
	m.LedgerErrors.WithLabelValues(op).Inc()
}

// SetQueueDepth publishes the number of non-terminal units.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}
