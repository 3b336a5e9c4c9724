// Package metrics provides Prometheus metrics for the outline importer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the importer.
type Metrics struct {
	// Row metrics
	RowsProcessed *prometheus.CounterVec
	RowsSkipped   *prometheus.CounterVec
	RowDuration   *prometheus.HistogramVec

	// Remote tree metrics
	NodesCreated    *prometheus.CounterVec
	RemoteRequests  *prometheus.CounterVec
	RemoteErrors    *prometheus.CounterVec
	RemoteRetries   *prometheus.CounterVec
	RemoteLatency   *prometheus.HistogramVec
	ColumnsRollback prometheus.Counter

	// Job metrics
	JobsStarted  prometheus.Counter
	JobsFinished *prometheus.CounterVec
	JobsRunning  prometheus.Gauge

	// Storage metrics
	CheckpointErrors *prometheus.CounterVec
	StagingErrors    *prometheus.CounterVec
	StagedBytes      prometheus.Histogram
}

var defaultMetrics *Metrics

// Init registers the metrics with the default registry and makes them
// available through Get. Call this once at startup.
func Init(namespace string) *Metrics {
	m := New(namespace, prometheus.DefaultRegisterer)
	defaultMetrics = m
	return m
}

// New creates metrics registered with reg.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "outline_importer"
	}
	factory := promauto.With(reg)

	return &Metrics{
		RowsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_processed_total",
				Help:      "Total number of spreadsheet rows materialized",
			},
			[]string{"kind"},
		),
		RowsSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_skipped_total",
				Help:      "Total number of rows skipped (undefined depth or deep levels disabled)",
			},
			[]string{"reason"},
		),
		RowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "row_duration_seconds",
				Help:      "Time to materialize one row, excluding the inter-row delay",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
			},
			[]string{"kind"},
		),
		NodesCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "nodes_created_total",
				Help:      "Total number of remote nodes created",
			},
			[]string{"kind"},
		),
		RemoteRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_requests_total",
				Help:      "Total number of remote API requests",
			},
			[]string{"operation"},
		),
		RemoteErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_errors_total",
				Help:      "Total number of failed remote API requests",
			},
			[]string{"operation"},
		),
		RemoteRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_retries_total",
				Help:      "Total number of remote API retry attempts",
			},
			[]string{"operation"},
		),
		RemoteLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "remote_request_duration_seconds",
				Help:      "Remote API request latency",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
			[]string{"operation"},
		),
		ColumnsRollback: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "column_bootstrap_rollbacks_total",
				Help:      "Total number of partially created column sets that were rolled back",
			},
		),
		JobsStarted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_started_total",
				Help:      "Total number of import jobs started or resumed",
			},
		),
		JobsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_finished_total",
				Help:      "Total number of import jobs by terminal state",
			},
			[]string{"state"},
		),
		JobsRunning: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "jobs_running",
				Help:      "Number of import jobs currently executing",
			},
		),
		CheckpointErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checkpoint_errors_total",
				Help:      "Total number of checkpoint store errors",
			},
			[]string{"operation"},
		),
		StagingErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "staging_errors_total",
				Help:      "Total number of failures staging input spreadsheets",
			},
			[]string{"scheme"},
		),
		StagedBytes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "staged_bytes",
				Help:      "Size of staged spreadsheets in bytes",
				Buckets:   prometheus.ExponentialBuckets(1024, 2, 15), // 1KB to ~32MB
			},
		),
	}
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(address, mux)
}

// IncRowsProcessed increments the processed rows counter.
func (m *Metrics) IncRowsProcessed(kind string) {
	m.RowsProcessed.WithLabelValues(kind).Inc()
}

// IncRowsSkipped increments the skipped rows counter.
func (m *Metrics) IncRowsSkipped(reason string) {
	m.RowsSkipped.WithLabelValues(reason).Inc()
}

// ObserveRowDuration records the time spent on one row.
func (m *Metrics) ObserveRowDuration(kind string, seconds float64) {
	m.RowDuration.WithLabelValues(kind).Observe(seconds)
}

// IncNodesCreated increments the created nodes counter.
func (m *Metrics) IncNodesCreated(kind string) {
	m.NodesCreated.WithLabelValues(kind).Inc()
}

// ObserveRemoteRequest records one remote request and its outcome.
func (m *Metrics) ObserveRemoteRequest(operation string, seconds float64, err error) {
	m.RemoteRequests.WithLabelValues(operation).Inc()
	m.RemoteLatency.WithLabelValues(operation).Observe(seconds)
	if err != nil {
		m.RemoteErrors.WithLabelValues(operation).Inc()
	}
}

// IncRemoteRetries increments the remote retry counter.
func (m *Metrics) IncRemoteRetries(operation string) {
	m.RemoteRetries.WithLabelValues(operation).Inc()
}

// IncJobsFinished increments the finished jobs counter for a terminal state.
func (m *Metrics) IncJobsFinished(state string) {
	m.JobsFinished.WithLabelValues(state).Inc()
}

// IncCheckpointErrors increments the checkpoint errors counter.
func (m *Metrics) IncCheckpointErrors(operation string) {
	m.CheckpointErrors.WithLabelValues(operation).Inc()
}

// IncStagingErrors increments the staging errors counter.
func (m *Metrics) IncStagingErrors(scheme string) {
	m.StagingErrors.WithLabelValues(scheme).Inc()
}
