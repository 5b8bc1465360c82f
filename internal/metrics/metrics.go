// Package metrics exposes Prometheus collectors for the ingestion and
// forecasting pipeline: HTTP call volume/latency, collector run outcomes,
// task-queue depth, and database query timing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every Prometheus collector this module registers.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	CollectorRunsTotal    *prometheus.CounterVec
	CollectorRunDuration  *prometheus.HistogramVec
	CollectorRecordsFetched *prometheus.CounterVec

	TaskQueueDepth      *prometheus.GaugeVec
	TaskQueueProcessed  *prometheus.CounterVec
	TaskQueueDuration   *prometheus.HistogramVec

	DatabaseQueriesTotal  *prometheus.CounterVec
	DatabaseQueryDuration *prometheus.HistogramVec

	ErrorsTotal *prometheus.CounterVec
}

// New builds a Metrics instance and registers its collectors against
// registerer (pass prometheus.DefaultRegisterer in production, a fresh
// prometheus.NewRegistry() in tests).
func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agriforecast_http_requests_total",
				Help: "Total HTTP requests made by source plugins, by host and status.",
			},
			[]string{"host", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agriforecast_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds, by host.",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"host"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "agriforecast_http_requests_in_flight",
				Help: "Number of HTTP requests currently in flight across all source plugins.",
			},
		),
		CollectorRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agriforecast_collector_runs_total",
				Help: "Total collector runs, by source and terminal status.",
			},
			[]string{"source", "status"},
		),
		CollectorRunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agriforecast_collector_run_duration_seconds",
				Help:    "Collector run wall-clock duration in seconds, by source.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"source"},
		),
		CollectorRecordsFetched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agriforecast_collector_records_fetched_total",
				Help: "Records fetched per collector run, by source.",
			},
			[]string{"source"},
		),
		TaskQueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "agriforecast_taskqueue_depth",
				Help: "Number of tasks currently in each lifecycle state.",
			},
			[]string{"state"},
		),
		TaskQueueProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agriforecast_taskqueue_processed_total",
				Help: "Tasks processed by the executor, by task_type and outcome.",
			},
			[]string{"task_type", "outcome"},
		),
		TaskQueueDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agriforecast_taskqueue_task_duration_seconds",
				Help:    "Task handler duration in seconds, by task_type.",
				Buckets: []float64{.1, .5, 1, 5, 15, 60, 300},
			},
			[]string{"task_type"},
		),
		DatabaseQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agriforecast_database_queries_total",
				Help: "Database queries, by operation and outcome.",
			},
			[]string{"operation", "status"},
		),
		DatabaseQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agriforecast_database_query_duration_seconds",
				Help:    "Database query duration in seconds, by operation.",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"operation"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agriforecast_errors_total",
				Help: "Classified errors, by source and error code.",
			},
			[]string{"source", "code"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.HTTPRequestsTotal,
			m.HTTPRequestDuration,
			m.HTTPRequestsInFlight,
			m.CollectorRunsTotal,
			m.CollectorRunDuration,
			m.CollectorRecordsFetched,
			m.TaskQueueDepth,
			m.TaskQueueProcessed,
			m.TaskQueueDuration,
			m.DatabaseQueriesTotal,
			m.DatabaseQueryDuration,
			m.ErrorsTotal,
		)
	}

	return m
}

// RecordHTTPRequest records one completed HTTP call.
func (m *Metrics) RecordHTTPRequest(host, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(host, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(host).Observe(duration.Seconds())
}

// RecordCollectorRun records one terminal collector run outcome.
func (m *Metrics) RecordCollectorRun(source, status string, recordsFetched int, duration time.Duration) {
	m.CollectorRunsTotal.WithLabelValues(source, status).Inc()
	m.CollectorRunDuration.WithLabelValues(source).Observe(duration.Seconds())
	m.CollectorRecordsFetched.WithLabelValues(source).Add(float64(recordsFetched))
}

// RecordTaskProcessed records one task-executor handler invocation.
func (m *Metrics) RecordTaskProcessed(taskType, outcome string, duration time.Duration) {
	m.TaskQueueProcessed.WithLabelValues(taskType, outcome).Inc()
	m.TaskQueueDuration.WithLabelValues(taskType).Observe(duration.Seconds())
}

// SetQueueDepth sets the current task count in a given lifecycle state.
func (m *Metrics) SetQueueDepth(state string, count int) {
	m.TaskQueueDepth.WithLabelValues(state).Set(float64(count))
}

// RecordDatabaseQuery records one database query.
func (m *Metrics) RecordDatabaseQuery(operation, status string, duration time.Duration) {
	m.DatabaseQueriesTotal.WithLabelValues(operation, status).Inc()
	m.DatabaseQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordError records one classified error.
func (m *Metrics) RecordError(source, code string) {
	m.ErrorsTotal.WithLabelValues(source, code).Inc()
}
