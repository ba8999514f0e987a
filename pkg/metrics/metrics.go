// Package metrics declares the Prometheus collectors exported at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msgvis_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "msgvis_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "route"},
	)

	// Task runner metrics
	TaskRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msgvis_task_runs_total",
			Help: "Total task runs by outcome",
		},
		[]string{"task", "status"}, // "ok" or "error"
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "msgvis_task_duration_seconds",
			Help:    "Task run duration",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		},
		[]string{"task"},
	)

	// Corpus metrics
	ImportRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msgvis_import_records_total",
			Help: "Imported input records by outcome",
		},
		[]string{"outcome"}, // imported, duplicate, skipped, failed
	)

	FixtureObjectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msgvis_fixture_objects_total",
			Help: "Fixture objects processed",
		},
		[]string{"operation"}, // dump, load, sync
	)

	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msgvis_cache_requests_total",
			Help: "Explorer cache lookups",
		},
		[]string{"result"}, // hit, miss, error
	)
)

// ObserveTask records one task run.
func ObserveTask(task string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	TaskRunsTotal.WithLabelValues(task, status).Inc()
	TaskDuration.WithLabelValues(task).Observe(time.Since(start).Seconds())
}

// IncImport counts one import record outcome.
func IncImport(outcome string) { ImportRecordsTotal.WithLabelValues(outcome).Inc() }

// AddFixtureObjects counts fixture objects for an operation.
func AddFixtureObjects(operation string, n int) {
	FixtureObjectsTotal.WithLabelValues(operation).Add(float64(n))
}

// IncCache counts a cache lookup result.
func IncCache(result string) { CacheRequestsTotal.WithLabelValues(result).Inc() }
