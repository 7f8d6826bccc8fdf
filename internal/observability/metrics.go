// Package observability holds Reservoir's Prometheus metrics.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//nolint:gochecknoglobals // Prometheus metrics must be global for registration
var (
	// SyncInitTotal counts sync initializations by outcome.
	SyncInitTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservoir_sync_init_total",
			Help: "Total number of sync initializations",
		},
		[]string{"status"}, // queued, completed, error
	)

	// TablesProvisioned counts provisioned tables by outcome.
	TablesProvisioned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservoir_tables_provisioned_total",
			Help: "Tables provisioned in synced namespaces",
		},
		[]string{"result"}, // created, failed, skipped
	)

	// ChunksTotal counts processed queue chunks by resulting item status.
	ChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservoir_transfer_chunks_total",
			Help: "Total number of transfer chunks processed",
		},
		[]string{"status"}, // pending, completed, error
	)

	// ChunkDuration measures one chunk's read and load in seconds.
	ChunkDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reservoir_transfer_chunk_duration_seconds",
			Help:    "Transfer chunk duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"status"},
	)

	// RowsTransferred counts rows written into synced namespaces.
	RowsTransferred = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reservoir_transfer_rows_total",
			Help: "Rows copied from sources into synced namespaces",
		},
	)

	// QueueRuns counts queue drain invocations by whether they emptied the queue.
	QueueRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservoir_queue_runs_total",
			Help: "Queue processing invocations",
		},
		[]string{"complete"},
	)

	// RouteTotal counts routed queries by storage location and outcome.
	RouteTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservoir_route_total",
			Help: "Routed chart queries",
		},
		[]string{"storage_location", "status"}, // status: ok, or an error kind
	)

	// RouteDuration measures routed query time in seconds.
	RouteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reservoir_route_duration_seconds",
			Help:    "Routed query execution time",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"storage_location"},
	)

	// CacheLookups counts cache lookups by result.
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservoir_cache_lookups_total",
			Help: "Result cache lookups",
		},
		[]string{"result"}, // hit, miss, bypass
	)

	// CacheInvalidations counts removed cache entries by trigger.
	CacheInvalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservoir_cache_invalidations_total",
			Help: "Cache entries removed by invalidation",
		},
		[]string{"trigger"}, // chart, tables
	)

	// ScheduledJobs is the number of cron entries currently registered.
	ScheduledJobs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reservoir_scheduled_jobs",
			Help: "Registered scheduler entries",
		},
		[]string{"job"}, // sync, drain, sweep
	)

	// ScheduledRuns counts scheduler job executions by outcome.
	ScheduledRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservoir_scheduled_runs_total",
			Help: "Scheduler job executions",
		},
		[]string{"job", "status"}, // status: ok, busy, error
	)

	// ErrorsTotal counts errors by component and kind.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservoir_errors_total",
			Help: "Errors by component and kind",
		},
		[]string{"component", "kind"},
	)
)

// RecordSyncInit records the outcome of a sync initialization.
func RecordSyncInit(status string, created, failed, skipped int) {
	SyncInitTotal.WithLabelValues(status).Inc()
	TablesProvisioned.WithLabelValues("created").Add(float64(created))
	TablesProvisioned.WithLabelValues("failed").Add(float64(failed))
	TablesProvisioned.WithLabelValues("skipped").Add(float64(skipped))
}

// RecordChunk records one processed chunk.
func RecordChunk(status string, rows int64, duration float64) {
	ChunksTotal.WithLabelValues(status).Inc()
	ChunkDuration.WithLabelValues(status).Observe(duration)
	RowsTransferred.Add(float64(rows))
}

// RecordQueueRun records one queue drain invocation.
func RecordQueueRun(complete bool) {
	label := "false"
	if complete {
		label = "true"
	}
	QueueRuns.WithLabelValues(label).Inc()
}

// RecordRoute records one routed query. status is "ok" or an error kind.
func RecordRoute(location, status string, duration float64) {
	RouteTotal.WithLabelValues(location, status).Inc()
	RouteDuration.WithLabelValues(location).Observe(duration)
}

// RecordCacheLookup records a cache hit, miss, or bypass.
func RecordCacheLookup(result string) {
	CacheLookups.WithLabelValues(result).Inc()
}

// RecordCacheInvalidation records entries removed by an invalidation.
func RecordCacheInvalidation(trigger string, removed int64) {
	CacheInvalidations.WithLabelValues(trigger).Add(float64(removed))
}

// SetScheduledJobs records how many entries of a job type are registered.
func SetScheduledJobs(job string, n int) {
	ScheduledJobs.WithLabelValues(job).Set(float64(n))
}

// RecordScheduledRun records one scheduler job execution.
func RecordScheduledRun(job, status string) {
	ScheduledRuns.WithLabelValues(job, status).Inc()
}

// RecordError records an error in a component.
func RecordError(component, kind string) {
	ErrorsTotal.WithLabelValues(component, kind).Inc()
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
