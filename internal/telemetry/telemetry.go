// Package telemetry defines the Prometheus metrics for the archive and
// indexing pipeline.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	recordsAppendedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifelog_records_appended_total",
			Help: "Records durably appended to the archive, labeled by source.",
		},
		[]string{"source"},
	)

	segmentsSealedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifelog_segments_sealed_total",
			Help: "Segments sealed, labeled by source.",
		},
		[]string{"source"},
	)

	segmentsCompressedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifelog_segments_compressed_total",
			Help: "Segments compressed into the cold tier, labeled by source.",
		},
		[]string{"source"},
	)

	segmentsRotatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifelog_segments_rotated_total",
			Help: "Segments rotated into long-term storage, labeled by source.",
		},
		[]string{"source"},
	)

	indexBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifelog_index_batches_total",
			Help: "Index batches committed, labeled by source and status.",
		},
		[]string{"source", "status"},
	)

	recordsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifelog_records_skipped_total",
			Help: "Records skipped during indexing, labeled by source.",
		},
		[]string{"source"},
	)

	rateLimitDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lifelog_rate_limit_delay_seconds",
			Help:    "Time spent waiting on the rate limiter, labeled by key.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"key"},
	)

	breakerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifelog_breaker_transitions_total",
			Help: "Circuit breaker state transitions, labeled by breaker and new state.",
		},
		[]string{"name", "state"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lifelog_http_request_duration_seconds",
			Help:    "HTTP request latency, labeled by method, route and status.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// RecordAppended counts one durable append for source.
func RecordAppended(source string) {
	recordsAppendedTotal.WithLabelValues(source).Inc()
}

// SegmentSealed counts one seal for source.
func SegmentSealed(source string) {
	segmentsSealedTotal.WithLabelValues(source).Inc()
}

// SegmentCompressed counts one compression for source.
func SegmentCompressed(source string) {
	segmentsCompressedTotal.WithLabelValues(source).Inc()
}

// SegmentRotated counts one rotation for source.
func SegmentRotated(source string) {
	segmentsRotatedTotal.WithLabelValues(source).Inc()
}

// IndexBatch counts one index batch outcome ("committed", "retried" or
// "parked") for source.
func IndexBatch(source, status string) {
	indexBatchesTotal.WithLabelValues(source, status).Inc()
}

// RecordSkipped counts one record skipped during indexing.
func RecordSkipped(source string) {
	recordsSkippedTotal.WithLabelValues(source).Inc()
}

// ObserveRateLimitDelay records how long a caller waited for a slot.
func ObserveRateLimitDelay(key string, d time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(key).Observe(d.Seconds())
}

// BreakerTransition counts a breaker entering a new state.
func BreakerTransition(name, state string) {
	breakerTransitionsTotal.WithLabelValues(name, state).Inc()
}

// ObserveHTTPRequest records one served HTTP request.
func ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	httpRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// Handler exposes the default Prometheus registry over HTTP.
func Handler() http.Handler {
	return promhttp.Handler()
}
