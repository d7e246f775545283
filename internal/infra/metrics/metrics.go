// Package metrics provides Prometheus metrics for the retrieval pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts retrieval requests by mode and outcome.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "retrieval",
			Name:      "requests_total",
			Help:      "Total number of retrieval requests",
		},
		[]string{"mode", "status"},
	)

	// RequestDuration measures end-to-end pipeline duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "retrieval",
			Name:      "request_duration_seconds",
			Help:      "Duration of retrieval requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	// VariantCount observes how many query variants each request executed.
	VariantCount = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "retrieval",
			Name:      "variant_count",
			Help:      "Distribution of query variants per request",
			Buckets:   []float64{1, 2, 3, 4, 5},
		},
	)

	// PassagesReturned observes final result list sizes.
	PassagesReturned = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "retrieval",
			Name:      "passages_returned",
			Help:      "Distribution of passages returned per request",
			Buckets:   []float64{1, 3, 5, 8, 12, 20, 30, 50},
		},
		[]string{"mode"},
	)

	// DegradationsTotal counts partial failures absorbed by the pipeline.
	DegradationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "retrieval",
			Name:      "degradations_total",
			Help:      "Total number of degraded pipeline stages",
		},
		[]string{"stage"},
	)

	// CacheEventsTotal counts result cache hits, misses and stores.
	CacheEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "retrieval",
			Name:      "cache_events_total",
			Help:      "Total number of result cache events",
		},
		[]string{"event"},
	)

	// RerankerConstructions tracks how many times the shared reranker
	// backend has been constructed. Stays at 1 in a healthy process.
	RerankerConstructions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "retrieval",
			Name:      "reranker_constructions",
			Help:      "Number of reranker backend constructions since start",
		},
	)

	// QueueDepth tracks the number of jobs waiting in the worker pool.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "retrieval",
			Name:      "worker_queue_depth",
			Help:      "Number of retrieval jobs waiting in the worker queue",
		},
	)
)

// RecordRequest records a completed retrieval request.
func RecordRequest(mode, status string, duration float64, passages int) {
	RequestsTotal.WithLabelValues(mode, status).Inc()
	RequestDuration.WithLabelValues(mode).Observe(duration)
	PassagesReturned.WithLabelValues(mode).Observe(float64(passages))
}

// RecordVariants records how many variants a request fanned out to.
func RecordVariants(n int) {
	VariantCount.Observe(float64(n))
}

// RecordDegradation records a pipeline stage that fell back.
func RecordDegradation(stage string) {
	DegradationsTotal.WithLabelValues(stage).Inc()
}

// RecordCacheEvent records a result cache hit, miss or store.
func RecordCacheEvent(event string) {
	CacheEventsTotal.WithLabelValues(event).Inc()
}

// IncRerankerConstructions records one successful reranker backend
// construction.
func IncRerankerConstructions() {
	RerankerConstructions.Inc()
}

// SetQueueDepth publishes the current worker queue depth.
func SetQueueDepth(n int) {
	QueueDepth.Set(float64(n))
}
