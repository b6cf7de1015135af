package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recall Server Metrics
var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recall",
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Total number of protocol requests by method and outcome",
		},
		[]string{"method", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "recall",
			Subsystem: "rpc",
			Name:      "request_duration_seconds",
			Help:      "Protocol request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"method"},
	)

	SavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recall",
			Subsystem: "vault",
			Name:      "saves_total",
			Help:      "Total save pipeline executions",
		},
		[]string{"status"},
	)

	SaveChunks = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "recall",
			Subsystem: "vault",
			Name:      "save_chunks",
			Help:      "Number of chunks produced per save",
			Buckets:   []float64{1, 2, 3, 5, 8, 13},
		},
	)

	EmbeddingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "recall",
			Subsystem: "vault",
			Name:      "embedding_duration_seconds",
			Help:      "Embedding computation duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10},
		},
	)

	VectorSearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "recall",
			Subsystem: "vault",
			Name:      "vector_search_duration_seconds",
			Help:      "Vector search duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2},
		},
	)

	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recall",
			Subsystem: "vault",
			Name:      "cache_hits_total",
			Help:      "Total embedding cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recall",
			Subsystem: "vault",
			Name:      "cache_misses_total",
			Help:      "Total embedding cache misses",
		},
		[]string{"cache_type"},
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "recall",
			Subsystem: "rpc",
			Name:      "sessions_active",
			Help:      "Number of live sessions in the session store",
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "recall",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Pending payloads in the save queue",
		},
	)
)

// Handler returns the Prometheus metrics handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records a protocol request
func RecordRequest(method, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(method, status).Inc()
	RequestDuration.WithLabelValues(method).Observe(durationSec)
}

// RecordSave records a save pipeline execution
func RecordSave(status string, chunks int) {
	SavesTotal.WithLabelValues(status).Inc()
	if chunks > 0 {
		SaveChunks.Observe(float64(chunks))
	}
}

// RecordEmbedding records embedding computation time
func RecordEmbedding(durationSec float64) {
	EmbeddingDuration.Observe(durationSec)
}

// RecordVectorSearch records vector search time
func RecordVectorSearch(durationSec float64) {
	VectorSearchDuration.Observe(durationSec)
}

// RecordCacheHit records an embedding cache hit
func RecordCacheHit(cacheType string) {
	CacheHitsTotal.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records an embedding cache miss
func RecordCacheMiss(cacheType string) {
	CacheMissesTotal.WithLabelValues(cacheType).Inc()
}
