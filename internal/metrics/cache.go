package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Cache pipeline Prometheus metrics.
var (
	LookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookups_total",
			Help:      "Cache lookups by backend and decision of the best match",
		},
		[]string{"backend", "decision"},
	)

	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Query pipeline duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"backend", "status"},
	)

	BackendErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_errors_total",
			Help:      "Query pipeline failures by kind",
		},
		[]string{"backend", "kind"},
	)

	FailOpenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fail_open_total",
			Help:      "Lookups degraded to MISS because of an upstream failure",
		},
		[]string{"backend", "kind"},
	)

	FallbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_total",
			Help:      "Queries answered by the fallback backend",
		},
		[]string{"from", "to"},
	)

	IngestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_total",
			Help:      "Items ingested by outcome",
		},
		[]string{"backend", "status"},
	)

	InFlightQueries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inflight_queries",
			Help:      "Queries currently holding a concurrency slot",
		},
	)

	IndexRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_refresh_items_total",
			Help:      "Managed index refresh outcomes per item",
		},
		[]string{"outcome"}, // embedded / metadata / unchanged / failed
	)

	IndexLastRefresh = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_last_refresh_timestamp_seconds",
			Help:      "Unix time of the last completed managed index refresh",
		},
	)
)

var registerOnce sync.Once

// Register registers cache and embedding metrics on the default registry.
// HTTP metrics register themselves on import. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			EmbeddingRequestsTotal,
			EmbeddingRequestDuration,
			EmbeddingTokensTotal,
			EmbeddingErrorsTotal,
			EmbeddingCacheTotal,
			LookupsTotal,
			SearchDuration,
			BackendErrorsTotal,
			FailOpenTotal,
			FallbackTotal,
			IngestTotal,
			InFlightQueries,
			IndexRefreshTotal,
			IndexLastRefresh,
		)
	})
}
