package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

// EmbeddingTokensHeader carries the provider tokens a request consumed.
const EmbeddingTokensHeader = "X-Embedding-Tokens"

var (
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds by cache operation",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"operation", "status"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by cache operation",
		},
		[]string{"operation", "status"},
	)

	httpEmbeddingTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_embedding_tokens_total",
			Help:      "Embedding provider tokens spent serving HTTP requests",
		},
		[]string{"operation"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpEmbeddingTokens)
}

// operations names the cache API routes. Anything else is "other".
var operations = map[string]string{
	"POST /v1/cache/lookup": "lookup",
	"POST /v1/cache/search": "search",
	"PUT /v1/items/{id}":    "store",
	"GET /v1/items/{id}":    "get",
	"POST /v1/items/batch":  "store_batch",
	"GET /v1/index":         "index",
	"GET /health":           "health",
	"GET /metrics":          "metrics",
}

// Middleware records duration, count and embedding tokens per cache operation.
func Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)

			op := operation(r.Method, chi.RouteContext(r.Context()))
			status := strconv.Itoa(ww.status)
			httpRequestDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
			httpRequestsTotal.WithLabelValues(op, status).Inc()

			if n, err := strconv.ParseInt(ww.Header().Get(EmbeddingTokensHeader), 10, 64); err == nil && n > 0 {
				httpEmbeddingTokens.WithLabelValues(op).Add(float64(n))
			}
		})
	}
}

func operation(method string, rctx *chi.Context) string {
	if rctx == nil {
		return "other"
	}
	if op, ok := operations[method+" "+rctx.RoutePattern()]; ok {
		return op
	}
	return "other"
}

// statusWriter captures the response status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.wroteHeader = true
	}
	return w.ResponseWriter.Write(b) //nolint:wrapcheck // delegating to underlying ResponseWriter
}
