package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cache lookups by result: hit | miss | error | bypass.
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "math2image_cache_lookups_total",
			Help: "Cache lookups by result.",
		},
		[]string{"result"},
	)

	// Cache connection state: 1 connected, 0 disconnected.
	CacheConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "math2image_cache_connected",
			Help: "Whether the cache store is currently connected.",
		},
	)

	// Requests by outcome: cache_hit | rendered | mathml | render_error | invalid | missing | error.
	EquationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "math2image_equations_total",
			Help: "Equation requests by outcome.",
		},
		[]string{"outcome", "format", "output"},
	)

	// Render retries that went through the fallback sanitizer.
	SanitizeFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "math2image_sanitize_fallbacks_total",
			Help: "Renders retried with sanitized markup after a structural rejection.",
		},
	)

	// Embedded or remote images that could not be resolved.
	ImageFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "math2image_image_failures_total",
			Help: "Images left unresolved, by kind (inline|remote).",
		},
		[]string{"kind"},
	)

	// Engine call latency by operation (translate|render|rasterize).
	EngineLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "math2image_engine_latency_seconds",
			Help:    "Latency of typesetting engine calls in seconds.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"operation"},
	)

	// HTTP latency in seconds.
	RequestLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "math2image_request_latency_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"path", "method", "status_code"},
	)
)

// Register is called once in main() to register metrics.
func Register() {
	prometheus.MustRegister(
		CacheLookupsTotal,
		CacheConnected,
		EquationsTotal,
		SanitizeFallbacksTotal,
		ImageFailuresTotal,
		EngineLatencySeconds,
		RequestLatencySeconds,
	)
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveEngine records the duration of an engine call started at start.
func ObserveEngine(operation string, start time.Time) {
	EngineLatencySeconds.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// Middleware measures latency for each HTTP request.
// The route pattern is used as the path label to keep cardinality bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rec := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rec, r)

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}

		RequestLatencySeconds.
			WithLabelValues(path, r.Method, strconv.Itoa(rec.statusCode)).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}
