package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric label values shared across registrations.
const (
	// labelHandler is the "handler" label value used to partition metrics by
	// the logical endpoint name rather than the raw URL path.
	labelHandler = "handler"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// queryRequestsTotal counts /api/query requests by outcome: "ok",
	// "no_results", "degraded" (sources without an answer) or "error".
	queryRequestsTotal *prometheus.CounterVec

	// queryDurationSeconds records engine time per /api/query request.
	queryDurationSeconds *prometheus.HistogramVec

	// queryResults records the number of sources returned per query.
	queryResults prometheus.Histogram

	// adminOpsTotal counts maintenance operations by op and outcome.
	adminOpsTotal *prometheus.CounterVec

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, path pattern, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec

	// rateLimitedTotal counts requests rejected with 429.
	rateLimitedTotal prometheus.Counter
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics. Tests pass a fresh registry.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		queryRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragstore",
			Subsystem: "query",
			Name:      "requests_total",
			Help:      "Total number of /api/query requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		queryDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ragstore",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Engine time spent on /api/query requests, including generation.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),

		queryResults: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ragstore",
			Subsystem: "query",
			Name:      "results",
			Help:      "Number of sources returned per query.",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 20, 50},
		}),

		adminOpsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragstore",
			Subsystem: "admin",
			Name:      "operations_total",
			Help:      "Vector store maintenance operations, partitioned by operation and outcome.",
		}, []string{"op", "outcome"}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragstore",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ragstore",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),

		rateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ragstore",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client rate limiter.",
		}),
	}
}

// observeAdmin counts one maintenance operation.
func (m *serverMetrics) observeAdmin(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.adminOpsTotal.WithLabelValues(op, outcome).Inc()
}

// instrument records request count and latency for every request passing
// through next. The handler label is the matched route pattern, so ids in
// paths never become label values.
func (m *serverMetrics) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rw, r)

		handler := handlerLabel(r)
		m.httpRequestsTotal.WithLabelValues(r.Method, handler, strconv.Itoa(rw.status)).Inc()
		m.httpDurationSeconds.WithLabelValues(r.Method, handler).Observe(time.Since(start).Seconds())
	})
}

// handlerLabel returns the route pattern without its method, or "other" for
// unmatched requests.
func handlerLabel(r *http.Request) string {
	p := r.Pattern
	if i := strings.IndexByte(p, ' '); i >= 0 {
		p = p[i+1:]
	}
	if p == "" || p == "/api/" {
		return "other"
	}
	return p
}
