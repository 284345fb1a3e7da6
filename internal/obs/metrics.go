package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Domain metrics.
var (
	authzDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rent360_authz_decisions_total",
			Help: "Resolved access levels by outcome.",
		},
		[]string{"level"},
	)

	repositoryMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rent360_repository_mutations_total",
			Help: "Property repository mutations by operation and result.",
		},
		[]string{"op", "result"},
	)

	storageFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rent360_storage_failures_total",
			Help: "Swallowed key-value storage failures by operation.",
		},
		[]string{"op"},
	)

	sessionsSwept = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rent360_sessions_swept_total",
		Help: "Expired session records removed by the sweeper.",
	})

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rent360_ready",
		Help: "1 when the key-value store answered the last readiness probe.",
	})
)

var initOnce sync.Once

// Init registers all metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			authzDecisions, repositoryMutations, storageFailures, sessionsSwept, ready,
		)
	})
}

// Handler exposes the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAuthzDecision counts one resolved access level.
func ObserveAuthzDecision(level string) {
	authzDecisions.WithLabelValues(level).Inc()
}

// ObserveMutation counts one repository mutation; result is "ok" or an error class.
func ObserveMutation(op, result string) {
	repositoryMutations.WithLabelValues(op, result).Inc()
}

// ObserveStorageFailure counts a swallowed storage error.
func ObserveStorageFailure(op string) {
	storageFailures.WithLabelValues(op).Inc()
}

// ObserveSessionsSwept adds n removed sessions.
func ObserveSessionsSwept(n int) {
	if n > 0 {
		sessionsSwept.Add(float64(n))
	}
}

// SetReady records the last readiness outcome.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// RoutePattern resolves the path label for a served request. An empty
// result falls back to CanonicalPath.
type RoutePattern func(r *http.Request) string

// Instrument measures RPS, latency and in-flight requests.
func Instrument(pattern RoutePattern) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			method := r.Method

			httpInFlight.Inc()
			start := time.Now()

			sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(sw, r)

			path := ""
			if pattern != nil {
				path = pattern(r)
			}
			if path == "" {
				path = CanonicalPath(r.URL.Path)
			}
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(sw.code)

			httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
			httpRequestsTotal.WithLabelValues(method, path, status).Inc()
			httpInFlight.Dec()
		})
	}
}

// CanonicalPath collapses identifiers in known resource paths so metric
// label cardinality stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 3 || parts[0] != "v1" {
		return path
	}
	switch parts[1] {
	case "properties":
		switch {
		case len(parts) == 3:
			return "/v1/properties/:id"
		case len(parts) == 4 && parts[3] == "units":
			return "/v1/properties/:id/units"
		}
	case "users":
		if len(parts) == 4 && parts[3] == "roles" {
			return "/v1/users/:email/roles"
		}
	case "authz":
		if len(parts) == 4 && parts[2] == "overrides" {
			return "/v1/authz/overrides/:email"
		}
	}
	return path
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps server-sent event streams working through the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
