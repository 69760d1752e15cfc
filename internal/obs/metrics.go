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

// Общие HTTP-метрики
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
			Buckets: prometheus.DefBuckets, // [0.005..10]
		},
		[]string{"method", "path", "status"},
	)

	authzDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rbac_authorization_decisions_total",
			Help: "Authorization gate decisions by result.",
		},
		[]string{"result"},
	)

	impersonations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rbac_impersonations_total",
			Help: "Impersonation sessions started and stopped.",
		},
		[]string{"action"},
	)

	initOnce sync.Once
)

// Регистрация метрик в default-регистре. Повторные вызовы безопасны.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration, authzDecisions, impersonations)
	})
}

// Хэндлер Prometheus.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAuthorization counts one authorization gate outcome
// ("allowed", "denied" or "error").
func ObserveAuthorization(result string) {
	authzDecisions.WithLabelValues(result).Inc()
}

// ObserveImpersonation counts an impersonation "start" or "stop".
func ObserveImpersonation(action string) {
	impersonations.WithLabelValues(action).Inc()
}

// Обёртка для измерения RPS/latency/в полёте.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// idParents are collections whose next path segment is a resource id,
// unless it names a fixed sub-collection.
var idParents = map[string]map[string]bool{
	"users":       {"deleted": true},
	"roles":       {"permissions": true},
	"impersonate": {},
}

// idActions are the only segments allowed after an id.
var idActions = map[string]bool{
	"roles":                   true,
	"force":                   true,
	"verify-email":            true,
	"send-verification-email": true,
	"reset-password":          true,
	"permissions":             true,
}

// CanonicalPath collapses resource ids so metric labels stay bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 3 || parts[0] != "api" {
		return path
	}
	for i := 1; i < len(parts)-1; i++ {
		fixed, ok := idParents[parts[i]]
		if !ok || fixed[parts[i+1]] {
			continue
		}
		rest := parts[i+2:]
		if len(rest) > 1 || (len(rest) == 1 && !idActions[rest[0]]) {
			return path
		}
		parts[i+1] = ":id"
		return "/" + strings.Join(parts, "/")
	}
	return path
}

// statusWriter: локальная копия, чтобы знать код ответа.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach Flush on the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
