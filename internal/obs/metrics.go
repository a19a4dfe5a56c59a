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

	// AuditFailures counts audit records that could not be persisted.
	AuditFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigep_audit_failures_total",
			Help: "Audit records dropped because the repository rejected them.",
		},
		[]string{"action"},
	)

	// RouteResolutionFailures counts failed steps while resolving a user's routes.
	RouteResolutionFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigep_route_resolution_failures_total",
			Help: "Failed fetch steps during role-route resolution.",
		},
		[]string{"step"},
	)

	// AccessDecisions counts access guard outcomes.
	AccessDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigep_access_decisions_total",
			Help: "Access guard decisions by outcome.",
		},
		[]string{"decision"},
	)

	// QueryRejections counts ad-hoc queries refused by validation.
	QueryRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sigep_query_rejections_total",
			Help: "Dynamic queries rejected by validation.",
		},
		[]string{"reason"},
	)

	// AuditFeedDrops counts live audit events skipped because a subscriber fell behind.
	AuditFeedDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sigep_audit_feed_drops_total",
		Help: "Audit events not delivered to a slow stream subscriber.",
	})

	initOnce sync.Once
)

// Init registers every collector in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			AuditFailures, RouteResolutionFailures, AccessDecisions, QueryRejections, AuditFeedDrops,
		)
	})
}

// Handler exposes the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records request count, latency and in-flight gauge.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses key values out of CRUD paths to keep label cardinality bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	if len(parts) == 4 && parts[0] == "api" {
		return "/api/" + parts[1] + "/" + parts[2] + "/:value"
	}
	return raw
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

// Unwrap lets http.ResponseController reach the flusher underneath.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
