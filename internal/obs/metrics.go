package obs

import (
	"net/http"
	"strconv"
	"strings"
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

	rateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "http_rate_limited_total",
		Help: "Requests rejected by the rate limiter.",
	})

	analyticsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "analytics_dropped_total",
		Help: "Analytics rows dropped because the recorder queue was full or the write failed.",
	})
)

// Init registers the metrics in the default registry. Call once from main.
func Init() {
	prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration, rateLimitedTotal, analyticsDroppedTotal)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RateLimited counts one rejected request.
func RateLimited() { rateLimitedTotal.Inc() }

// AnalyticsDropped counts one analytics row that never reached the store.
func AnalyticsDropped() { analyticsDroppedTotal.Inc() }

// Instrument records RPS, latency and in-flight requests.
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

// CanonicalPath collapses path parameters so metric label cardinality stays bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	switch {
	case len(parts) == 3 && parts[0] == "api" && parts[1] == "track":
		return "/api/track/:trackingNumber"
	case len(parts) == 4 && parts[0] == "api" && parts[1] == "track" && parts[3] == "owner":
		return "/api/track/:trackingNumber/owner"
	case len(parts) == 3 && parts[0] == "auth" && parts[1] == "users":
		return "/auth/users/:id"
	case len(parts) >= 1 && parts[0] == "uploads":
		return "/uploads/*"
	}
	return raw
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
