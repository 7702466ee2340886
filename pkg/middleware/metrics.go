package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusfeed_http_requests_total",
			Help: "HTTP requests served, by route pattern and status.",
		},
		[]string{"service", "method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "campusfeed_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"service", "method", "path"},
	)

	httpRequestsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "campusfeed_http_requests_in_flight",
			Help: "HTTP requests currently being served.",
		},
		[]string{"service"},
	)

	httpAuthRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusfeed_http_auth_rejected_total",
			Help: "Requests answered with 401, which make clients refresh their access token.",
		},
		[]string{"service", "path"},
	)
)

// PrometheusMetrics counts and times requests per route pattern.
func PrometheusMetrics(serviceName string) func(next http.Handler) http.Handler {
	inFlight := httpRequestsInFlight.WithLabelValues(serviceName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			inFlight.Inc()
			defer inFlight.Dec()

			sw := wrapWriter(w)
			next.ServeHTTP(sw, r)

			path := routePattern(r)
			httpRequestsTotal.WithLabelValues(serviceName, r.Method, path, strconv.Itoa(sw.status)).Inc()
			httpRequestDuration.WithLabelValues(serviceName, r.Method, path).Observe(time.Since(start).Seconds())
			if sw.status == http.StatusUnauthorized {
				httpAuthRejected.WithLabelValues(serviceName, path).Inc()
			}
		})
	}
}
