// ABOUTME: Prometheus metrics for license decisions, quota, sweeps, sessions and HTTP
// ABOUTME: Collectors register once into the default registry and are served at /metrics

package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "license_gateway"

var (
	registerOnce sync.Once

	// LicenseDecisions counts resolver outcomes by result and scope.
	LicenseDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "license_decisions_total",
			Help:      "Entitlement resolutions by result (granted/denied) and scope.",
		},
		[]string{"result", "scope"},
	)

	// QuotaChecks counts quota decisions by result.
	QuotaChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_checks_total",
			Help:      "Quota checks by result (allowed/denied).",
		},
		[]string{"result"},
	)

	// GrantsExpired counts grants moved to expired by the sweeper.
	GrantsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "grants_expired_total",
		Help:      "Grants transitioned to expired by the sweeper.",
	})

	// Sessions counts issued token pairs by kind (login/refresh).
	Sessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_issued_total",
			Help:      "Issued access/refresh token pairs by kind.",
		},
		[]string{"kind"},
	)

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "http_in_flight_requests",
		Help:      "In-flight HTTP requests.",
	})

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// Register adds every collector to the default registry. Safe to call repeatedly.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			LicenseDecisions,
			QuotaChecks,
			GrantsExpired,
			Sessions,
			httpInFlight,
			httpRequestDuration,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records latency and status per route pattern.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		start := time.Now()
		sw := &StatusWriter{ResponseWriter: w, Code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		httpRequestDuration.WithLabelValues(r.Method, route, strconv.Itoa(sw.Code)).
			Observe(time.Since(start).Seconds())
	})
}

// StatusWriter captures the response status code.
type StatusWriter struct {
	http.ResponseWriter
	Code int
}

// WriteHeader records the code and forwards it.
func (w *StatusWriter) WriteHeader(code int) {
	w.Code = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *StatusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
