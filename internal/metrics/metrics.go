// Package metrics provides Prometheus instrumentation for the settlement
// engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MarketsCreated counts markets ever created.
	MarketsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "walmarket_markets_created_total",
		Help: "Total number of markets created",
	})

	// StakesTotal counts stakes placed, partitioned by prediction.
	StakesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "walmarket_stakes_total",
		Help: "Total number of stakes placed",
	}, []string{"prediction"})

	// ResolutionsTotal counts market resolutions, partitioned by outcome.
	ResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "walmarket_resolutions_total",
		Help: "Total number of markets resolved",
	}, []string{"outcome"})

	// ClaimsTotal counts claims settled, partitioned by result (won/lost).
	ClaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "walmarket_claims_total",
		Help: "Total number of positions claimed",
	}, []string{"result"})

	// PayoutUnits accumulates value transferred to winning claimants.
	PayoutUnits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "walmarket_payout_units_total",
		Help: "Cumulative value paid out to winning positions",
	})

	// PassesIssued counts access passes issued, partitioned by tier.
	PassesIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "walmarket_passes_issued_total",
		Help: "Total number of access passes issued",
	}, []string{"tier"})

	// AccessDenied counts premium evidence requests rejected by the
	// access policy, partitioned by reason.
	AccessDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "walmarket_access_denied_total",
		Help: "Premium access checks rejected",
	}, []string{"reason"})

	// EventClients tracks connected event-stream WebSocket clients.
	EventClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "walmarket_event_clients",
		Help: "Number of connected event-stream clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "walmarket_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "walmarket_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label to keep this middleware
		// router-agnostic; cardinality is bounded by the API surface.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
