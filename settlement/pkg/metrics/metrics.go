package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "samu_rewards_settlement_build_info",
			Help: "Build information of the SAMU rewards settlement service",
		},
		[]string{"version", "commit", "date"},
	)

	DistributionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "samu_rewards_settlement_distributions_total",
			Help: "Total number of distribution attempts",
		},
		[]string{"status", "code"},
	)

	DistributionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "samu_rewards_settlement_distribution_duration_seconds",
			Help:    "Duration of distribution attempts",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4.1s
		},
	)

	DistributedAmountTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "samu_rewards_settlement_distributed_amount_total",
			Help: "Total token units settled to recipients",
		},
	)

	GovernanceOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "samu_rewards_settlement_governance_operations_total",
			Help: "Total number of configuration governance operations",
		},
		[]string{"operation", "status", "code"},
	)

	EventSinkErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "samu_rewards_settlement_event_sink_errors_total",
			Help: "Total number of events a sink failed to deliver",
		},
		[]string{"sink"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "samu_rewards_settlement_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "samu_rewards_settlement_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "samu_rewards_settlement_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// RecordDistribution records the outcome of a distribution attempt. An empty
// code means success.
func RecordDistribution(duration time.Duration, code string) {
	status := "success"
	if code != "" {
		status = "error"
	}
	DistributionsTotal.WithLabelValues(status, code).Inc()
	DistributionDuration.Observe(duration.Seconds())
}

// RecordGovernance records the outcome of a governance operation.
func RecordGovernance(operation, code string) {
	status := "success"
	if code != "" {
		status = "error"
	}
	GovernanceOperationsTotal.WithLabelValues(operation, status, code).Inc()
}

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Use the route pattern if available, otherwise use the path
		path := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			path = rctx.RoutePattern()
		}
		if path == "" {
			path = r.URL.Path
		}

		status := strconv.Itoa(ww.Status())
		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
