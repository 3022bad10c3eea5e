// Package metrics exposes Prometheus collectors for the service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "necrologia"

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 5, 30, 60},
		},
		[]string{"method", "route"},
	)

	announcementsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "announcements_submitted_total",
			Help:      "Announcements created by type",
		},
		[]string{"type"},
	)

	statusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "announcement_status_transitions_total",
			Help:      "Moderation status changes",
		},
		[]string{"from", "to"},
	)

	paymentsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_recorded_total",
			Help:      "Payment outcomes applied to announcements",
		},
		[]string{"outcome"},
	)

	gatewayCalls = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mpesa_request_duration_seconds",
			Help:      "M-Pesa initiation latency by result",
			Buckets:   []float64{.1, .25, .5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"result"},
	)

	notificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by kind, channel and status",
		},
		[]string{"kind", "channel", "status"},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"name"},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idempotency_hits_total",
			Help:      "Submissions replayed from the idempotency cache",
		},
	)

	rateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Requests rejected by the rate limiter",
		},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_active",
			Help:      "Acquired database connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, route string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func RecordSubmission(announcementType string) {
	announcementsSubmitted.WithLabelValues(announcementType).Inc()
}

func RecordStatusTransition(from, to string) {
	statusTransitions.WithLabelValues(from, to).Inc()
}

// RecordPayment counts a payment outcome: paid, failed or duplicate.
func RecordPayment(outcome string) {
	paymentsRecorded.WithLabelValues(outcome).Inc()
}

// RecordGatewayCall observes one M-Pesa initiation.
func RecordGatewayCall(result string, duration time.Duration) {
	gatewayCalls.WithLabelValues(result).Observe(duration.Seconds())
}

func RecordNotification(kind, channel, status string) {
	notificationsSent.WithLabelValues(kind, channel, status).Inc()
}

// SetBreakerState publishes a circuit breaker state as its numeric value.
func SetBreakerState(name string, state int) {
	breakerState.WithLabelValues(name).Set(float64(state))
}

func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

func RecordRateLimitRejection() {
	rateLimitRejections.Inc()
}

func SetDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request metrics labelled by the matched chi route
// pattern, so slugs and ids do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		RecordRequest(r.Method, route, wrapped.status, time.Since(start))
	})
}
