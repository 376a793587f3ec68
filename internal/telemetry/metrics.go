package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gthanks"

var (
	// operationsTotal counts reservation operations.
	// Labels: operation (create, cancel, mark_purchased, ...), outcome (ok, not_found, conflict, ...)
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reservations",
		Name:      "operations_total",
		Help:      "Reservation operations by outcome",
	}, []string{"operation", "outcome"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "reservations",
		Name:      "operation_duration_seconds",
		Help:      "Reservation operation latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"operation"})

	// bulkItemsTotal counts individual ids processed by bulk operations.
	// Labels: operation, result (succeeded, failed)
	bulkItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reservations",
		Name:      "bulk_items_total",
		Help:      "Ids processed by bulk reservation operations",
	}, []string{"operation", "result"})

	rateLimitDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ratelimit",
		Name:      "decisions_total",
		Help:      "Rate limit decisions for reservation writes",
	}, []string{"decision"})

	// rateLimitFailOpen counts checks allowed because the limiter was unavailable.
	// Labels: reason (error, timeout)
	rateLimitFailOpen = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ratelimit",
		Name:      "fail_open_total",
		Help:      "Rate limit checks allowed because the backend was unavailable",
	}, []string{"reason"})

	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notifications",
		Name:      "total",
		Help:      "Confirmation notifications by outcome",
	}, []string{"outcome"})
)

func ObserveOperation(operation, outcome string, elapsed time.Duration) {
	operationsTotal.WithLabelValues(operation, outcome).Inc()
	operationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func ObserveBulkItems(operation string, succeeded, failed int) {
	bulkItemsTotal.WithLabelValues(operation, "succeeded").Add(float64(succeeded))
	bulkItemsTotal.WithLabelValues(operation, "failed").Add(float64(failed))
}

func ObserveRateLimit(allowed bool) {
	if allowed {
		rateLimitDecisions.WithLabelValues("allowed").Inc()
		return
	}
	rateLimitDecisions.WithLabelValues("denied").Inc()
}

func ObserveRateLimitFailOpen(reason string) {
	rateLimitFailOpen.WithLabelValues(reason).Inc()
}

func ObserveNotification(outcome string) {
	notificationsTotal.WithLabelValues(outcome).Inc()
}

// MetricsHandler serves the default registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
