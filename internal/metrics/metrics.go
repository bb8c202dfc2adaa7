// Package metrics provides Prometheus metrics for the intake service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhooksTotal tracks inbound webhook deliveries by HTTP outcome.
	WebhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warranty",
			Subsystem: "webhook",
			Name:      "requests_total",
			Help:      "Total number of voice webhook deliveries by response status",
		},
		[]string{"status"},
	)

	// IntakeDuration tracks end-to-end processing time of one delivery.
	IntakeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "warranty",
			Subsystem: "intake",
			Name:      "process_duration_seconds",
			Help:      "Duration of call intake processing in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	// CallsTotal tracks processed deliveries by scenario and finality.
	CallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warranty",
			Subsystem: "intake",
			Name:      "calls_total",
			Help:      "Total number of processed call deliveries by scenario",
		},
		[]string{"scenario", "final"},
	)

	// StepFailures tracks absorbed failures per pipeline step.
	StepFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warranty",
			Subsystem: "intake",
			Name:      "step_failures_total",
			Help:      "Total number of logged and absorbed failures by pipeline step",
		},
		[]string{"step"},
	)

	// ClaimsCreated tracks auto-created claims.
	ClaimsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "warranty",
			Subsystem: "intake",
			Name:      "claims_created_total",
			Help:      "Total number of warranty claims auto-created from calls",
		},
	)

	// ClaimsSuppressed tracks claims skipped by the duplicate guard.
	ClaimsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "warranty",
			Subsystem: "intake",
			Name:      "claims_suppressed_total",
			Help:      "Total number of claims suppressed because an open claim already existed",
		},
	)

	// MatchSimilarity tracks the similarity of accepted homeowner matches.
	MatchSimilarity = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "warranty",
			Subsystem: "resolver",
			Name:      "match_similarity",
			Help:      "Similarity score of accepted homeowner matches",
			Buckets:   []float64{0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1},
		},
	)

	// FallbacksTotal tracks vendor call-detail fallbacks by outcome.
	FallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warranty",
			Subsystem: "extract",
			Name:      "fallbacks_total",
			Help:      "Total number of vendor call-detail fallbacks by outcome",
		},
		[]string{"outcome"},
	)

	// NotificationsTotal tracks notification attempts by scenario and result.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warranty",
			Subsystem: "notify",
			Name:      "notifications_total",
			Help:      "Total number of notification attempts by scenario and result",
		},
		[]string{"scenario", "status"},
	)

	// CircuitState exposes the breaker state per guarded service (0 closed, 1 open, 2 half-open).
	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "warranty",
			Subsystem: "resilience",
			Name:      "circuit_state",
			Help:      "Circuit breaker state by service (0 closed, 1 open, 2 half-open)",
		},
		[]string{"service"},
	)

	// EventsPublished tracks intake event publishes by status.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warranty",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of intake events published by status",
		},
		[]string{"topic", "status"},
	)
)

// RecordWebhook records one webhook response.
func RecordWebhook(status string) {
	WebhooksTotal.WithLabelValues(status).Inc()
}

// RecordCall records one processed delivery.
func RecordCall(scenario string, final bool, durationSeconds float64) {
	finalLabel := "false"
	if final {
		finalLabel = "true"
	}
	CallsTotal.WithLabelValues(scenario, finalLabel).Inc()
	IntakeDuration.Observe(durationSeconds)
}

// RecordStepFailure records an absorbed failure in a pipeline step.
func RecordStepFailure(step string) {
	StepFailures.WithLabelValues(step).Inc()
}

// RecordFallback records a vendor fallback outcome (ok, error, circuit_open, skipped).
func RecordFallback(outcome string) {
	FallbacksTotal.WithLabelValues(outcome).Inc()
}

// RecordNotification records one notification attempt.
func RecordNotification(scenario string, ok bool) {
	status := "ok"
	if !ok {
		status = "failed"
	}
	NotificationsTotal.WithLabelValues(scenario, status).Inc()
}

// RecordCircuitState records a breaker transition.
func RecordCircuitState(service string, state int) {
	CircuitState.WithLabelValues(service).Set(float64(state))
}

// RecordEventPublish records an event publish.
func RecordEventPublish(topic, status string) {
	EventsPublished.WithLabelValues(topic, status).Inc()
}
