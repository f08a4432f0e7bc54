// Package metrics exposes Prometheus instrumentation for taskpilot.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Inbound chat messages by resolved intent.
	MessagesHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskpilot_messages_handled_total",
			Help: "Inbound chat messages handled, by intent",
		},
		[]string{"intent"},
	)

	// Classifier latency (seconds).
	ClassifierDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskpilot_classifier_duration_seconds",
			Help:    "Intent classification latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"classifier", "status"},
	)

	// Requests waiting for the classifier.
	ClassifierQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskpilot_classifier_queue_depth",
			Help: "Classification requests waiting in the queue",
		},
	)

	// Pending confirmation lifecycle events.
	Confirmations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskpilot_confirmations_total",
			Help: "Pending confirmation batches, by outcome",
		},
		[]string{"outcome"}, // outcome: proposed, committed, expired
	)

	// Recurring trigger firings.
	RecurringFires = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskpilot_recurring_fires_total",
			Help: "Recurring task trigger firings, by outcome",
		},
		[]string{"outcome"}, // outcome: reminded, skipped, failed
	)

	// Business routing decisions.
	RoutingDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskpilot_routing_decisions_total",
			Help: "Business partition routing decisions",
		},
		[]string{"partition", "rule"},
	)

	// Role assignments per task.
	Assignments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskpilot_assignments_total",
			Help: "Tasks assigned, by role",
		},
		[]string{"role"},
	)

	// Sink operation latency (seconds).
	SinkDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "taskpilot_sink_operation_duration_seconds",
			Help:    "Persistence sink operation latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"sink", "operation", "status"},
	)

	// Telegram Bot API calls.
	TelegramRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskpilot_telegram_requests_total",
			Help: "Telegram Bot API requests, by method and status",
		},
		[]string{"method", "status"},
	)
)

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordMessage counts one handled message.
func RecordMessage(intent string) {
	MessagesHandled.WithLabelValues(intent).Inc()
}

// RecordClassification records the latency of one classifier call.
func RecordClassification(classifier string, err error, duration time.Duration) {
	ClassifierDuration.WithLabelValues(classifier, status(err)).Observe(duration.Seconds())
}

// SetQueueDepth sets the number of queued classification requests.
func SetQueueDepth(n int) {
	ClassifierQueueDepth.Set(float64(n))
}

// RecordConfirmation counts a confirmation lifecycle event.
func RecordConfirmation(outcome string) {
	Confirmations.WithLabelValues(outcome).Inc()
}

// RecordRecurringFire counts one recurring trigger firing.
func RecordRecurringFire(outcome string) {
	RecurringFires.WithLabelValues(outcome).Inc()
}

// RecordRouting counts a routing decision.
func RecordRouting(partition, rule string) {
	RoutingDecisions.WithLabelValues(partition, rule).Inc()
}

// RecordAssignment counts a task assignment.
func RecordAssignment(role string) {
	Assignments.WithLabelValues(role).Inc()
}

// RecordSinkOperation records the latency of one sink call.
func RecordSinkOperation(sink, operation string, err error, duration time.Duration) {
	SinkDuration.WithLabelValues(sink, operation, status(err)).Observe(duration.Seconds())
}

// RecordTelegramRequest counts one Bot API request.
func RecordTelegramRequest(method string, err error) {
	TelegramRequests.WithLabelValues(method, status(err)).Inc()
}
