package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	DispatchMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_messages_total",
			Help: "Total number of messages handled by the dispatcher (count)",
		},
		[]string{"outcome"},
	)

	DispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_duration_ms",
			Help:    "End-to-end dispatch duration per message in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"outcome"},
	)

	PipelineInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_invocations_total",
			Help: "Total number of pipeline run requests (count)",
		},
		[]string{"pipeline", "status"},
	)

	DedupChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_checks_total",
			Help: "Total number of idempotency ledger checks (count)",
		},
		[]string{"status"},
	)

	LeaseAcquisitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lease_acquisitions_total",
			Help: "Total number of scheduled-run lease acquisition attempts (count)",
		},
		[]string{"resource", "status"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts before dead-lettering (count)",
		},
		[]string{"service"},
	)

	DeadLettersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dead_letters_total",
			Help: "Total number of messages written to the dead-letter store (count)",
		},
		[]string{"reason"},
	)

	DeadLetterReplaysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dead_letter_replays_total",
			Help: "Total number of dead-letter replay attempts (count)",
		},
		[]string{"outcome"},
	)

	StatusPollDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "status_poll_duration_ms",
			Help:    "Duration of run-status polling loops in milliseconds",
			Buckets: []float64{100, 500, 1000, 5000, 15000, 60000, 300000},
		},
		[]string{"outcome"},
	)

	RoutingRulesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "routing_rules_active",
			Help: "Number of routing rules in the active snapshot (count)",
		},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	WebhookNotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_notifications_total",
			Help: "Total number of terminal-status webhook deliveries (count)",
		},
		[]string{"status"},
	)
)

func RegisterDispatchMetrics() {
	prometheus.MustRegister(
		DispatchMessagesTotal,
		DispatchDuration,
		PipelineInvocationsTotal,
		DedupChecksTotal,
		RetryAttemptsTotal,
		DeadLettersTotal,
		RoutingRulesActive,
	)
}

func RegisterSchedulerMetrics() {
	prometheus.MustRegister(
		LeaseAcquisitionsTotal,
		PipelineInvocationsTotal,
		StatusPollDuration,
		WebhookNotificationsTotal,
	)
}

func RegisterReplayMetrics() {
	prometheus.MustRegister(
		DeadLetterReplaysTotal,
	)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(
		CircuitBreakerState,
		CircuitBreakerRequests,
	)
}

func RegisterRateLimitMetrics() {
	prometheus.MustRegister(
		RateLimitRequestsTotal,
	)
}

func ObserveDispatchDuration(d time.Duration, outcome string) {
	DispatchDuration.WithLabelValues(outcome).Observe(float64(d.Milliseconds()))
}

func ObserveStatusPollDuration(d time.Duration, outcome string) {
	StatusPollDuration.WithLabelValues(outcome).Observe(float64(d.Milliseconds()))
}
