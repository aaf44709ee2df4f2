package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_decisions_total",
			Help: "Total number of decisions produced by the orchestrator (count)",
		},
		[]string{"classification"},
	)

	DecisionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "triage_decision_duration_ms",
			Help:    "End-to-end decision pipeline duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"classification"},
	)

	DedupChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_dedup_checks_total",
			Help: "Total number of duplicate checks by result (count)",
		},
		[]string{"result"},
	)

	DedupCheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "triage_dedup_check_duration_ms",
			Help:    "Duplicate check duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		},
		[]string{"result"},
	)

	FatigueChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_fatigue_checks_total",
			Help: "Total number of fatigue limit checks by outcome (count)",
		},
		[]string{"outcome"},
	)

	RuleEvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_rule_evaluations_total",
			Help: "Total number of rule evaluations by rule key and action (count)",
		},
		[]string{"rule_key", "action"},
	)

	ActiveRules = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "triage_active_rules",
			Help: "Number of active rule configs loaded (count)",
		},
	)

	DeferredSweepItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_deferred_sweep_items_total",
			Help: "Total number of deferred items processed by the scheduler by outcome (count)",
		},
		[]string{"outcome"},
	)

	DeferredPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "triage_deferred_pending",
			Help: "Number of deferred notifications currently pending (count)",
		},
	)

	AuditWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_audit_writes_total",
			Help: "Total number of decision audit record writes (count)",
		},
		[]string{"status"},
	)

	FallbackUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_fallback_usage_total",
			Help: "Total number of degraded-mode fallbacks taken (count)",
		},
		[]string{"component", "mode", "reason"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "topic"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of messages sent to DLQ (count)",
		},
		[]string{"service", "topic", "reason"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of Kafka messages read (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of Kafka messages written (count)",
		},
		[]string{"service", "topic"},
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

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)
)

func RegisterDecisionMetrics() {
	prometheus.MustRegister(DecisionsTotal)
	prometheus.MustRegister(DecisionDuration)
	prometheus.MustRegister(DedupChecksTotal)
	prometheus.MustRegister(DedupCheckDuration)
	prometheus.MustRegister(FatigueChecksTotal)
	prometheus.MustRegister(RuleEvaluationsTotal)
	prometheus.MustRegister(ActiveRules)
	prometheus.MustRegister(AuditWritesTotal)
	prometheus.MustRegister(FallbackUsageTotal)
}

func RegisterSchedulerMetrics() {
	prometheus.MustRegister(DeferredSweepItemsTotal)
	prometheus.MustRegister(DeferredPending)
}

func RegisterBrokerMetrics() {
	prometheus.MustRegister(RetryAttemptsTotal)
	prometheus.MustRegister(DLQMessagesTotal)
	prometheus.MustRegister(KafkaMessagesReadTotal)
	prometheus.MustRegister(KafkaMessagesWrittenTotal)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
}

func RegisterRateLimitMetrics() {
	prometheus.MustRegister(RateLimitRequestsTotal)
}

func ObserveDecisionDuration(duration time.Duration, classification string) {
	DecisionDuration.WithLabelValues(classification).Observe(float64(duration.Milliseconds()))
}

func ObserveDedupCheckDuration(duration time.Duration, result string) {
	DedupCheckDuration.WithLabelValues(result).Observe(float64(duration.Milliseconds()))
}

func SetActiveRules(count int) {
	ActiveRules.Set(float64(count))
}

func SetDeferredPending(count int) {
	DeferredPending.Set(float64(count))
}

func IncKafkaMessagesRead(service, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(service, topic).Inc()
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}
