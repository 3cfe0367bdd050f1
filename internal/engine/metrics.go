package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: сколько времени заняла обработка (включая коннектор)
	RequestDuration *prometheus.HistogramVec

	// Traffic: общее кол-во запросов
	TotalRequests *prometheus.CounterVec

	// Решения пайплайна: ok / needs_confirmation / denied
	DecisionTotal *prometheus.CounterVec

	// Errors: классификация отказов
	ErrorTotal *prometheus.CounterVec

	// Cache: сколько ответов отдали из Idempotency Cache без пайплайна
	IdempotencyHits prometheus.Counter

	// Security: сработки детектора повторных отказов
	AnomalyTotal prometheus.Counter

	// Saturation: состояние Circuit Breaker (0 - ок, 1 - выбило)
	CircuitBreakerState *prometheus.GaugeVec

	// Audit: заполненность буфера зеркала (backpressure)
	AuditBufferFill prometheus.Gauge

	// HITL: сколько действий ждут подтверждения человеком
	PendingConfirmations prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "repoops_request_duration_seconds",
			Help:    "Histogram of action processing latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"action_type", "status"}),

		TotalRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "repoops_requests_total",
			Help: "Total number of submitted actions.",
		}, []string{"action_type"}),

		DecisionTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "repoops_decisions_total",
			Help: "Pipeline outcomes by status.",
		}, []string{"status"}), // ok, needs_confirmation, denied

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "repoops_errors_total",
			Help: "Total number of errors by type.",
		}, []string{"type"}), // типы: policy_deny, blocked, rate_limit, validation, execution, store

		IdempotencyHits: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "repoops_idempotency_hits_total",
			Help: "Responses replayed from the idempotency cache.",
		}),

		AnomalyTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "repoops_anomalies_total",
			Help: "Repeated-denial anomalies detected.",
		}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "repoops_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=open).",
		}, []string{"connector_id"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "repoops_audit_buffer_utilization",
			Help: "Current number of events in the audit mirror buffer.",
		}),

		PendingConfirmations: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "repoops_pending_confirmations",
			Help: "Actions currently waiting for human confirmation.",
		}),
	}
}
