package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for bizy.
type Metrics struct {
	config MetricsConfig

	// Execution metrics
	executionsStarted   *prometheus.CounterVec
	executionsCompleted *prometheus.CounterVec
	executionDuration   *prometheus.HistogramVec

	// Condition metrics
	conditionsEvaluated *prometheus.CounterVec

	// Action metrics
	actionsExecuted *prometheus.CounterVec
	actionDuration  *prometheus.HistogramVec
	actionRetries   *prometheus.CounterVec

	// Adapter metrics
	adapterCalls    *prometheus.CounterVec
	adapterDuration *prometheus.HistogramVec
	adapterErrors   *prometheus.CounterVec
	adapterHealth   *prometheus.GaugeVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// Circuit breaker metrics
	breakerState *prometheus.GaugeVec

	// Event bus metrics
	eventsPublished *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec

	// Monitor metrics
	monitorAlerts *prometheus.CounterVec

	// System metrics
	activeExecutions prometheus.Gauge
	rulesLoaded      prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	// Create a new registry
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		// Execution metrics
		executionsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_started_total",
				Help:      "Total number of rule executions started",
			},
			[]string{"rule_id"},
		),
		executionsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_completed_total",
				Help:      "Total number of rule executions completed",
			},
			[]string{"rule_id", "status"},
		),
		executionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_seconds",
				Help:      "Duration of rule execution in seconds",
				Buckets:   buckets,
			},
			[]string{"rule_id", "status"},
		),

		// Condition metrics
		conditionsEvaluated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conditions_evaluated_total",
				Help:      "Total number of condition evaluations",
			},
			[]string{"operator", "outcome"},
		),

		// Action metrics
		actionsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_executed_total",
				Help:      "Total number of actions executed",
			},
			[]string{"framework", "status"},
		),
		actionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "action_duration_seconds",
				Help:      "Duration of action execution in seconds",
				Buckets:   buckets,
			},
			[]string{"framework", "action"},
		),
		actionRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "action_retries_total",
				Help:      "Total number of action retry attempts",
			},
			[]string{"framework"},
		),

		// Adapter metrics
		adapterCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "adapter_calls_total",
				Help:      "Total number of adapter calls",
			},
			[]string{"adapter", "action"},
		),
		adapterDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "adapter_call_duration_seconds",
				Help:      "Duration of adapter calls in seconds",
				Buckets:   buckets,
			},
			[]string{"adapter", "action"},
		),
		adapterErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "adapter_errors_total",
				Help:      "Total number of adapter errors",
			},
			[]string{"adapter", "action"},
		),
		adapterHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "adapter_health_score",
				Help:      "Current health score of adapters (0.0 to 1.0)",
			},
			[]string{"adapter", "framework"},
		),

		// Error metrics
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		// Circuit breaker metrics
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"framework"},
		),

		// Event bus metrics
		eventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Total number of events published to the bus",
			},
			[]string{"type"},
		),
		eventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dropped_total",
				Help:      "Total number of events dropped due to slow subscribers",
			},
			[]string{"type"},
		),

		// Monitor metrics
		monitorAlerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "monitor_alerts_total",
				Help:      "Total number of coordination alerts raised",
			},
			[]string{"pattern"},
		),

		// System metrics
		activeExecutions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_executions",
				Help:      "Current number of in-flight rule executions",
			},
		),
		rulesLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rules_loaded",
				Help:      "Current number of loaded rules",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.executionsStarted,
		m.executionsCompleted,
		m.executionDuration,
		m.conditionsEvaluated,
		m.actionsExecuted,
		m.actionDuration,
		m.actionRetries,
		m.adapterCalls,
		m.adapterDuration,
		m.adapterErrors,
		m.adapterHealth,
		m.errorsByClass,
		m.errorsByCode,
		m.breakerState,
		m.eventsPublished,
		m.eventsDropped,
		m.monitorAlerts,
		m.activeExecutions,
		m.rulesLoaded,
	)

	return m, nil
}

// Execution Metrics

// RecordExecutionStarted increments the counter for started executions.
func (m *Metrics) RecordExecutionStarted(ruleID string) {
	if m.executionsStarted == nil {
		return
	}
	m.executionsStarted.WithLabelValues(ruleID).Inc()
	m.activeExecutions.Inc()
}

// RecordExecutionCompleted records a completed execution with its status and duration.
func (m *Metrics) RecordExecutionCompleted(ruleID, status string, duration time.Duration) {
	if m.executionsCompleted == nil {
		return
	}
	m.executionsCompleted.WithLabelValues(ruleID, status).Inc()
	m.executionDuration.WithLabelValues(ruleID, status).Observe(duration.Seconds())
	m.activeExecutions.Dec()
}

// Condition Metrics

// RecordConditionEvaluated records a single condition evaluation.
func (m *Metrics) RecordConditionEvaluated(operator string, matched bool) {
	if m.conditionsEvaluated == nil {
		return
	}
	outcome := "no_match"
	if matched {
		outcome = "match"
	}
	m.conditionsEvaluated.WithLabelValues(operator, outcome).Inc()
}

// Action Metrics

// RecordActionExecution records the execution of a single action.
func (m *Metrics) RecordActionExecution(framework, action, status string, duration time.Duration) {
	if m.actionsExecuted == nil {
		return
	}
	m.actionsExecuted.WithLabelValues(framework, status).Inc()
	m.actionDuration.WithLabelValues(framework, action).Observe(duration.Seconds())
}

// RecordActionRetry records a retry attempt for an action.
func (m *Metrics) RecordActionRetry(framework string) {
	if m.actionRetries == nil {
		return
	}
	m.actionRetries.WithLabelValues(framework).Inc()
}

// Adapter Metrics

// RecordAdapterCall records an adapter call with its duration.
func (m *Metrics) RecordAdapterCall(adapter, action string, duration time.Duration) {
	if m.adapterCalls == nil {
		return
	}
	m.adapterCalls.WithLabelValues(adapter, action).Inc()
	m.adapterDuration.WithLabelValues(adapter, action).Observe(duration.Seconds())
}

// RecordAdapterError records an adapter error.
func (m *Metrics) RecordAdapterError(adapter, action string) {
	if m.adapterErrors == nil {
		return
	}
	m.adapterErrors.WithLabelValues(adapter, action).Inc()
}

// SetAdapterHealth sets the health score of an adapter instance.
func (m *Metrics) SetAdapterHealth(adapter, framework string, score float64) {
	if m.adapterHealth == nil {
		return
	}
	m.adapterHealth.WithLabelValues(adapter, framework).Set(score)
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Breaker Metrics

// SetBreakerState sets the circuit breaker state for a framework.
func (m *Metrics) SetBreakerState(framework string, state float64) {
	if m.breakerState == nil {
		return
	}
	m.breakerState.WithLabelValues(framework).Set(state)
}

// Event Bus Metrics

// RecordEventPublished records an event published to the bus.
func (m *Metrics) RecordEventPublished(eventType string) {
	if m.eventsPublished == nil {
		return
	}
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

// RecordEventDropped records an event dropped for a slow subscriber.
func (m *Metrics) RecordEventDropped(eventType string) {
	if m.eventsDropped == nil {
		return
	}
	m.eventsDropped.WithLabelValues(eventType).Inc()
}

// Monitor Metrics

// RecordMonitorAlert records a coordination alert by pattern name.
func (m *Metrics) RecordMonitorAlert(pattern string) {
	if m.monitorAlerts == nil {
		return
	}
	m.monitorAlerts.WithLabelValues(pattern).Inc()
}

// System Metrics

// SetActiveExecutions sets the current number of in-flight executions.
func (m *Metrics) SetActiveExecutions(count float64) {
	if m.activeExecutions == nil {
		return
	}
	m.activeExecutions.Set(count)
}

// SetRulesLoaded sets the current number of loaded rules.
func (m *Metrics) SetRulesLoaded(count float64) {
	if m.rulesLoaded == nil {
		return
	}
	m.rulesLoaded.Set(count)
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
