// Package telemetry provides observability instrumentation for bizy.
//
// The telemetry package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), and metrics (Prometheus) into a unified system for monitoring and
// debugging rule orchestration.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "bizy"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	// Start metrics server
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
// Add telemetry to context:
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with automatic context propagation:
//
//	logger := tel.Logger.NewComponentLogger("executor")
//	logger = logger.WithRuleID("fraud-screening").WithExecutionID(execID)
//	logger.Info("Starting rule execution")
//	logger.WithError(err).Error("Execution failed")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Tracing provides visibility into rule execution flow and performance:
//
//	ctx, span := tel.Tracer.StartExecutionSpan(ctx, executionID, ruleID)
//	defer span.End()
//
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	}
//
// Supported exporters: OTLP (production), Stdout (development)
//
// # Metrics
//
// Prometheus metrics track orchestration behavior:
//
//	tel.Metrics.RecordExecutionStarted(ruleID)
//	tel.Metrics.RecordExecutionCompleted(ruleID, "succeeded", duration)
//	tel.Metrics.RecordAdapterCall("langchain-primary", "classify", duration)
//	tel.Metrics.RecordError("transient", "TIMEOUT")
//
// Metrics are exposed via HTTP at /metrics (default: :9090/metrics)
//
// # Context Helpers
//
// High-level helpers simplify common instrumentation patterns:
//
//	ctx = telemetry.WithExecutionContext(ctx, executionID, ruleID)
//	defer telemetry.EndExecutionContext(ctx, ruleID, status, err)
//
//	err := telemetry.RecordAdapterOperation(ctx, "webhook-orders", "execute", func() error {
//	    return adapter.Execute(ctx, action, execCtx)
//	})
//
// # Configuration
//
// The package provides pre-configured setups for different environments:
//
//	cfg := telemetry.DevelopmentConfig() // verbose logging, stdout traces, full sampling
//	cfg := telemetry.ProductionConfig()  // JSON logs, OTLP traces, 10% sampling
package telemetry
