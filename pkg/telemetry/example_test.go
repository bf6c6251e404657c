package telemetry_test

import (
	"context"
	"errors"
	"time"

	"github.com/bizyhq/bizy/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	// Create configuration
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = "bizy"
	cfg.ServiceVersion = "1.0.0"

	// Initialize telemetry
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	// Start metrics server (non-blocking)
	if err := tel.StartMetricsServer(); err != nil {
		panic(err)
	}

	// Add telemetry to context
	ctx := tel.WithContext(context.Background())

	// Use telemetry
	logger := telemetry.FromContext(ctx)
	logger.Info("Application started")

	// Output can vary, so we don't specify output for this example
}

// Example_structuredLogging demonstrates structured logging features.
func Example_structuredLogging() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Logging.Output = "stdout"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Component-specific logger
	logger := tel.Logger.NewComponentLogger("executor")

	// Add execution context
	logger = logger.WithRuleID("fraud-screening").WithExecutionID("exec-123")
	logger.Info("Evaluating conditions")

	// Log with error
	err := errors.New("adapter unavailable")
	logger.WithError(err).Error("Action dispatch failed")
}

// Example_instrumentedOperation demonstrates the StartOperation helper.
func Example_instrumentedOperation() {
	cfg := telemetry.DefaultConfig()
	cfg.Tracing.Exporter = "none"
	cfg.Metrics.Enabled = false

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	ic := telemetry.StartOperation(ctx, "rule.compile",
		attribute.String("rule.id", "order-routing"),
	)
	ic.Logger.Info("Compiling rule")

	var err error
	// ... do the work ...
	ic.End(err)
}

// Example_executionContext demonstrates execution-scoped telemetry.
func Example_executionContext() {
	cfg := telemetry.DefaultConfig()
	cfg.Tracing.Exporter = "none"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())
	ctx = telemetry.WithExecutionContext(ctx, "exec-456", "inventory-reorder")

	logger := telemetry.FromContext(ctx)
	logger.Info("Running actions")

	telemetry.EndExecutionContext(ctx, "inventory-reorder", "succeeded", nil)
}

// Example_adapterOperation demonstrates adapter call instrumentation.
func Example_adapterOperation() {
	cfg := telemetry.DefaultConfig()
	cfg.Tracing.Exporter = "none"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	_ = telemetry.RecordAdapterOperation(ctx, "webhook-orders", "execute", func() error {
		time.Sleep(time.Millisecond)
		return nil
	})
}
