package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bizyhq/bizy/pkg/events"
	"github.com/bizyhq/bizy/pkg/rule"
	"github.com/bizyhq/bizy/pkg/telemetry"
)

const (
	// defaultMaxParallel bounds concurrent actions within a stage.
	defaultMaxParallel = 4

	// maxFallbackDepth bounds fallback rule chains.
	maxFallbackDepth = 5
)

// Options configures an Orchestrator. Registry is required; everything
// else is optional.
type Options struct {
	// Registry resolves adapters per framework.
	Registry AdapterRegistry

	// Guard authorizes executions. Nil allows everything.
	Guard Guard

	// Store persists rules, executions, and events. Nil disables
	// persistence and fallback lookup through the store.
	Store Store

	// RuleSource resolves fallback rules. Defaults to Store when nil.
	RuleSource RuleSource

	// Bus receives execution lifecycle events. Nil disables publishing.
	Bus events.Bus

	// Metrics records execution metrics. Nil disables them.
	Metrics *telemetry.Metrics

	// Tracer emits execution and action spans. Nil disables tracing.
	Tracer *telemetry.Tracer

	// Strategy selects the load-balancing strategy across adapter
	// instances. Defaults to round robin.
	Strategy Strategy

	// MaxParallel bounds concurrent actions within a stage.
	MaxParallel int

	// BreakerThreshold is the consecutive failure count that trips a
	// framework's circuit. Zero uses the default.
	BreakerThreshold int

	// BreakerCooldown is how long a tripped circuit stays open.
	// Zero uses the default.
	BreakerCooldown time.Duration
}

// Orchestrator executes rules: it authorizes the caller, evaluates
// conditions, stages actions by dependency, dispatches them to adapters
// through the balancer and breaker, and applies the rule's error handling.
type Orchestrator struct {
	logger   zerolog.Logger
	registry AdapterRegistry
	guard    Guard
	store    Store
	rules    RuleSource
	bus      events.Bus
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	balancer *Balancer
	breaker  *Breaker
	compiler *rule.Compiler

	maxParallel int

	mu             sync.Mutex
	active         int
	adapterHealthy map[string]bool
}

// New creates an orchestrator.
func New(logger zerolog.Logger, opts Options) (*Orchestrator, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("adapter registry is required")
	}
	maxParallel := opts.MaxParallel
	if maxParallel <= 0 {
		maxParallel = defaultMaxParallel
	}
	ruleSource := opts.RuleSource
	if ruleSource == nil && opts.Store != nil {
		ruleSource = storeRuleSource{opts.Store}
	}

	o := &Orchestrator{
		logger:         logger.With().Str("component", "orchestrator").Logger(),
		registry:       opts.Registry,
		guard:          opts.Guard,
		store:          opts.Store,
		rules:          ruleSource,
		bus:            opts.Bus,
		metrics:        opts.Metrics,
		tracer:         opts.Tracer,
		balancer:       NewBalancer(logger, opts.Strategy),
		breaker:        NewBreaker(logger, opts.BreakerThreshold, opts.BreakerCooldown),
		compiler:       rule.NewCompiler(),
		maxParallel:    maxParallel,
		adapterHealthy: make(map[string]bool),
	}

	o.breaker.OnStateChange(func(framework string, state BreakerState) {
		if o.metrics != nil {
			o.metrics.SetBreakerState(framework, breakerStateValue(state))
		}
		switch state {
		case BreakerOpen:
			o.publish(context.Background(), events.TypeBreakerOpened, "", map[string]interface{}{
				"framework": framework,
			})
		case BreakerClosed:
			o.publish(context.Background(), events.TypeBreakerClosed, "", map[string]interface{}{
				"framework": framework,
			})
		}
	})

	// Seed the balancer from adapters registered up front.
	for _, adapter := range opts.Registry.List() {
		o.balancer.AddInstance(adapter.Name(), adapter.Framework(), 1)
	}
	return o, nil
}

// Balancer exposes the load balancer, for instance management and stats.
func (o *Orchestrator) Balancer() *Balancer { return o.balancer }

// Breaker exposes the circuit breaker state.
func (o *Orchestrator) Breaker() *Breaker { return o.breaker }

// ExecuteRule loads a rule by ID and executes it.
func (o *Orchestrator) ExecuteRule(ctx context.Context, ruleID string, execCtx map[string]interface{}, opts ExecuteOptions) (*Result, error) {
	if o.rules == nil {
		return nil, NewPermanentError("no rule source configured", nil).
			WithCode(ErrCodeInternal)
	}
	r, err := o.rules.GetRule(ctx, ruleID)
	if err != nil {
		return nil, NewPermanentError(fmt.Sprintf("failed to load rule %s", ruleID), err).
			WithCode(ErrCodeNotFound).
			WithRule(ruleID)
	}
	return o.Execute(ctx, *r, execCtx, opts)
}

// Execute runs a single rule against the execution context.
func (o *Orchestrator) Execute(ctx context.Context, r rule.Rule, execCtx map[string]interface{}, opts ExecuteOptions) (*Result, error) {
	return o.execute(ctx, r, execCtx, opts, nil)
}

// ExecuteBatch runs several rules. Sequential batches run in descending
// priority order; parallel batches run concurrently bounded by the
// orchestrator's parallelism limit.
func (o *Orchestrator) ExecuteBatch(ctx context.Context, batch []rule.Rule, execCtx map[string]interface{}, opts BatchOptions) ([]Result, error) {
	ordered := make([]rule.Rule, len(batch))
	copy(ordered, batch)
	rule.SortByPriority(ordered)

	results := make([]Result, len(ordered))

	if !opts.Parallel {
		for i, r := range ordered {
			result, err := o.execute(ctx, r, execCtx, opts.ExecuteOptions, nil)
			if err != nil {
				return results[:i], err
			}
			results[i] = *result
		}
		return results, nil
	}

	sem := make(chan struct{}, o.maxParallel)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i, r := range ordered {
		wg.Add(1)
		go func(i int, r rule.Rule) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			result, err := o.execute(ctx, r, execCtx, opts.ExecuteOptions, nil)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			results[i] = *result
		}(i, r)
	}
	wg.Wait()
	return results, firstErr
}

// HealthCheck reports adapter health across the registry.
func (o *Orchestrator) HealthCheck(ctx context.Context) HealthReport {
	reports := o.registry.HealthCheckAll(ctx)
	healthy := true
	for _, report := range reports {
		if !report.Healthy {
			healthy = false
		}
		score := 0.0
		if report.Healthy {
			score = 1.0
		}
		o.balancer.SetHealth(report.Adapter, report.Framework, score)
		if o.metrics != nil {
			o.metrics.SetAdapterHealth(report.Adapter, report.Framework, score)
		}

		o.mu.Lock()
		prev, seen := o.adapterHealthy[report.Adapter]
		o.adapterHealthy[report.Adapter] = report.Healthy
		o.mu.Unlock()
		if report.Healthy == prev || (!seen && report.Healthy) {
			continue
		}
		eventType := events.TypeAdapterUnhealthy
		if report.Healthy {
			eventType = events.TypeAdapterRecovered
		}
		o.publish(ctx, eventType, "", map[string]interface{}{
			"adapter":   report.Adapter,
			"framework": report.Framework,
			"message":   report.Message,
		})
	}
	return HealthReport{
		Healthy:   healthy,
		Adapters:  reports,
		CheckedAt: time.Now().UTC(),
	}
}

// StartHealthLoop runs periodic health checks until ctx is done.
func (o *Orchestrator) StartHealthLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				report := o.HealthCheck(ctx)
				if !report.Healthy {
					o.logger.Warn().Msg("Adapter health check reported unhealthy adapters")
				}
				o.balancer.RebalanceWeights()
			}
		}
	}()
}

// publish sends an execution lifecycle event to the bus. Without a bus the
// event is appended straight to the store; with one, persistence is the bus
// consumers' job, so the event is never written twice.
func (o *Orchestrator) publish(ctx context.Context, eventType events.Type, correlationID string, data map[string]interface{}) {
	event := events.New(eventType, "orchestrator", data).WithCorrelation(correlationID)

	switch {
	case o.bus != nil:
		if err := o.bus.Publish(ctx, event); err != nil {
			o.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to publish event")
		}
	case o.store != nil:
		if err := o.store.AppendEvent(ctx, &event); err != nil {
			o.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to persist event")
		}
	}
	if o.metrics != nil {
		o.metrics.RecordEventPublished(string(eventType))
	}
}

func (o *Orchestrator) trackActive(delta int) {
	o.mu.Lock()
	o.active += delta
	active := o.active
	o.mu.Unlock()
	if o.metrics != nil {
		o.metrics.SetActiveExecutions(float64(active))
	}
}

// storeRuleSource adapts a Store to the RuleSource interface.
type storeRuleSource struct {
	store Store
}

func (s storeRuleSource) GetRule(ctx context.Context, id string) (*rule.Rule, error) {
	return s.store.GetRule(ctx, id)
}

// newExecutionID returns a fresh execution identifier.
func newExecutionID() string {
	return uuid.New().String()
}
