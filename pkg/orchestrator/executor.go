package orchestrator

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bizyhq/bizy/pkg/events"
	"github.com/bizyhq/bizy/pkg/rule"
)

// execute runs one rule. visited holds the IDs of rules already on the
// fallback chain, so a cycle fails fast instead of re-running rules until
// the depth bound trips.
func (o *Orchestrator) execute(ctx context.Context, r rule.Rule, execCtx map[string]interface{}, opts ExecuteOptions, visited map[string]bool) (*Result, error) {
	if visited[r.ID] {
		return nil, NewPermanentError(
			fmt.Sprintf("fallback chain revisits rule %s", r.ID), nil).
			WithCode(ErrCodeRecursion).
			WithRule(r.ID)
	}
	if len(visited) > maxFallbackDepth {
		return nil, NewPermanentError(
			fmt.Sprintf("fallback chain exceeded %d levels at rule %s", maxFallbackDepth, r.ID), nil).
			WithCode(ErrCodeRecursion).
			WithRule(r.ID)
	}

	result := &Result{
		ExecutionID:   newExecutionID(),
		RuleID:        r.ID,
		CorrelationID: opts.CorrelationID,
		Status:        StatusRunning,
		StartedAt:     time.Now().UTC(),
	}
	if result.CorrelationID == "" {
		result.CorrelationID = result.ExecutionID
	}

	logger := o.logger.With().
		Str("rule_id", r.ID).
		Str("execution_id", result.ExecutionID).
		Logger()

	if o.tracer != nil {
		var span trace.Span
		ctx, span = o.tracer.StartExecutionSpan(ctx, result.ExecutionID, r.ID)
		defer func() {
			span.SetAttributes(attribute.String("execution.status", string(result.Status)))
			if result.Error != "" {
				span.SetStatus(codes.Error, result.Error)
			} else {
				span.SetStatus(codes.Ok, "")
			}
			span.End()
		}()
	}

	if !r.IsEnabled() {
		return nil, NewPermanentError(fmt.Sprintf("rule %s is disabled", r.ID), nil).
			WithCode(ErrCodeValidation).
			WithRule(r.ID)
	}

	if o.guard != nil {
		if err := o.guard.Authorize(ctx, r, opts.Caller); err != nil {
			logger.Warn().Err(err).Str("caller", opts.Caller.ID).Msg("Execution denied")
			return nil, NewPermanentError(fmt.Sprintf("execution of rule %s denied", r.ID), err).
				WithCode(ErrCodePermissionDenied).
				WithRule(r.ID)
		}
	}

	plan, err := o.compiler.Compile(r)
	if err != nil {
		return nil, NewPermanentError(fmt.Sprintf("failed to compile rule %s", r.ID), err).
			WithCode(ErrCodeValidation).
			WithRule(r.ID)
	}

	o.trackActive(1)
	defer o.trackActive(-1)
	if o.metrics != nil {
		o.metrics.RecordExecutionStarted(r.ID)
	}
	o.publish(ctx, events.TypeExecutionStarted, result.CorrelationID, map[string]interface{}{
		"execution_id": result.ExecutionID,
		"rule_id":      r.ID,
		"priority":     r.EffectivePriority().String(),
	})
	if o.store != nil {
		if err := o.store.CreateExecution(ctx, result); err != nil {
			logger.Warn().Err(err).Msg("Failed to persist execution start")
		}
	}

	var observe rule.ConditionObserver
	if o.metrics != nil {
		observe = func(op rule.Operator, matched bool) {
			o.metrics.RecordConditionEvaluated(string(op), matched)
		}
	}
	matched, err := plan.Conditions.EvaluateObserved(execCtx, observe)
	if err != nil {
		return o.finish(ctx, logger, result, StatusFailed,
			NewPermanentError(fmt.Sprintf("condition evaluation failed for rule %s", r.ID), err).
				WithCode(ErrCodeValidation).
				WithRule(r.ID))
	}
	result.ConditionsMet = matched
	if !matched {
		logger.Debug().Msg("Rule conditions not met")
		return o.finish(ctx, logger, result, StatusSkipped, nil)
	}

	if opts.DryRun {
		logger.Info().Msg("Dry run: conditions matched, actions skipped")
		for _, stage := range plan.Stages {
			for _, action := range stage {
				result.ActionResults = append(result.ActionResults, ActionResult{
					Framework: action.Framework,
					Action:    action.Name,
					Status:    StatusSkipped,
				})
			}
		}
		return o.finish(ctx, logger, result, StatusSucceeded, nil)
	}

	execErr := o.runStages(ctx, logger, plan, execCtx, opts, result)
	if execErr == nil {
		return o.finish(ctx, logger, result, StatusSucceeded, nil)
	}
	if ctx.Err() != nil {
		return o.finish(ctx, logger, result, StatusCancelled, execErr)
	}

	// Apply the rule's failure strategy.
	handling := r.ErrorHandling
	switch handling.Strategy {
	case rule.StrategyIgnore:
		logger.Warn().Err(execErr).Msg("Action failure ignored by rule error handling")
		return o.finish(ctx, logger, result, StatusSucceeded, nil)

	case rule.StrategyFallback:
		if handling.Fallback == "" || o.rules == nil {
			return o.finish(ctx, logger, result, StatusFailed, execErr)
		}
		fallback, err := o.rules.GetRule(ctx, handling.Fallback)
		if err != nil {
			logger.Error().Err(err).Str("fallback", handling.Fallback).Msg("Fallback rule not found")
			return o.finish(ctx, logger, result, StatusFailed, execErr)
		}
		logger.Info().Str("fallback", fallback.ID).Msg("Executing fallback rule")
		result.FallbackRuleID = fallback.ID
		next := make(map[string]bool, len(visited)+1)
		for id := range visited {
			next[id] = true
		}
		next[r.ID] = true
		fbResult, fbErr := o.execute(ctx, *fallback, execCtx, opts, next)
		if fbErr != nil || !fbResult.Succeeded() {
			return o.finish(ctx, logger, result, StatusFailed, execErr)
		}
		return o.finish(ctx, logger, result, StatusSucceeded, nil)

	default:
		return o.finish(ctx, logger, result, StatusFailed, execErr)
	}
}

// runStages executes the plan's stages in order, actions within a stage in
// parallel bounded by the configured limit.
func (o *Orchestrator) runStages(ctx context.Context, logger zerolog.Logger, plan *rule.CompiledRule, execCtx map[string]interface{}, opts ExecuteOptions, result *Result) error {
	maxParallel := opts.MaxParallel
	if maxParallel <= 0 {
		maxParallel = o.maxParallel
	}

	for _, stage := range plan.Stages {
		workers := maxParallel
		if len(stage) < workers {
			workers = len(stage)
		}

		queue := make(chan rule.Action, len(stage))
		for _, action := range stage {
			queue <- action
		}
		close(queue)

		type dispatched struct {
			ar    ActionResult
			fatal bool
		}
		stageResults := make(chan dispatched, len(stage))
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for action := range queue {
					ar := o.dispatch(ctx, plan.Rule, action, execCtx, result)
					stageResults <- dispatched{
						ar:    ar,
						fatal: ar.Status == StatusFailed && !action.ContinueOnError,
					}
					select {
					case <-ctx.Done():
						return
					default:
					}
				}
			}()
		}
		wg.Wait()
		close(stageResults)

		var stageErr error
		for d := range stageResults {
			result.ActionResults = append(result.ActionResults, d.ar)
			if d.fatal && stageErr == nil {
				stageErr = NewPermanentError(
					fmt.Sprintf("action %s/%s failed: %s", d.ar.Framework, d.ar.Action, d.ar.Error), nil).
					WithCode(ErrCodeDependencyFailed).
					WithRule(plan.Rule.ID).
					WithFramework(d.ar.Framework)
			}
		}
		if stageErr != nil {
			return stageErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// dispatch executes one action with adapter selection, circuit breaking,
// and retry.
func (o *Orchestrator) dispatch(ctx context.Context, r rule.Rule, action rule.Action, execCtx map[string]interface{}, result *Result) ActionResult {
	ar := ActionResult{
		Framework: action.Framework,
		Action:    action.Name,
		StartedAt: time.Now().UTC(),
	}

	if o.tracer != nil {
		var span trace.Span
		ctx, span = o.tracer.StartActionSpan(ctx, action.Framework, action.Name)
		defer func() {
			span.SetAttributes(
				attribute.String("action.status", string(ar.Status)),
				attribute.Int("action.attempts", ar.Attempts),
			)
			if ar.Error != "" {
				span.SetStatus(codes.Error, ar.Error)
			}
			span.End()
		}()
	}

	maxRetries := action.RetryCount
	if maxRetries == 0 && r.ErrorHandling.Strategy == rule.StrategyRetry {
		maxRetries = r.ErrorHandling.MaxRetries
	}

	tried := make(map[string]bool)
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		ar.Attempts = attempt + 1

		if err := o.breaker.Allow(action.Framework); err != nil {
			lastErr = err
			break
		}

		adapterName, output, err := o.callAdapter(ctx, action, execCtx, tried)
		if adapterName != "" {
			ar.Adapter = adapterName
		}
		if err == nil {
			o.breaker.RecordSuccess(action.Framework)
			ar.Status = StatusSucceeded
			ar.Output = output
			break
		}

		o.breaker.RecordFailure(action.Framework)
		lastErr = err
		if o.metrics != nil {
			o.metrics.RecordError(string(ClassOf(err)), CodeOf(err))
		}

		if !IsRetryable(err) || attempt >= maxRetries {
			break
		}

		delay := calculateBackoff(attempt, err)
		o.logger.Warn().
			Err(err).
			Str("rule_id", r.ID).
			Str("action", action.Name).
			Int("attempt", attempt+1).
			Dur("backoff", delay).
			Msg("Retrying action after failure")
		if o.metrics != nil {
			o.metrics.RecordActionRetry(action.Framework)
		}
		o.publish(ctx, events.TypeActionRetried, result.CorrelationID, map[string]interface{}{
			"execution_id": result.ExecutionID,
			"rule_id":      r.ID,
			"action":       action.Name,
			"framework":    action.Framework,
			"attempt":      attempt + 1,
		})

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = maxRetries
		}
	}

	ar.CompletedAt = time.Now().UTC()
	ar.Duration = ar.CompletedAt.Sub(ar.StartedAt)

	if ar.Status != StatusSucceeded {
		ar.Status = StatusFailed
		if lastErr != nil {
			ar.Error = lastErr.Error()
		}
		if action.ContinueOnError {
			o.logger.Warn().
				Str("action", action.Name).
				Str("error", ar.Error).
				Msg("Action failed, continuing per rule configuration")
		}
	}

	if o.metrics != nil {
		o.metrics.RecordActionExecution(action.Framework, action.Name, string(ar.Status), ar.Duration)
	}
	eventType := events.TypeActionCompleted
	if ar.Status == StatusFailed {
		eventType = events.TypeActionFailed
	}
	o.publish(ctx, eventType, result.CorrelationID, map[string]interface{}{
		"execution_id": result.ExecutionID,
		"rule_id":      r.ID,
		"action":       action.Name,
		"framework":    action.Framework,
		"adapter":      ar.Adapter,
		"status":       string(ar.Status),
		"attempts":     ar.Attempts,
	})
	return ar
}

// callAdapter picks an adapter instance for the framework and executes the
// action against it, feeding the outcome back into the balancer.
func (o *Orchestrator) callAdapter(ctx context.Context, action rule.Action, execCtx map[string]interface{}, tried map[string]bool) (string, map[string]interface{}, error) {
	name, err := o.balancer.Pick(action.Framework, tried)
	if err != nil {
		// Adapters registered after construction may not be in the
		// balancer yet; seed them and retry once.
		if !o.seedInstances(action.Framework) {
			return "", nil, err
		}
		name, err = o.balancer.Pick(action.Framework, tried)
		if err != nil {
			return "", nil, err
		}
	}
	tried[name] = true

	adapter, ok := o.registry.Get(name)
	if !ok {
		o.balancer.Release(name, action.Framework, 0, fmt.Errorf("adapter missing"))
		return name, nil, NewTransientError(
			fmt.Sprintf("adapter %s is no longer registered", name), nil).
			WithCode(ErrCodeAdapterFailed).
			WithFramework(action.Framework)
	}

	start := time.Now()
	output, execErr := adapter.Execute(ctx, action, execCtx)
	latency := time.Since(start)
	o.balancer.Release(name, action.Framework, latency, execErr)

	if o.metrics != nil {
		o.metrics.RecordAdapterCall(name, action.Name, latency)
		if execErr != nil {
			o.metrics.RecordAdapterError(name, action.Name)
		}
	}
	return name, output, execErr
}

// seedInstances adds registry adapters missing from the balancer and
// reports whether anything was added.
func (o *Orchestrator) seedInstances(framework string) bool {
	known := make(map[string]bool)
	for _, inst := range o.balancer.Snapshot()[framework] {
		known[inst.Name] = true
	}
	added := false
	for _, adapter := range o.registry.ForFramework(framework) {
		if !known[adapter.Name()] {
			o.balancer.AddInstance(adapter.Name(), framework, 1)
			added = true
		}
	}
	return added
}

// finish stamps the result, persists it, and publishes the terminal event.
func (o *Orchestrator) finish(ctx context.Context, logger zerolog.Logger, result *Result, status Status, execErr error) (*Result, error) {
	result.Status = status
	result.CompletedAt = time.Now().UTC()
	if execErr != nil {
		result.Error = execErr.Error()
	}

	if o.metrics != nil {
		o.metrics.RecordExecutionCompleted(result.RuleID, string(status), result.Duration())
	}
	if o.store != nil {
		if err := o.store.UpdateExecution(ctx, result); err != nil {
			logger.Warn().Err(err).Msg("Failed to persist execution result")
		}
	}

	eventType := events.TypeExecutionCompleted
	switch status {
	case StatusFailed, StatusCancelled:
		eventType = events.TypeExecutionFailed
	case StatusSkipped:
		eventType = events.TypeExecutionSkipped
	}
	data := map[string]interface{}{
		"execution_id":   result.ExecutionID,
		"rule_id":        result.RuleID,
		"status":         string(status),
		"conditions_met": result.ConditionsMet,
		"duration_ms":    result.Duration().Milliseconds(),
		"frameworks":     result.frameworks(),
	}
	if result.Error != "" {
		data["error"] = result.Error
	}
	o.publish(ctx, eventType, result.CorrelationID, data)

	logger.Info().
		Str("status", string(status)).
		Dur("duration", result.Duration()).
		Int("actions", len(result.ActionResults)).
		Msg("Execution finished")
	return result, nil
}

// calculateBackoff computes exponential backoff with jitter. Throttled
// errors wait longer than conflicts, which wait longer than other
// transient failures.
func calculateBackoff(attempt int, err error) time.Duration {
	baseDelay := 1 * time.Second
	if IsThrottled(err) {
		baseDelay = 5 * time.Second
	} else if IsConflict(err) {
		baseDelay = 2 * time.Second
	}

	delay := baseDelay * time.Duration(math.Pow(2, float64(attempt)))
	if delay > time.Minute {
		delay = time.Minute
	}

	// ±25% jitter
	jitter := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(delay) * jitter)
}
