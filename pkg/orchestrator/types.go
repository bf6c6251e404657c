// Package orchestrator provides the execution core of bizy: the rule
// executor, the meta-orchestrator that fans actions out across framework
// adapters, load balancing, and circuit breaking.
package orchestrator

import (
	"time"
)

// Status represents the lifecycle state of an execution or action.
type Status string

const (
	// StatusPending indicates the work has not started yet.
	StatusPending Status = "pending"

	// StatusRunning indicates the work is in progress.
	StatusRunning Status = "running"

	// StatusSucceeded indicates the work completed successfully.
	StatusSucceeded Status = "succeeded"

	// StatusFailed indicates the work failed.
	StatusFailed Status = "failed"

	// StatusSkipped indicates the rule's conditions did not match.
	StatusSkipped Status = "skipped"

	// StatusCancelled indicates the work was cancelled before completion.
	StatusCancelled Status = "cancelled"
)

// Caller identifies who or what requested an execution, for guard decisions
// and audit records.
type Caller struct {
	// ID is the caller identity (user, service account, API key ID).
	ID string `json:"id,omitempty"`

	// Roles are the caller's roles, matched against rule required_roles.
	Roles []string `json:"roles,omitempty"`
}

// ActionResult captures the outcome of a single action dispatch.
type ActionResult struct {
	// Framework is the framework the action targeted.
	Framework string `json:"framework"`

	// Action is the framework-specific action name.
	Action string `json:"action"`

	// Adapter is the adapter instance that served the action.
	Adapter string `json:"adapter,omitempty"`

	// Status is the final action status.
	Status Status `json:"status"`

	// Output is the adapter's response payload.
	Output map[string]interface{} `json:"output,omitempty"`

	// Error contains the failure message when Status is failed.
	Error string `json:"error,omitempty"`

	// Attempts is the total number of attempts including retries.
	Attempts int `json:"attempts"`

	// StartedAt is when the first attempt began.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the final attempt finished.
	CompletedAt time.Time `json:"completed_at"`

	// Duration is the total wall time across attempts.
	Duration time.Duration `json:"duration"`
}

// Result is the outcome of executing one rule.
type Result struct {
	// ExecutionID uniquely identifies this execution.
	ExecutionID string `json:"execution_id"`

	// RuleID is the rule that was executed.
	RuleID string `json:"rule_id"`

	// CorrelationID links the execution to related events.
	CorrelationID string `json:"correlation_id,omitempty"`

	// Status is the final execution status.
	Status Status `json:"status"`

	// ConditionsMet reports whether the rule's conditions matched.
	ConditionsMet bool `json:"conditions_met"`

	// ActionResults holds per-action outcomes in dispatch order.
	ActionResults []ActionResult `json:"action_results,omitempty"`

	// FallbackRuleID is set when a fallback rule was executed.
	FallbackRuleID string `json:"fallback_rule_id,omitempty"`

	// Error contains the failure message when Status is failed.
	Error string `json:"error,omitempty"`

	// StartedAt is when the execution began.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the execution finished.
	CompletedAt time.Time `json:"completed_at"`
}

// Duration returns the execution wall time.
func (r *Result) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// Succeeded reports whether the execution finished without failure.
func (r *Result) Succeeded() bool {
	return r.Status == StatusSucceeded || r.Status == StatusSkipped
}

// frameworks returns the distinct frameworks touched by the execution,
// in first-seen order.
func (r *Result) frameworks() []string {
	seen := make(map[string]bool, len(r.ActionResults))
	out := []string{}
	for _, ar := range r.ActionResults {
		if !seen[ar.Framework] {
			seen[ar.Framework] = true
			out = append(out, ar.Framework)
		}
	}
	return out
}

// ExecuteOptions controls a single execution request.
type ExecuteOptions struct {
	// Caller identifies the requester for guard checks.
	Caller Caller `json:"caller,omitempty"`

	// CorrelationID links the execution to an external workflow.
	CorrelationID string `json:"correlation_id,omitempty"`

	// MaxParallel bounds concurrent actions within a stage.
	// Zero means the executor default.
	MaxParallel int `json:"max_parallel,omitempty"`

	// DryRun evaluates conditions but skips action dispatch.
	DryRun bool `json:"dry_run,omitempty"`
}

// BatchOptions controls ExecuteBatch.
type BatchOptions struct {
	ExecuteOptions

	// Parallel executes rules concurrently instead of by priority order.
	Parallel bool `json:"parallel,omitempty"`
}

// AdapterHealth is the health report of one adapter.
type AdapterHealth struct {
	// Adapter is the adapter instance name.
	Adapter string `json:"adapter"`

	// Framework is the framework the adapter serves.
	Framework string `json:"framework"`

	// Healthy reports whether the adapter passed its health check.
	Healthy bool `json:"healthy"`

	// Message describes the health state.
	Message string `json:"message,omitempty"`

	// Latency is how long the health check took.
	Latency time.Duration `json:"latency"`

	// CheckedAt is when the check ran.
	CheckedAt time.Time `json:"checked_at"`
}

// HealthReport aggregates adapter health for the orchestrator.
type HealthReport struct {
	// Healthy reports whether every adapter is healthy.
	Healthy bool `json:"healthy"`

	// Adapters holds the per-adapter reports.
	Adapters []AdapterHealth `json:"adapters"`

	// CheckedAt is when the report was assembled.
	CheckedAt time.Time `json:"checked_at"`
}
