package orchestrator

import (
	"context"
	"time"

	"github.com/bizyhq/bizy/pkg/events"
	"github.com/bizyhq/bizy/pkg/rule"
)

// Adapter connects the orchestrator to one execution framework.
// Implementations live in pkg/adapters.
type Adapter interface {
	// Name is the unique adapter instance name.
	Name() string

	// Framework is the framework identifier the adapter serves
	// (langchain, temporal, webhook, script, memory, ...).
	Framework() string

	// Capabilities lists the action names the adapter supports.
	// An empty list means the adapter accepts any action.
	Capabilities() []string

	// Connect establishes the adapter's connection to its framework.
	Connect(ctx context.Context) error

	// Disconnect tears the connection down.
	Disconnect(ctx context.Context) error

	// CanHandle reports whether the adapter can serve any action of the rule.
	CanHandle(r rule.Rule) bool

	// Execute dispatches one action with the execution context and returns
	// the framework's response payload.
	Execute(ctx context.Context, action rule.Action, execCtx map[string]interface{}) (map[string]interface{}, error)

	// Health checks the adapter's connection.
	Health(ctx context.Context) AdapterHealth
}

// AdapterRegistry manages the set of registered adapters.
type AdapterRegistry interface {
	// Register adds an adapter. Names must be unique.
	Register(adapter Adapter) error

	// Unregister removes an adapter by name.
	Unregister(ctx context.Context, name string) error

	// Get retrieves an adapter by instance name.
	Get(name string) (Adapter, bool)

	// ForFramework lists adapters serving a framework.
	ForFramework(framework string) []Adapter

	// List returns all registered adapters.
	List() []Adapter

	// HealthCheckAll checks every adapter.
	HealthCheckAll(ctx context.Context) []AdapterHealth
}

// RuleSource resolves rules by ID, used for fallback rule lookup.
type RuleSource interface {
	// GetRule retrieves a rule by ID.
	GetRule(ctx context.Context, id string) (*rule.Rule, error)
}

// Guard authorizes rule executions before actions run.
// Implementations live in pkg/guard.
type Guard interface {
	// Authorize returns nil when the caller may execute the rule.
	Authorize(ctx context.Context, r rule.Rule, caller Caller) error
}

// Store persists rules, executions, and action results.
// Implementations live in pkg/stores.
type Store interface {
	// SaveRule inserts or updates a rule.
	SaveRule(ctx context.Context, r *rule.Rule) error

	// GetRule retrieves a rule by ID.
	GetRule(ctx context.Context, id string) (*rule.Rule, error)

	// ListRules returns all stored rules.
	ListRules(ctx context.Context) ([]rule.Rule, error)

	// DeleteRule removes a rule by ID.
	DeleteRule(ctx context.Context, id string) error

	// CreateExecution records the start of an execution.
	CreateExecution(ctx context.Context, result *Result) error

	// UpdateExecution records the final state of an execution.
	UpdateExecution(ctx context.Context, result *Result) error

	// GetExecution retrieves an execution by ID.
	GetExecution(ctx context.Context, executionID string) (*Result, error)

	// ListExecutions returns executions for a rule, newest first.
	// Empty ruleID lists all executions.
	ListExecutions(ctx context.Context, ruleID string, limit int) ([]Result, error)

	// AppendEvent appends an event to the durable event log.
	AppendEvent(ctx context.Context, event *events.Event) error

	// ListEvents retrieves stored events matching the filter.
	ListEvents(ctx context.Context, filter events.Filter) ([]events.Event, error)

	// PruneEvents deletes events older than the cutoff and reports how
	// many were removed.
	PruneEvents(ctx context.Context, olderThan time.Time) (int64, error)
}
