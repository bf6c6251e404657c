package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bizyhq/bizy/pkg/events"
	"github.com/bizyhq/bizy/pkg/rule"
)

// mockAdapter is a scriptable in-package adapter.
type mockAdapter struct {
	name      string
	framework string

	mu        sync.Mutex
	calls     []rule.Action
	outputs   map[string]map[string]interface{}
	errs      map[string]error
	unhealthy bool
}

func newMockAdapter(name, framework string) *mockAdapter {
	return &mockAdapter{
		name:      name,
		framework: framework,
		outputs:   make(map[string]map[string]interface{}),
		errs:      make(map[string]error),
	}
}

func (m *mockAdapter) Name() string           { return m.name }
func (m *mockAdapter) Framework() string      { return m.framework }
func (m *mockAdapter) Capabilities() []string { return nil }

func (m *mockAdapter) Connect(_ context.Context) error    { return nil }
func (m *mockAdapter) Disconnect(_ context.Context) error { return nil }

func (m *mockAdapter) CanHandle(r rule.Rule) bool {
	for _, a := range r.Actions {
		if a.Framework == m.framework {
			return true
		}
	}
	return false
}

func (m *mockAdapter) Execute(_ context.Context, action rule.Action, _ map[string]interface{}) (map[string]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, action)
	if err, ok := m.errs[action.Name]; ok && err != nil {
		return nil, err
	}
	if out, ok := m.outputs[action.Name]; ok {
		return out, nil
	}
	return map[string]interface{}{"ok": true}, nil
}

func (m *mockAdapter) Health(_ context.Context) AdapterHealth {
	m.mu.Lock()
	defer m.mu.Unlock()
	return AdapterHealth{Adapter: m.name, Framework: m.framework, Healthy: !m.unhealthy, CheckedAt: time.Now()}
}

func (m *mockAdapter) setHealthy(healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unhealthy = !healthy
}

func (m *mockAdapter) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockAdapter) failWith(action string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[action] = err
}

// mockRegistry is a minimal in-package registry.
type mockRegistry struct {
	mu       sync.Mutex
	adapters map[string]Adapter
}

func newMockRegistry(adapters ...Adapter) *mockRegistry {
	r := &mockRegistry{adapters: make(map[string]Adapter)}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

func (r *mockRegistry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[a.Name()]; ok {
		return fmt.Errorf("duplicate adapter %s", a.Name())
	}
	r.adapters[a.Name()] = a
	return nil
}

func (r *mockRegistry) Unregister(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.adapters, name)
	return nil
}

func (r *mockRegistry) Get(name string) (Adapter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.adapters[name]
	return a, ok
}

func (r *mockRegistry) ForFramework(framework string) []Adapter {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Adapter
	for _, a := range r.adapters {
		if a.Framework() == framework {
			out = append(out, a)
		}
	}
	return out
}

func (r *mockRegistry) List() []Adapter {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	return out
}

func (r *mockRegistry) HealthCheckAll(ctx context.Context) []AdapterHealth {
	var out []AdapterHealth
	for _, a := range r.List() {
		out = append(out, a.Health(ctx))
	}
	return out
}

// mockRuleSource serves rules from a map.
type mockRuleSource struct {
	rules map[string]rule.Rule
}

func (s *mockRuleSource) GetRule(_ context.Context, id string) (*rule.Rule, error) {
	r, ok := s.rules[id]
	if !ok {
		return nil, fmt.Errorf("rule %s not found", id)
	}
	return &r, nil
}

// eventLogStore is a Store stub that records appended events.
type eventLogStore struct {
	mu       sync.Mutex
	appended []events.Event
}

func (s *eventLogStore) SaveRule(_ context.Context, _ *rule.Rule) error { return nil }
func (s *eventLogStore) GetRule(_ context.Context, id string) (*rule.Rule, error) {
	return nil, fmt.Errorf("rule %s not found", id)
}
func (s *eventLogStore) ListRules(_ context.Context) ([]rule.Rule, error)    { return nil, nil }
func (s *eventLogStore) DeleteRule(_ context.Context, _ string) error        { return nil }
func (s *eventLogStore) CreateExecution(_ context.Context, _ *Result) error  { return nil }
func (s *eventLogStore) UpdateExecution(_ context.Context, _ *Result) error  { return nil }
func (s *eventLogStore) GetExecution(_ context.Context, id string) (*Result, error) {
	return nil, fmt.Errorf("execution %s not found", id)
}
func (s *eventLogStore) ListExecutions(_ context.Context, _ string, _ int) ([]Result, error) {
	return nil, nil
}
func (s *eventLogStore) AppendEvent(_ context.Context, event *events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appended = append(s.appended, *event)
	return nil
}
func (s *eventLogStore) ListEvents(_ context.Context, _ events.Filter) ([]events.Event, error) {
	return nil, nil
}
func (s *eventLogStore) PruneEvents(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (s *eventLogStore) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.appended)
}

// denyGuard rejects every execution.
type denyGuard struct{}

func (denyGuard) Authorize(_ context.Context, r rule.Rule, _ Caller) error {
	return fmt.Errorf("rule %s denied", r.ID)
}

func enabledRule(id string, actions ...rule.Action) rule.Rule {
	return rule.Rule{
		ID:      id,
		Name:    id,
		Actions: actions,
		Conditions: rule.ConditionGroup{
			Combinator: rule.CombinatorAll,
			Conditions: []rule.Condition{
				{Field: "amount", Operator: rule.OpGreaterThan, Value: 100},
			},
		},
	}
}

func matchingContext() map[string]interface{} {
	return map[string]interface{}{"amount": 500.0}
}

func newTestOrchestrator(t *testing.T, opts Options) *Orchestrator {
	t.Helper()
	o, err := New(testLogger(), opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return o
}

func TestExecuteHappyPath(t *testing.T) {
	adapter := newMockAdapter("mem-1", "memory")
	o := newTestOrchestrator(t, Options{Registry: newMockRegistry(adapter)})

	r := enabledRule("notify", rule.Action{Framework: "memory", Name: "send_notification"})
	result, err := o.Execute(context.Background(), r, matchingContext(), ExecuteOptions{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.Status != StatusSucceeded {
		t.Errorf("expected succeeded, got %s (%s)", result.Status, result.Error)
	}
	if !result.ConditionsMet {
		t.Error("expected conditions met")
	}
	if len(result.ActionResults) != 1 {
		t.Fatalf("expected 1 action result, got %d", len(result.ActionResults))
	}
	ar := result.ActionResults[0]
	if ar.Status != StatusSucceeded || ar.Adapter != "mem-1" || ar.Attempts != 1 {
		t.Errorf("unexpected action result: %+v", ar)
	}
	if adapter.callCount() != 1 {
		t.Errorf("expected 1 adapter call, got %d", adapter.callCount())
	}
}

func TestExecuteConditionsNotMet(t *testing.T) {
	adapter := newMockAdapter("mem-1", "memory")
	o := newTestOrchestrator(t, Options{Registry: newMockRegistry(adapter)})

	r := enabledRule("notify", rule.Action{Framework: "memory", Name: "send_notification"})
	result, err := o.Execute(context.Background(), r, map[string]interface{}{"amount": 50.0}, ExecuteOptions{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.Status != StatusSkipped {
		t.Errorf("expected skipped, got %s", result.Status)
	}
	if adapter.callCount() != 0 {
		t.Error("expected no adapter calls when conditions fail")
	}
}

func TestExecuteDryRun(t *testing.T) {
	adapter := newMockAdapter("mem-1", "memory")
	o := newTestOrchestrator(t, Options{Registry: newMockRegistry(adapter)})

	r := enabledRule("notify", rule.Action{Framework: "memory", Name: "send_notification"})
	result, err := o.Execute(context.Background(), r, matchingContext(), ExecuteOptions{DryRun: true})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.Status != StatusSucceeded {
		t.Errorf("expected succeeded, got %s", result.Status)
	}
	if adapter.callCount() != 0 {
		t.Error("dry run must not call adapters")
	}
	if len(result.ActionResults) != 1 || result.ActionResults[0].Status != StatusSkipped {
		t.Errorf("expected skipped action results, got %+v", result.ActionResults)
	}
}

func TestExecuteGuardDenied(t *testing.T) {
	adapter := newMockAdapter("mem-1", "memory")
	o := newTestOrchestrator(t, Options{
		Registry: newMockRegistry(adapter),
		Guard:    denyGuard{},
	})

	r := enabledRule("restricted", rule.Action{Framework: "memory", Name: "noop"})
	_, err := o.Execute(context.Background(), r, matchingContext(), ExecuteOptions{})
	if err == nil {
		t.Fatal("expected guard denial")
	}
	if CodeOf(err) != ErrCodePermissionDenied {
		t.Errorf("expected PERMISSION_DENIED, got %s", CodeOf(err))
	}
	if adapter.callCount() != 0 {
		t.Error("expected no adapter calls after denial")
	}
}

func TestExecuteDisabledRule(t *testing.T) {
	o := newTestOrchestrator(t, Options{Registry: newMockRegistry(newMockAdapter("mem-1", "memory"))})

	disabled := false
	r := enabledRule("off", rule.Action{Framework: "memory", Name: "noop"})
	r.Enabled = &disabled

	if _, err := o.Execute(context.Background(), r, matchingContext(), ExecuteOptions{}); err == nil {
		t.Fatal("expected disabled rule to be rejected")
	}
}

func TestExecuteRetriesTransientFailure(t *testing.T) {
	adapter := newMockAdapter("mem-1", "memory")
	adapter.failWith("flaky", NewTransientError("synthetic failure", nil))
	o := newTestOrchestrator(t, Options{Registry: newMockRegistry(adapter)})

	r := enabledRule("retrying", rule.Action{Framework: "memory", Name: "flaky", RetryCount: 2})
	result, err := o.Execute(context.Background(), r, matchingContext(), ExecuteOptions{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.Status != StatusFailed {
		t.Errorf("expected failed, got %s", result.Status)
	}
	if got := result.ActionResults[0].Attempts; got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestExecutePermanentFailureNoRetry(t *testing.T) {
	adapter := newMockAdapter("mem-1", "memory")
	adapter.failWith("broken", NewPermanentError("bad request", nil))
	o := newTestOrchestrator(t, Options{Registry: newMockRegistry(adapter)})

	r := enabledRule("failing", rule.Action{Framework: "memory", Name: "broken", RetryCount: 3})
	result, err := o.Execute(context.Background(), r, matchingContext(), ExecuteOptions{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.Status != StatusFailed {
		t.Errorf("expected failed, got %s", result.Status)
	}
	if adapter.callCount() != 1 {
		t.Errorf("permanent errors must not retry, got %d calls", adapter.callCount())
	}
}

func TestExecuteContinueOnError(t *testing.T) {
	adapter := newMockAdapter("mem-1", "memory")
	adapter.failWith("optional", NewPermanentError("boom", nil))
	o := newTestOrchestrator(t, Options{Registry: newMockRegistry(adapter)})

	r := enabledRule("tolerant",
		rule.Action{Framework: "memory", Name: "optional", ContinueOnError: true},
		rule.Action{Framework: "memory", Name: "required", DependsOn: []string{"optional"}},
	)
	result, err := o.Execute(context.Background(), r, matchingContext(), ExecuteOptions{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.Status != StatusSucceeded {
		t.Errorf("expected succeeded, got %s (%s)", result.Status, result.Error)
	}
	if adapter.callCount() != 2 {
		t.Errorf("expected both actions dispatched, got %d calls", adapter.callCount())
	}
}

func TestExecuteIgnoreStrategy(t *testing.T) {
	adapter := newMockAdapter("mem-1", "memory")
	adapter.failWith("noisy", NewPermanentError("boom", nil))
	o := newTestOrchestrator(t, Options{Registry: newMockRegistry(adapter)})

	r := enabledRule("lenient", rule.Action{Framework: "memory", Name: "noisy"})
	r.ErrorHandling = rule.ErrorHandling{Strategy: rule.StrategyIgnore}

	result, err := o.Execute(context.Background(), r, matchingContext(), ExecuteOptions{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Status != StatusSucceeded {
		t.Errorf("expected ignored failure to succeed, got %s", result.Status)
	}
}

func TestExecuteFallbackRule(t *testing.T) {
	adapter := newMockAdapter("mem-1", "memory")
	adapter.failWith("primary_action", NewPermanentError("boom", nil))

	fallback := enabledRule("backup", rule.Action{Framework: "memory", Name: "backup_action"})
	source := &mockRuleSource{rules: map[string]rule.Rule{"backup": fallback}}

	o := newTestOrchestrator(t, Options{
		Registry:   newMockRegistry(adapter),
		RuleSource: source,
	})

	primary := enabledRule("primary", rule.Action{Framework: "memory", Name: "primary_action"})
	primary.ErrorHandling = rule.ErrorHandling{Strategy: rule.StrategyFallback, Fallback: "backup"}

	result, err := o.Execute(context.Background(), primary, matchingContext(), ExecuteOptions{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.Status != StatusSucceeded {
		t.Errorf("expected fallback to rescue execution, got %s (%s)", result.Status, result.Error)
	}
	if result.FallbackRuleID != "backup" {
		t.Errorf("expected fallback rule recorded, got %q", result.FallbackRuleID)
	}
}

func TestExecuteFallbackLoopBounded(t *testing.T) {
	adapter := newMockAdapter("mem-1", "memory")
	adapter.failWith("spin", NewPermanentError("boom", nil))

	// Two rules falling back to each other.
	a := enabledRule("loop-a", rule.Action{Framework: "memory", Name: "spin"})
	a.ErrorHandling = rule.ErrorHandling{Strategy: rule.StrategyFallback, Fallback: "loop-b"}
	b := enabledRule("loop-b", rule.Action{Framework: "memory", Name: "spin"})
	b.ErrorHandling = rule.ErrorHandling{Strategy: rule.StrategyFallback, Fallback: "loop-a"}

	source := &mockRuleSource{rules: map[string]rule.Rule{"loop-a": a, "loop-b": b}}
	o := newTestOrchestrator(t, Options{
		Registry:   newMockRegistry(adapter),
		RuleSource: source,
	})

	result, err := o.Execute(context.Background(), a, matchingContext(), ExecuteOptions{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Status != StatusFailed {
		t.Errorf("expected bounded fallback chain to fail, got %s", result.Status)
	}

	// The cycle is cut at the first revisit: each rule runs exactly once
	// rather than ping-ponging until the depth bound trips.
	if n := adapter.callCount(); n != 2 {
		t.Errorf("expected 2 adapter calls (one per rule), got %d", n)
	}
}

func TestExecuteFallbackRefusesSelf(t *testing.T) {
	adapter := newMockAdapter("mem-1", "memory")
	adapter.failWith("spin", NewPermanentError("boom", nil))

	r := enabledRule("ouroboros", rule.Action{Framework: "memory", Name: "spin"})
	r.ErrorHandling = rule.ErrorHandling{Strategy: rule.StrategyFallback, Fallback: "ouroboros"}

	source := &mockRuleSource{rules: map[string]rule.Rule{"ouroboros": r}}
	o := newTestOrchestrator(t, Options{
		Registry:   newMockRegistry(adapter),
		RuleSource: source,
	})

	result, err := o.Execute(context.Background(), r, matchingContext(), ExecuteOptions{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Status != StatusFailed {
		t.Errorf("expected self-fallback to fail, got %s", result.Status)
	}
	if n := adapter.callCount(); n != 1 {
		t.Errorf("expected a single adapter call, got %d", n)
	}
}

func TestExecuteStagesRespectDependencies(t *testing.T) {
	adapter := newMockAdapter("mem-1", "memory")
	o := newTestOrchestrator(t, Options{Registry: newMockRegistry(adapter)})

	r := enabledRule("staged",
		rule.Action{Framework: "memory", Name: "first"},
		rule.Action{Framework: "memory", Name: "second", DependsOn: []string{"first"}},
		rule.Action{Framework: "memory", Name: "third", DependsOn: []string{"second"}},
	)
	result, err := o.Execute(context.Background(), r, matchingContext(), ExecuteOptions{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Status != StatusSucceeded {
		t.Fatalf("expected succeeded, got %s", result.Status)
	}

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	order := make([]string, len(adapter.calls))
	for i, call := range adapter.calls {
		order[i] = call.Name
	}
	want := []string{"first", "second", "third"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected dispatch order %v, got %v", want, order)
		}
	}
}

func TestExecuteRuleLoadsFromSource(t *testing.T) {
	adapter := newMockAdapter("mem-1", "memory")
	stored := enabledRule("stored", rule.Action{Framework: "memory", Name: "noop"})
	source := &mockRuleSource{rules: map[string]rule.Rule{"stored": stored}}

	o := newTestOrchestrator(t, Options{Registry: newMockRegistry(adapter), RuleSource: source})

	result, err := o.ExecuteRule(context.Background(), "stored", matchingContext(), ExecuteOptions{})
	if err != nil {
		t.Fatalf("ExecuteRule failed: %v", err)
	}
	if result.RuleID != "stored" || result.Status != StatusSucceeded {
		t.Errorf("unexpected result: %+v", result)
	}

	if _, err := o.ExecuteRule(context.Background(), "missing", nil, ExecuteOptions{}); err == nil {
		t.Error("expected unknown rule to fail")
	}
}

func TestExecuteBatchPriorityOrder(t *testing.T) {
	adapter := newMockAdapter("mem-1", "memory")
	o := newTestOrchestrator(t, Options{Registry: newMockRegistry(adapter)})

	low := enabledRule("low", rule.Action{Framework: "memory", Name: "low_action"})
	low.Priority = rule.PriorityLow
	critical := enabledRule("critical", rule.Action{Framework: "memory", Name: "critical_action"})
	critical.Priority = rule.PriorityCritical

	results, err := o.ExecuteBatch(context.Background(), []rule.Rule{low, critical}, matchingContext(), BatchOptions{})
	if err != nil {
		t.Fatalf("ExecuteBatch failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].RuleID != "critical" || results[1].RuleID != "low" {
		t.Errorf("expected priority order critical, low; got %s, %s", results[0].RuleID, results[1].RuleID)
	}
}

func TestExecutePublishesLifecycleEvents(t *testing.T) {
	bus := events.NewMemoryBus(testLogger())
	defer bus.Close()

	adapter := newMockAdapter("mem-1", "memory")
	o := newTestOrchestrator(t, Options{Registry: newMockRegistry(adapter), Bus: bus})

	r := enabledRule("observed", rule.Action{Framework: "memory", Name: "noop"})
	if _, err := o.Execute(context.Background(), r, matchingContext(), ExecuteOptions{}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	history := bus.History(0)
	var types []events.Type
	for _, e := range history {
		types = append(types, e.Type)
	}
	wantContains := []events.Type{events.TypeExecutionStarted, events.TypeActionCompleted, events.TypeExecutionCompleted}
	for _, want := range wantContains {
		found := false
		for _, got := range types {
			if got == want {
				found = true
			}
		}
		if !found {
			t.Errorf("expected event %s in %v", want, types)
		}
	}
}

func TestPublishSinglePersistencePath(t *testing.T) {
	// With a bus configured, persistence belongs to the bus consumers and
	// the store must not receive events directly.
	bus := events.NewMemoryBus(testLogger())
	defer bus.Close()

	st := &eventLogStore{}
	adapter := newMockAdapter("mem-1", "memory")
	o := newTestOrchestrator(t, Options{Registry: newMockRegistry(adapter), Store: st, Bus: bus})

	r := enabledRule("audited", rule.Action{Framework: "memory", Name: "noop"})
	if _, err := o.Execute(context.Background(), r, matchingContext(), ExecuteOptions{}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if n := st.eventCount(); n != 0 {
		t.Errorf("expected no direct store appends with a bus configured, got %d", n)
	}
	if len(bus.History(0)) == 0 {
		t.Error("expected events published to the bus")
	}

	// Without a bus the store is the only sink, so events go straight in.
	direct := &eventLogStore{}
	o2 := newTestOrchestrator(t, Options{Registry: newMockRegistry(newMockAdapter("mem-2", "memory")), Store: direct})
	if _, err := o2.Execute(context.Background(), r, matchingContext(), ExecuteOptions{}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if direct.eventCount() == 0 {
		t.Error("expected events appended to the store when no bus is configured")
	}
}

func TestHealthCheckAggregates(t *testing.T) {
	adapter := newMockAdapter("mem-1", "memory")
	o := newTestOrchestrator(t, Options{Registry: newMockRegistry(adapter)})

	report := o.HealthCheck(context.Background())
	if !report.Healthy || len(report.Adapters) != 1 {
		t.Errorf("unexpected health report: %+v", report)
	}
}

func TestHealthCheckPublishesTransitions(t *testing.T) {
	bus := events.NewMemoryBus(testLogger())
	defer bus.Close()

	adapter := newMockAdapter("mem-1", "memory")
	o := newTestOrchestrator(t, Options{Registry: newMockRegistry(adapter), Bus: bus})

	// Healthy baseline produces no transition events.
	o.HealthCheck(context.Background())
	adapter.setHealthy(false)
	o.HealthCheck(context.Background())
	adapter.setHealthy(true)
	o.HealthCheck(context.Background())
	// Steady state after recovery stays quiet.
	o.HealthCheck(context.Background())

	var unhealthy, recovered int
	for _, e := range bus.History(0) {
		switch e.Type {
		case events.TypeAdapterUnhealthy:
			unhealthy++
		case events.TypeAdapterRecovered:
			recovered++
		}
	}
	if unhealthy != 1 || recovered != 1 {
		t.Errorf("expected one unhealthy and one recovered event, got %d and %d", unhealthy, recovered)
	}
}

func TestBreakerTransitionsPublishEvents(t *testing.T) {
	bus := events.NewMemoryBus(testLogger())
	defer bus.Close()

	adapter := newMockAdapter("mem-1", "memory")
	adapter.failWith("flaky", NewPermanentError("boom", nil))
	o := newTestOrchestrator(t, Options{
		Registry:         newMockRegistry(adapter),
		Bus:              bus,
		BreakerThreshold: 2,
	})

	r := enabledRule("flaky-rule", rule.Action{Framework: "memory", Name: "flaky"})
	for i := 0; i < 2; i++ {
		if _, err := o.Execute(context.Background(), r, matchingContext(), ExecuteOptions{}); err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
	}
	if state := o.Breaker().State("memory"); state != BreakerOpen {
		t.Fatalf("expected open circuit, got %s", state)
	}

	found := false
	for _, e := range bus.History(0) {
		if e.Type == events.TypeBreakerOpened {
			found = true
		}
	}
	if !found {
		t.Error("expected breaker.opened event on the bus")
	}
}

func TestCalculateBackoff(t *testing.T) {
	transient := NewTransientError("x", nil)
	throttled := NewThrottledError("x", nil)

	// Attempt 0 transient: base 1s, jitter keeps it within [750ms, 1.25s].
	d := calculateBackoff(0, transient)
	if d < 750*time.Millisecond || d > 1250*time.Millisecond {
		t.Errorf("unexpected transient backoff: %v", d)
	}

	// Throttled base is 5s.
	d = calculateBackoff(0, throttled)
	if d < 3750*time.Millisecond || d > 6250*time.Millisecond {
		t.Errorf("unexpected throttled backoff: %v", d)
	}

	// Large attempts cap at one minute (plus jitter up to +25%).
	d = calculateBackoff(10, transient)
	if d > 75*time.Second {
		t.Errorf("expected capped backoff, got %v", d)
	}
}
