package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bizyhq/bizy/pkg/adapters"
	"github.com/bizyhq/bizy/pkg/events"
	"github.com/bizyhq/bizy/pkg/orchestrator"
	"github.com/bizyhq/bizy/pkg/rule"
)

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

// memStore is an in-memory orchestrator.Store for handler tests.
type memStore struct {
	mu         sync.Mutex
	rules      map[string]rule.Rule
	executions map[string]orchestrator.Result
	events     []events.Event
}

func newMemStore() *memStore {
	return &memStore{
		rules:      map[string]rule.Rule{},
		executions: map[string]orchestrator.Result{},
	}
}

func (s *memStore) SaveRule(_ context.Context, r *rule.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[r.ID] = *r
	return nil
}

func (s *memStore) GetRule(_ context.Context, id string) (*rule.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok {
		return nil, fmt.Errorf("rule not found: %s", id)
	}
	return &r, nil
}

func (s *memStore) ListRules(_ context.Context) ([]rule.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]rule.Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	return out, nil
}

func (s *memStore) DeleteRule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return fmt.Errorf("rule not found: %s", id)
	}
	delete(s.rules, id)
	return nil
}

func (s *memStore) CreateExecution(_ context.Context, result *orchestrator.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[result.ExecutionID] = *result
	return nil
}

func (s *memStore) UpdateExecution(_ context.Context, result *orchestrator.Result) error {
	return s.CreateExecution(context.Background(), result)
}

func (s *memStore) GetExecution(_ context.Context, executionID string) (*orchestrator.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.executions[executionID]
	if !ok {
		return nil, fmt.Errorf("execution not found: %s", executionID)
	}
	return &result, nil
}

func (s *memStore) ListExecutions(_ context.Context, ruleID string, limit int) ([]orchestrator.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []orchestrator.Result{}
	for _, result := range s.executions {
		if ruleID != "" && result.RuleID != ruleID {
			continue
		}
		out = append(out, result)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) AppendEvent(_ context.Context, event *events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *event)
	return nil
}

func (s *memStore) ListEvents(_ context.Context, filter events.Filter) ([]events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []events.Event{}
	for _, e := range s.events {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memStore) PruneEvents(_ context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}

// newTestServer wires a server with a memory adapter handling "approve".
func newTestServer(t *testing.T) (*Server, *memStore) {
	t.Helper()
	srv, store, _ := newTestServerWithBus(t, nil)
	return srv, store
}

func newTestServerWithBus(t *testing.T, bus events.Bus) (*Server, *memStore, events.Bus) {
	t.Helper()

	registry := adapters.NewRegistry(testLogger(), nil)
	mem := adapters.NewMemoryAdapter(testLogger(), "mem-1", "memory")
	mem.Handle("approve", func(_ context.Context, params, _ map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"approved": true}, nil
	})
	if err := mem.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect adapter: %v", err)
	}
	if err := registry.Register(mem); err != nil {
		t.Fatalf("failed to register adapter: %v", err)
	}

	store := newMemStore()
	orch, err := orchestrator.New(testLogger(), orchestrator.Options{
		Registry: registry,
		Store:    store,
	})
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}

	srv, err := NewServer(Config{
		Listen:       ":0",
		Orchestrator: orch,
		Store:        store,
		Registry:     registry,
		Bus:          bus,
	}, testLogger())
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return srv, store, bus
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), into); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
}

func validRule() map[string]interface{} {
	return map[string]interface{}{
		"id":   "approve-small",
		"name": "Approve small orders",
		"conditions": map[string]interface{}{
			"combinator": "all",
			"conditions": []interface{}{
				map[string]interface{}{"field": "amount", "operator": "less_than", "value": 100},
			},
		},
		"actions": []interface{}{
			map[string]interface{}{"framework": "memory", "action": "approve"},
		},
	}
}

func TestCreateAndGetRule(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/v1/rules", validRule())
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, srv, http.MethodGet, "/v1/rules/approve-small", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var r rule.Rule
	decodeJSON(t, w, &r)
	if r.Name != "Approve small orders" {
		t.Errorf("unexpected rule name: %q", r.Name)
	}
}

func TestCreateRuleValidationFailure(t *testing.T) {
	srv, _ := newTestServer(t)

	bad := validRule()
	bad["actions"] = []interface{}{
		map[string]interface{}{"action": "approve"}, // no framework
	}

	w := doJSON(t, srv, http.MethodPost, "/v1/rules", bad)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
	var resp ErrorResponse
	decodeJSON(t, w, &resp)
	if resp.Error.Code != "VALIDATION_ERROR" {
		t.Errorf("unexpected error code: %s", resp.Error.Code)
	}
}

func TestGetMissingRule(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/v1/rules/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestDeleteRule(t *testing.T) {
	srv, _ := newTestServer(t)

	doJSON(t, srv, http.MethodPost, "/v1/rules", validRule())

	w := doJSON(t, srv, http.MethodDelete, "/v1/rules/approve-small", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	w = doJSON(t, srv, http.MethodDelete, "/v1/rules/approve-small", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", w.Code)
	}
}

func TestRuleLifecycleEvents(t *testing.T) {
	bus := events.NewMemoryBus(testLogger())
	defer bus.Close()
	srv, _, _ := newTestServerWithBus(t, bus)

	doJSON(t, srv, http.MethodPost, "/v1/rules", validRule())
	doJSON(t, srv, http.MethodPost, "/v1/rules", validRule())
	doJSON(t, srv, http.MethodDelete, "/v1/rules/approve-small", nil)

	var got []events.Type
	for _, e := range bus.History(0) {
		if e.Source == "api" {
			got = append(got, e.Type)
		}
	}
	want := []events.Type{events.TypeRuleCreated, events.TypeRuleUpdated, events.TypeRuleDeleted}
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
	}
}

func TestListRules(t *testing.T) {
	srv, _ := newTestServer(t)

	doJSON(t, srv, http.MethodPost, "/v1/rules", validRule())

	w := doJSON(t, srv, http.MethodGet, "/v1/rules", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Rules []rule.Rule `json:"rules"`
		Total int         `json:"total"`
	}
	decodeJSON(t, w, &resp)
	if resp.Total != 1 || len(resp.Rules) != 1 {
		t.Errorf("unexpected list response: %+v", resp)
	}
}

func TestExecuteStoredRule(t *testing.T) {
	srv, _ := newTestServer(t)

	doJSON(t, srv, http.MethodPost, "/v1/rules", validRule())

	w := doJSON(t, srv, http.MethodPost, "/v1/rules/approve-small/execute", map[string]interface{}{
		"context": map[string]interface{}{"amount": 42},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var result orchestrator.Result
	decodeJSON(t, w, &result)
	if result.Status != orchestrator.StatusSucceeded {
		t.Errorf("expected succeeded, got %s", result.Status)
	}
	if len(result.ActionResults) != 1 {
		t.Fatalf("expected 1 action result, got %d", len(result.ActionResults))
	}
	if got := result.ActionResults[0].Output["approved"]; got != true {
		t.Errorf("unexpected action output: %+v", result.ActionResults[0].Output)
	}
}

func TestExecuteMissingRule(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/v1/rules/nope/execute", map[string]interface{}{
		"context": map[string]interface{}{},
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestExecuteInline(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/v1/execute", map[string]interface{}{
		"rule":    validRule(),
		"context": map[string]interface{}{"amount": 42},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestExecuteInlineDryRun(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/v1/execute", map[string]interface{}{
		"rule":    validRule(),
		"context": map[string]interface{}{"amount": 42},
		"dry_run": true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var result orchestrator.Result
	decodeJSON(t, w, &result)
	for _, ar := range result.ActionResults {
		if ar.Status != orchestrator.StatusSkipped {
			t.Errorf("expected skipped action in dry run, got %s", ar.Status)
		}
	}
}

func TestListAdapters(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/v1/adapters", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Adapters []struct {
			Name      string `json:"name"`
			Framework string `json:"framework"`
		} `json:"adapters"`
		Total int `json:"total"`
	}
	decodeJSON(t, w, &resp)
	if resp.Total != 1 || resp.Adapters[0].Name != "mem-1" {
		t.Errorf("unexpected adapters response: %+v", resp)
	}
}

func TestAdapterHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/v1/adapters/mem-1/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w = doJSON(t, srv, http.MethodGet, "/v1/adapters/nope/health", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGetExecution(t *testing.T) {
	srv, store := newTestServer(t)

	doJSON(t, srv, http.MethodPost, "/v1/rules", validRule())
	w := doJSON(t, srv, http.MethodPost, "/v1/rules/approve-small/execute", map[string]interface{}{
		"context": map[string]interface{}{"amount": 42},
	})
	var result orchestrator.Result
	decodeJSON(t, w, &result)

	if _, err := store.GetExecution(context.Background(), result.ExecutionID); err != nil {
		t.Fatalf("execution not persisted: %v", err)
	}

	w = doJSON(t, srv, http.MethodGet, "/v1/executions/"+result.ExecutionID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w = doJSON(t, srv, http.MethodGet, "/v1/executions/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestListExecutionsBadLimit(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/v1/executions?limit=abc", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var report orchestrator.HealthReport
	decodeJSON(t, w, &report)
	if !report.Healthy || len(report.Adapters) != 1 {
		t.Errorf("unexpected health report: %+v", report)
	}
}
