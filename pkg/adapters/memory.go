package adapters

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bizyhq/bizy/pkg/orchestrator"
	"github.com/bizyhq/bizy/pkg/rule"
)

// MemoryHandler serves one action name in a MemoryAdapter.
type MemoryHandler func(ctx context.Context, params map[string]interface{}, execCtx map[string]interface{}) (map[string]interface{}, error)

// MemoryAdapter executes actions against registered in-process handlers.
// It backs local scenarios and tests where no external framework exists.
type MemoryAdapter struct {
	BaseAdapter

	mu       sync.RWMutex
	handlers map[string]MemoryHandler
	calls    int
}

var _ orchestrator.Adapter = (*MemoryAdapter)(nil)

// NewMemoryAdapter creates a memory adapter with no handlers. The framework
// identifier defaults to "memory" when empty.
func NewMemoryAdapter(logger zerolog.Logger, name, framework string) *MemoryAdapter {
	if framework == "" {
		framework = "memory"
	}
	return &MemoryAdapter{
		BaseAdapter: NewBaseAdapter(logger, name, framework, nil),
		handlers:    make(map[string]MemoryHandler),
	}
}

// Handle registers a handler for an action name, replacing any previous one.
func (a *MemoryAdapter) Handle(action string, handler MemoryHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[action] = handler
}

// Calls returns the number of executed actions.
func (a *MemoryAdapter) Calls() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.calls
}

// Capabilities lists the registered action names.
func (a *MemoryAdapter) Capabilities() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.handlers))
	for name := range a.handlers {
		out = append(out, name)
	}
	return out
}

// CanHandle reports whether any action of the rule has a registered handler.
func (a *MemoryAdapter) CanHandle(r rule.Rule) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, action := range r.Actions {
		if action.Framework != a.Framework() {
			continue
		}
		if _, ok := a.handlers[action.Name]; ok {
			return true
		}
	}
	return false
}

// Connect marks the adapter connected.
func (a *MemoryAdapter) Connect(_ context.Context) error {
	a.setConnected(true)
	return nil
}

// Disconnect marks the adapter disconnected.
func (a *MemoryAdapter) Disconnect(_ context.Context) error {
	a.setConnected(false)
	return nil
}

// Execute invokes the handler registered for the action.
func (a *MemoryAdapter) Execute(ctx context.Context, action rule.Action, execCtx map[string]interface{}) (map[string]interface{}, error) {
	if !a.Connected() {
		return nil, orchestrator.NewTransientError("memory adapter is not connected", nil).
			WithCode(orchestrator.ErrCodeAdapterFailed).
			WithFramework(a.Framework())
	}

	a.mu.Lock()
	handler, ok := a.handlers[action.Name]
	a.calls++
	a.mu.Unlock()

	if !ok {
		return nil, orchestrator.NewPermanentError(fmt.Sprintf("no handler for action %s", action.Name), nil).
			WithCode(orchestrator.ErrCodeNotFound).
			WithFramework(a.Framework())
	}

	execCtx2, cancel := withExecuteTimeout(ctx, action)
	defer cancel()
	return handler(execCtx2, action.Parameters, execCtx)
}

// Health reports healthy while connected.
func (a *MemoryAdapter) Health(_ context.Context) orchestrator.AdapterHealth {
	if !a.Connected() {
		return a.health(false, "not connected", 0)
	}
	return a.health(true, "ok", time.Duration(0))
}
