// Package adapters provides the framework adapter implementations and the
// registry that manages them. An adapter translates rule actions into calls
// against one execution framework (an HTTP service, a script runtime, an
// LLM provider) and reports its own health.
package adapters

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bizyhq/bizy/pkg/orchestrator"
	"github.com/bizyhq/bizy/pkg/rule"
)

const (
	// DefaultConnectTimeout bounds adapter connection attempts.
	DefaultConnectTimeout = 30 * time.Second

	// DefaultExecuteTimeout bounds a single action execution when the
	// action does not carry its own timeout.
	DefaultExecuteTimeout = 60 * time.Second
)

// BaseAdapter carries the identity, capability list, and connection state
// shared by every adapter implementation.
type BaseAdapter struct {
	name         string
	framework    string
	capabilities []string

	mu        sync.RWMutex
	connected bool

	logger zerolog.Logger
}

// NewBaseAdapter creates the shared adapter core.
func NewBaseAdapter(logger zerolog.Logger, name, framework string, capabilities []string) BaseAdapter {
	return BaseAdapter{
		name:         name,
		framework:    framework,
		capabilities: capabilities,
		logger: logger.With().
			Str("adapter", name).
			Str("framework", framework).
			Logger(),
	}
}

// Name returns the adapter instance name.
func (a *BaseAdapter) Name() string { return a.name }

// Framework returns the framework identifier the adapter serves.
func (a *BaseAdapter) Framework() string { return a.framework }

// Capabilities lists the supported action names. Empty means any.
func (a *BaseAdapter) Capabilities() []string {
	out := make([]string, len(a.capabilities))
	copy(out, a.capabilities)
	return out
}

// Logger returns the adapter-scoped logger.
func (a *BaseAdapter) Logger() zerolog.Logger { return a.logger }

// Connected reports the connection state.
func (a *BaseAdapter) Connected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.connected
}

func (a *BaseAdapter) setConnected(connected bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = connected
}

// CanHandle reports whether any action of the rule targets this adapter's
// framework with a supported action name.
func (a *BaseAdapter) CanHandle(r rule.Rule) bool {
	for _, action := range r.Actions {
		if action.Framework != a.framework {
			continue
		}
		if a.supports(action.Name) {
			return true
		}
	}
	return false
}

func (a *BaseAdapter) supports(action string) bool {
	if len(a.capabilities) == 0 {
		return true
	}
	for _, c := range a.capabilities {
		if c == action {
			return true
		}
	}
	return false
}

// health builds a health report for the adapter.
func (a *BaseAdapter) health(healthy bool, message string, latency time.Duration) orchestrator.AdapterHealth {
	return orchestrator.AdapterHealth{
		Adapter:   a.name,
		Framework: a.framework,
		Healthy:   healthy,
		Message:   message,
		Latency:   latency,
		CheckedAt: time.Now().UTC(),
	}
}

// executeTimeout resolves the effective timeout for an action.
func executeTimeout(action rule.Action) time.Duration {
	if action.Timeout > 0 {
		return action.Timeout.Std()
	}
	return DefaultExecuteTimeout
}

// withExecuteTimeout derives a bounded context for one action execution.
func withExecuteTimeout(ctx context.Context, action rule.Action) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, executeTimeout(action))
}
