package adapters

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bizyhq/bizy/pkg/events"
	"github.com/bizyhq/bizy/pkg/orchestrator"
)

// Registry is the default AdapterRegistry implementation. It optionally
// publishes adapter lifecycle events to a bus.
type Registry struct {
	logger zerolog.Logger
	bus    events.Bus

	mu       sync.RWMutex
	adapters map[string]orchestrator.Adapter
}

var _ orchestrator.AdapterRegistry = (*Registry)(nil)

// NewRegistry creates an adapter registry. bus may be nil.
func NewRegistry(logger zerolog.Logger, bus events.Bus) *Registry {
	return &Registry{
		logger:   logger.With().Str("component", "adapter-registry").Logger(),
		bus:      bus,
		adapters: make(map[string]orchestrator.Adapter),
	}
}

// Register adds an adapter. Adapter names must be unique.
func (r *Registry) Register(adapter orchestrator.Adapter) error {
	if adapter == nil {
		return fmt.Errorf("adapter must not be nil")
	}
	name := adapter.Name()
	if name == "" {
		return fmt.Errorf("adapter name is required")
	}

	r.mu.Lock()
	if _, exists := r.adapters[name]; exists {
		r.mu.Unlock()
		return fmt.Errorf("adapter %s is already registered", name)
	}
	r.adapters[name] = adapter
	r.mu.Unlock()

	r.logger.Info().
		Str("adapter", name).
		Str("framework", adapter.Framework()).
		Msg("Adapter registered")
	r.publish(events.TypeAdapterRegistered, adapter)
	return nil
}

// Unregister disconnects and removes an adapter by name.
func (r *Registry) Unregister(ctx context.Context, name string) error {
	r.mu.Lock()
	adapter, ok := r.adapters[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("adapter %s is not registered", name)
	}
	delete(r.adapters, name)
	r.mu.Unlock()

	if err := adapter.Disconnect(ctx); err != nil {
		r.logger.Warn().Err(err).Str("adapter", name).Msg("Adapter disconnect failed")
	}

	r.logger.Info().Str("adapter", name).Msg("Adapter unregistered")
	r.publish(events.TypeAdapterUnregistered, adapter)
	return nil
}

// Reload disconnects and reconnects an adapter so it picks up external
// configuration changes.
func (r *Registry) Reload(ctx context.Context, name string) error {
	adapter, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("adapter %s is not registered", name)
	}

	if err := adapter.Disconnect(ctx); err != nil {
		r.logger.Warn().Err(err).Str("adapter", name).Msg("Adapter disconnect failed during reload")
	}
	connectCtx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout)
	defer cancel()
	if err := adapter.Connect(connectCtx); err != nil {
		return fmt.Errorf("failed to reconnect adapter %s: %w", name, err)
	}

	r.logger.Info().Str("adapter", name).Msg("Adapter reloaded")
	return nil
}

// Stats returns the number of registered adapter instances per framework.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int)
	for _, adapter := range r.adapters {
		out[adapter.Framework()]++
	}
	return out
}

// Get retrieves an adapter by instance name.
func (r *Registry) Get(name string) (orchestrator.Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[name]
	return adapter, ok
}

// ForFramework lists adapters serving a framework, sorted by name.
func (r *Registry) ForFramework(framework string) []orchestrator.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []orchestrator.Adapter
	for _, adapter := range r.adapters {
		if adapter.Framework() == framework {
			out = append(out, adapter)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// List returns all registered adapters, sorted by name.
func (r *Registry) List() []orchestrator.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]orchestrator.Adapter, 0, len(r.adapters))
	for _, adapter := range r.adapters {
		out = append(out, adapter)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// ConnectAll connects every registered adapter, bounded per adapter by
// DefaultConnectTimeout. The first failure aborts.
func (r *Registry) ConnectAll(ctx context.Context) error {
	for _, adapter := range r.List() {
		connectCtx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout)
		err := adapter.Connect(connectCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect adapter %s: %w", adapter.Name(), err)
		}
	}
	return nil
}

// DisconnectAll disconnects every registered adapter, logging failures.
func (r *Registry) DisconnectAll(ctx context.Context) {
	for _, adapter := range r.List() {
		if err := adapter.Disconnect(ctx); err != nil {
			r.logger.Warn().Err(err).Str("adapter", adapter.Name()).Msg("Adapter disconnect failed")
		}
	}
}

// HealthCheckAll checks every adapter and returns the reports sorted by
// adapter name.
func (r *Registry) HealthCheckAll(ctx context.Context) []orchestrator.AdapterHealth {
	adapters := r.List()
	out := make([]orchestrator.AdapterHealth, 0, len(adapters))
	for _, adapter := range adapters {
		out = append(out, adapter.Health(ctx))
	}
	return out
}

func (r *Registry) publish(eventType events.Type, adapter orchestrator.Adapter) {
	if r.bus == nil {
		return
	}
	event := events.New(eventType, "adapter-registry", map[string]interface{}{
		"adapter":   adapter.Name(),
		"framework": adapter.Framework(),
	})
	if err := r.bus.Publish(context.Background(), event); err != nil {
		r.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to publish adapter event")
	}
}
