package events

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// RouteOperator compares an event field against a route condition value.
type RouteOperator string

const (
	RouteOpEq       RouteOperator = "eq"
	RouteOpNe       RouteOperator = "ne"
	RouteOpGt       RouteOperator = "gt"
	RouteOpLt       RouteOperator = "lt"
	RouteOpContains RouteOperator = "contains"
	RouteOpMatches  RouteOperator = "matches"
	RouteOpIn       RouteOperator = "in"
	RouteOpNotIn    RouteOperator = "not_in"
)

// RouteCondition matches one event field. Field is "event_type", "source",
// "correlation_id", or a "data." prefixed path into the payload.
type RouteCondition struct {
	Field    string        `json:"field"`
	Operator RouteOperator `json:"operator"`
	Value    interface{}   `json:"value"`
}

// Handler consumes a routed event.
type Handler func(ctx context.Context, event Event) error

// Transform rewrites an event before it reaches the route handler.
type Transform func(event Event) Event

// Route forwards matching events to a handler. All conditions must match.
type Route struct {
	// ID uniquely identifies the route.
	ID string `json:"id"`

	// Conditions select events; empty matches everything.
	Conditions []RouteCondition `json:"conditions,omitempty"`

	// Enabled gates the route without removing it.
	Enabled bool `json:"enabled"`

	// Transform, when set, rewrites events before delivery.
	Transform Transform `json:"-"`

	// Handler receives matching events.
	Handler Handler `json:"-"`
}

// Router dispatches bus events to routes by matching conditions. Routes
// with an equality condition on event_type are indexed for direct lookup;
// the rest are checked against every event.
type Router struct {
	logger zerolog.Logger
	bus    Bus

	mu      sync.RWMutex
	byType  map[Type][]*Route
	generic []*Route
	routes  map[string]*Route

	cancel func()
}

// NewRouter creates a router over the given bus.
func NewRouter(logger zerolog.Logger, bus Bus) *Router {
	return &Router{
		logger: logger.With().Str("component", "event-router").Logger(),
		bus:    bus,
		byType: make(map[Type][]*Route),
		routes: make(map[string]*Route),
	}
}

// AddRoute registers a route. Route IDs must be unique.
func (r *Router) AddRoute(route Route) error {
	if route.ID == "" {
		return fmt.Errorf("route ID is required")
	}
	if route.Handler == nil {
		return fmt.Errorf("route %s has no handler", route.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.routes[route.ID]; exists {
		return fmt.Errorf("route %s already exists", route.ID)
	}

	stored := route
	r.routes[route.ID] = &stored
	if t, ok := indexableType(stored.Conditions); ok {
		r.byType[t] = append(r.byType[t], &stored)
	} else {
		r.generic = append(r.generic, &stored)
	}
	return nil
}

// RemoveRoute deletes a route by ID.
func (r *Router) RemoveRoute(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	route, ok := r.routes[id]
	if !ok {
		return fmt.Errorf("route %s not found", id)
	}
	delete(r.routes, id)

	if t, ok := indexableType(route.Conditions); ok {
		r.byType[t] = removeRoute(r.byType[t], route)
	} else {
		r.generic = removeRoute(r.generic, route)
	}
	return nil
}

// SetEnabled toggles a route without removing it.
func (r *Router) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	route, ok := r.routes[id]
	if !ok {
		return fmt.Errorf("route %s not found", id)
	}
	route.Enabled = enabled
	return nil
}

// Routes returns a snapshot of registered routes.
func (r *Router) Routes() []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Route, 0, len(r.routes))
	for _, route := range r.routes {
		out = append(out, *route)
	}
	return out
}

// Start subscribes to the bus and dispatches until ctx is done.
func (r *Router) Start(ctx context.Context) {
	ch, cancel := r.bus.Subscribe(Wildcard)
	r.cancel = cancel

	go func() {
		for {
			select {
			case <-ctx.Done():
				cancel()
				return
			case event, ok := <-ch:
				if !ok {
					return
				}
				r.Dispatch(ctx, event)
			}
		}
	}()
}

// Stop cancels the bus subscription.
func (r *Router) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

// Dispatch routes a single event to every matching enabled route.
func (r *Router) Dispatch(ctx context.Context, event Event) {
	r.mu.RLock()
	candidates := make([]*Route, 0, len(r.byType[event.Type])+len(r.generic))
	candidates = append(candidates, r.byType[event.Type]...)
	candidates = append(candidates, r.generic...)
	r.mu.RUnlock()

	for _, route := range candidates {
		if !route.Enabled || !matchRoute(route.Conditions, event) {
			continue
		}
		delivered := event
		if route.Transform != nil {
			delivered = route.Transform(delivered)
		}
		if err := route.Handler(ctx, delivered); err != nil {
			r.logger.Error().
				Err(err).
				Str("route", route.ID).
				Str("event_type", string(event.Type)).
				Msg("Route handler failed")
		}
	}
}

// indexableType extracts the event type when the conditions pin it with
// a single equality check.
func indexableType(conditions []RouteCondition) (Type, bool) {
	for _, c := range conditions {
		if c.Field == "event_type" && c.Operator == RouteOpEq {
			if s, ok := c.Value.(string); ok {
				return Type(s), true
			}
		}
	}
	return "", false
}

func removeRoute(routes []*Route, target *Route) []*Route {
	out := routes[:0]
	for _, route := range routes {
		if route != target {
			out = append(out, route)
		}
	}
	return out
}

// matchRoute evaluates every condition against the event (logical AND).
func matchRoute(conditions []RouteCondition, event Event) bool {
	for _, c := range conditions {
		value, ok := eventField(event, c.Field)
		if !ok {
			return false
		}
		if !matchValue(value, c.Operator, c.Value) {
			return false
		}
	}
	return true
}

// eventField resolves a route condition field from the event.
func eventField(event Event, field string) (interface{}, bool) {
	switch field {
	case "event_type":
		return string(event.Type), true
	case "source":
		return event.Source, true
	case "correlation_id":
		return event.CorrelationID, true
	}
	if path, ok := strings.CutPrefix(field, "data."); ok {
		return resolveData(event.Data, path)
	}
	return nil, false
}

func resolveData(data map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var current interface{} = data
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func matchValue(value interface{}, op RouteOperator, expected interface{}) bool {
	switch op {
	case RouteOpEq:
		return fmt.Sprintf("%v", value) == fmt.Sprintf("%v", expected)
	case RouteOpNe:
		return fmt.Sprintf("%v", value) != fmt.Sprintf("%v", expected)
	case RouteOpGt, RouteOpLt:
		vf, vok := toFloat(value)
		ef, eok := toFloat(expected)
		if !vok || !eok {
			return false
		}
		if op == RouteOpGt {
			return vf > ef
		}
		return vf < ef
	case RouteOpContains:
		vs, vok := value.(string)
		es, eok := expected.(string)
		return vok && eok && strings.Contains(vs, es)
	case RouteOpMatches:
		pattern, ok := expected.(string)
		if !ok {
			return false
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(fmt.Sprintf("%v", value))
	case RouteOpIn, RouteOpNotIn:
		list, ok := expected.([]interface{})
		if !ok {
			return false
		}
		found := false
		for _, item := range list {
			if fmt.Sprintf("%v", value) == fmt.Sprintf("%v", item) {
				found = true
				break
			}
		}
		if op == RouteOpIn {
			return found
		}
		return !found
	default:
		return false
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}
