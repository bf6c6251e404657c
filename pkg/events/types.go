// Package events provides the bizy event system: a publish/subscribe bus
// with in-memory and Redis Streams backends, condition-based routing, and
// replay of persisted event windows.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type identifies an event category. Types are dot-namespaced.
type Type string

const (
	// Execution lifecycle events
	TypeExecutionStarted   Type = "execution.started"
	TypeExecutionCompleted Type = "execution.completed"
	TypeExecutionFailed    Type = "execution.failed"
	TypeExecutionSkipped   Type = "execution.skipped"

	// Action events
	TypeActionStarted   Type = "action.started"
	TypeActionCompleted Type = "action.completed"
	TypeActionFailed    Type = "action.failed"
	TypeActionRetried   Type = "action.retried"

	// Rule lifecycle events
	TypeRuleCreated Type = "rule.created"
	TypeRuleUpdated Type = "rule.updated"
	TypeRuleDeleted Type = "rule.deleted"
	TypeRulesLoaded Type = "rule.loaded"

	// Adapter events
	TypeAdapterRegistered   Type = "adapter.registered"
	TypeAdapterUnregistered Type = "adapter.unregistered"
	TypeAdapterUnhealthy    Type = "adapter.unhealthy"
	TypeAdapterRecovered    Type = "adapter.recovered"

	// Breaker events
	TypeBreakerOpened Type = "breaker.opened"
	TypeBreakerClosed Type = "breaker.closed"

	// Monitoring events
	TypeMonitorAlert Type = "monitor.alert"

	// Replay events
	TypeReplayStarted   Type = "replay.started"
	TypeReplayCompleted Type = "replay.completed"
)

// Wildcard subscribes to every event type.
const Wildcard = "*"

// Event is a single occurrence on the bus.
type Event struct {
	// ID uniquely identifies the event.
	ID string `json:"id"`

	// Type is the event category.
	Type Type `json:"type"`

	// Source names the component that emitted the event.
	Source string `json:"source"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// CorrelationID links events belonging to one logical flow.
	CorrelationID string `json:"correlation_id,omitempty"`

	// Data is the event payload.
	Data map[string]interface{} `json:"data,omitempty"`

	// Metadata carries transport and bookkeeping fields.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// New creates an event with a fresh ID and the current timestamp.
func New(eventType Type, source string, data map[string]interface{}) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// WithCorrelation returns a copy of the event carrying the correlation ID.
func (e Event) WithCorrelation(correlationID string) Event {
	e.CorrelationID = correlationID
	return e
}

// Bus is the publish/subscribe surface shared by all backends.
type Bus interface {
	// Publish delivers an event to all matching subscribers.
	Publish(ctx context.Context, event Event) error

	// Subscribe returns a channel of events matching the type, and a
	// cancel function that releases the subscription. Use Wildcard to
	// receive every event.
	Subscribe(eventType string) (<-chan Event, func())

	// Close shuts the bus down and releases all subscriptions.
	Close() error
}

// Filter selects stored events for queries and replay.
type Filter struct {
	// Types restricts to the listed event types. Empty means all.
	Types []Type `json:"types,omitempty"`

	// Source restricts to one emitting component. Empty means all.
	Source string `json:"source,omitempty"`

	// CorrelationID restricts to one logical flow. Empty means all.
	CorrelationID string `json:"correlation_id,omitempty"`

	// Since restricts to events at or after this time.
	Since time.Time `json:"since,omitempty"`

	// Until restricts to events before this time.
	Until time.Time `json:"until,omitempty"`

	// Limit caps the number of returned events. Zero means no cap.
	Limit int `json:"limit,omitempty"`
}

// Matches reports whether an event passes the filter.
func (f Filter) Matches(e Event) bool {
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if e.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Source != "" && e.Source != f.Source {
		return false
	}
	if f.CorrelationID != "" && e.CorrelationID != f.CorrelationID {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !e.Timestamp.Before(f.Until) {
		return false
	}
	return true
}
