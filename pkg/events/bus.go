package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// defaultHistorySize bounds the in-memory event history ring.
const defaultHistorySize = 1000

// defaultSubscriberBuffer is the per-subscriber channel capacity. Events
// are dropped for a subscriber whose buffer is full.
const defaultSubscriberBuffer = 64

// subscription is one subscriber channel bound to an event type. Sends and
// close are serialized on the subscription's own mutex so a publisher can
// never hit a channel that a concurrent cancel just closed.
type subscription struct {
	id        int
	eventType string
	ch        chan Event

	mu     sync.Mutex
	closed bool
}

// send delivers the event unless the subscription was cancelled. It reports
// whether the event was dropped for a full buffer.
func (s *subscription) send(event Event) (dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- event:
		return false
	default:
		return true
	}
}

// close closes the channel exactly once.
func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// MemoryBus is the in-process event bus. Delivery is asynchronous and
// non-blocking: a slow subscriber loses events rather than stalling
// publishers.
type MemoryBus struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	subs    map[int]*subscription
	nextID  int
	closed  bool
	history []Event
	histCap int
	dropped uint64

	// onDrop, when set, observes each dropped event (used for metrics).
	onDrop func(eventType Type)
}

// NewMemoryBus creates an in-memory bus with the default history size.
func NewMemoryBus(logger zerolog.Logger) *MemoryBus {
	return NewMemoryBusSize(logger, defaultHistorySize)
}

// NewMemoryBusSize creates an in-memory bus with a custom history size.
func NewMemoryBusSize(logger zerolog.Logger, historySize int) *MemoryBus {
	if historySize <= 0 {
		historySize = defaultHistorySize
	}
	return &MemoryBus{
		logger:  logger.With().Str("component", "event-bus").Logger(),
		subs:    make(map[int]*subscription),
		histCap: historySize,
	}
}

// OnDrop registers a callback invoked whenever an event is dropped for a
// slow subscriber.
func (b *MemoryBus) OnDrop(fn func(eventType Type)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDrop = fn
}

// Publish delivers the event to all matching subscribers and records it in
// the bounded history.
func (b *MemoryBus) Publish(ctx context.Context, event Event) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("event bus is closed")
	}

	b.history = append(b.history, event)
	if len(b.history) > b.histCap {
		b.history = b.history[len(b.history)-b.histCap:]
	}

	var targets []*subscription
	for _, sub := range b.subs {
		if sub.eventType == Wildcard || sub.eventType == string(event.Type) {
			targets = append(targets, sub)
		}
	}
	onDrop := b.onDrop
	b.mu.Unlock()

	for _, sub := range targets {
		if !sub.send(event) {
			continue
		}
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
		if onDrop != nil {
			onDrop(event.Type)
		}
		b.logger.Warn().
			Str("event_type", string(event.Type)).
			Str("subscription_type", sub.eventType).
			Msg("Dropped event for slow subscriber")
	}

	return nil
}

// Subscribe returns a channel receiving events of the given type, plus a
// cancel function. Use Wildcard to receive everything.
func (b *MemoryBus) Subscribe(eventType string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{
		id:        b.nextID,
		eventType: eventType,
		ch:        make(chan Event, defaultSubscriberBuffer),
	}
	b.nextID++
	b.subs[sub.id] = sub

	cancel := func() {
		b.mu.Lock()
		delete(b.subs, sub.id)
		b.mu.Unlock()
		sub.close()
	}
	return sub.ch, cancel
}

// History returns the most recent events, newest last. limit <= 0 returns
// the full retained history.
func (b *MemoryBus) History(limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	start := 0
	if limit > 0 && len(b.history) > limit {
		start = len(b.history) - limit
	}
	out := make([]Event, len(b.history)-start)
	copy(out, b.history[start:])
	return out
}

// Dropped returns the number of events dropped for slow subscribers.
func (b *MemoryBus) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Close shuts the bus down and closes all subscriber channels.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		sub.close()
	}
	return nil
}
