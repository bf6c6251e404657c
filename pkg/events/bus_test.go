package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func waitForEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case event, ok := <-ch:
		if !ok {
			t.Fatal("subscription channel closed unexpectedly")
		}
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestMemoryBusPublishSubscribe(t *testing.T) {
	bus := NewMemoryBus(testLogger())
	defer bus.Close()

	ch, cancel := bus.Subscribe(string(TypeExecutionStarted))
	defer cancel()

	event := New(TypeExecutionStarted, "orchestrator", map[string]interface{}{
		"rule_id": "fraud-screening",
	})
	if err := bus.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	got := waitForEvent(t, ch)
	if got.ID != event.ID {
		t.Errorf("expected event %s, got %s", event.ID, got.ID)
	}
	if got.Data["rule_id"] != "fraud-screening" {
		t.Errorf("unexpected payload: %v", got.Data)
	}
}

func TestMemoryBusTypeFiltering(t *testing.T) {
	bus := NewMemoryBus(testLogger())
	defer bus.Close()

	ch, cancel := bus.Subscribe(string(TypeExecutionFailed))
	defer cancel()

	if err := bus.Publish(context.Background(), New(TypeExecutionStarted, "orchestrator", nil)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	failed := New(TypeExecutionFailed, "orchestrator", nil)
	if err := bus.Publish(context.Background(), failed); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	got := waitForEvent(t, ch)
	if got.Type != TypeExecutionFailed {
		t.Errorf("expected execution.failed, got %s", got.Type)
	}
}

func TestMemoryBusWildcard(t *testing.T) {
	bus := NewMemoryBus(testLogger())
	defer bus.Close()

	ch, cancel := bus.Subscribe(Wildcard)
	defer cancel()

	types := []Type{TypeExecutionStarted, TypeActionCompleted, TypeMonitorAlert}
	for _, et := range types {
		if err := bus.Publish(context.Background(), New(et, "test", nil)); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	for _, want := range types {
		got := waitForEvent(t, ch)
		if got.Type != want {
			t.Errorf("expected %s, got %s", want, got.Type)
		}
	}
}

func TestMemoryBusCancelStopsDelivery(t *testing.T) {
	bus := NewMemoryBus(testLogger())
	defer bus.Close()

	ch, cancel := bus.Subscribe(Wildcard)
	cancel()

	if err := bus.Publish(context.Background(), New(TypeExecutionStarted, "test", nil)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("received event after cancel")
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemoryBusConcurrentPublishAndCancel(t *testing.T) {
	bus := NewMemoryBus(testLogger())
	defer bus.Close()

	done := make(chan struct{})
	var wg sync.WaitGroup

	// Publishers race against subscribers cancelling mid-publish. Sends to
	// a cancelled subscription must be discarded, never panic.
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					if err := bus.Publish(context.Background(), New(TypeExecutionStarted, "test", nil)); err != nil {
						t.Errorf("Publish failed: %v", err)
						return
					}
				}
			}
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					_, cancel := bus.Subscribe(Wildcard)
					cancel()
				}
			}
		}()
	}

	time.Sleep(200 * time.Millisecond)
	close(done)
	wg.Wait()
}

func TestMemoryBusHistory(t *testing.T) {
	bus := NewMemoryBusSize(testLogger(), 3)
	defer bus.Close()

	for i := 0; i < 5; i++ {
		event := New(TypeExecutionStarted, "test", map[string]interface{}{"seq": i})
		if err := bus.Publish(context.Background(), event); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	history := bus.History(0)
	if len(history) != 3 {
		t.Fatalf("expected history of 3, got %d", len(history))
	}
	// Oldest entries evicted; the window starts at seq 2.
	if history[0].Data["seq"] != 2 {
		t.Errorf("expected oldest seq 2, got %v", history[0].Data["seq"])
	}
	if history[2].Data["seq"] != 4 {
		t.Errorf("expected newest seq 4, got %v", history[2].Data["seq"])
	}

	limited := bus.History(1)
	if len(limited) != 1 || limited[0].Data["seq"] != 4 {
		t.Errorf("expected only newest event, got %v", limited)
	}
}

func TestMemoryBusDropsOnFullBuffer(t *testing.T) {
	bus := NewMemoryBus(testLogger())
	defer bus.Close()

	var droppedType Type
	bus.OnDrop(func(eventType Type) {
		droppedType = eventType
	})

	// Never drained, so the subscriber buffer eventually fills.
	_, cancel := bus.Subscribe(Wildcard)
	defer cancel()

	for i := 0; i < defaultSubscriberBuffer+10; i++ {
		if err := bus.Publish(context.Background(), New(TypeExecutionStarted, "test", nil)); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	if bus.Dropped() == 0 {
		t.Error("expected dropped events to be counted")
	}
	if droppedType != TypeExecutionStarted {
		t.Errorf("expected drop callback with execution.started, got %q", droppedType)
	}
}

func TestFilterMatches(t *testing.T) {
	now := time.Now().UTC()
	event := Event{
		ID:            "evt-1",
		Type:          TypeExecutionCompleted,
		Source:        "orchestrator",
		Timestamp:     now,
		CorrelationID: "corr-1",
	}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty filter", Filter{}, true},
		{"matching type", Filter{Types: []Type{TypeExecutionCompleted}}, true},
		{"wrong type", Filter{Types: []Type{TypeExecutionFailed}}, false},
		{"matching source", Filter{Source: "orchestrator"}, true},
		{"wrong source", Filter{Source: "monitor"}, false},
		{"matching correlation", Filter{CorrelationID: "corr-1"}, true},
		{"wrong correlation", Filter{CorrelationID: "corr-2"}, false},
		{"since before", Filter{Since: now.Add(-time.Minute)}, true},
		{"since after", Filter{Since: now.Add(time.Minute)}, false},
		{"until after", Filter{Until: now.Add(time.Minute)}, true},
		{"until before", Filter{Until: now.Add(-time.Minute)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(event); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}
