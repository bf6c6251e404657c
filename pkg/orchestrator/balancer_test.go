package orchestrator

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestBalancerRoundRobin(t *testing.T) {
	b := NewBalancer(testLogger(), StrategyRoundRobin)
	b.AddInstance("a", "memory", 1)
	b.AddInstance("b", "memory", 1)

	seen := make(map[string]int)
	for i := 0; i < 4; i++ {
		name, err := b.Pick("memory", nil)
		if err != nil {
			t.Fatalf("Pick failed: %v", err)
		}
		seen[name]++
		b.Release(name, "memory", time.Millisecond, nil)
	}
	if seen["a"] != 2 || seen["b"] != 2 {
		t.Errorf("expected even distribution, got %v", seen)
	}
}

func TestBalancerNoInstances(t *testing.T) {
	b := NewBalancer(testLogger(), StrategyRoundRobin)
	if _, err := b.Pick("memory", nil); err == nil {
		t.Fatal("expected error when no instances registered")
	}
}

func TestBalancerSkipsTried(t *testing.T) {
	b := NewBalancer(testLogger(), StrategyRoundRobin)
	b.AddInstance("a", "memory", 1)
	b.AddInstance("b", "memory", 1)

	name, err := b.Pick("memory", map[string]bool{"a": true})
	if err != nil {
		t.Fatalf("Pick failed: %v", err)
	}
	if name != "b" {
		t.Errorf("expected b, got %s", name)
	}

	if _, err := b.Pick("memory", map[string]bool{"a": true, "b": true}); err == nil {
		t.Error("expected error when all instances tried")
	}
}

func TestBalancerLeastConnections(t *testing.T) {
	b := NewBalancer(testLogger(), StrategyLeastConnections)
	b.AddInstance("busy", "memory", 1)
	b.AddInstance("idle", "memory", 1)

	// Load the first instance.
	for i := 0; i < 3; i++ {
		name, err := b.Pick("memory", map[string]bool{"idle": true})
		if err != nil {
			t.Fatalf("Pick failed: %v", err)
		}
		if name != "busy" {
			t.Fatalf("expected busy, got %s", name)
		}
	}

	name, err := b.Pick("memory", nil)
	if err != nil {
		t.Fatalf("Pick failed: %v", err)
	}
	if name != "idle" {
		t.Errorf("expected idle instance, got %s", name)
	}
}

func TestBalancerResponseTime(t *testing.T) {
	b := NewBalancer(testLogger(), StrategyResponseTime)
	b.AddInstance("slow", "memory", 1)
	b.AddInstance("fast", "memory", 1)

	for _, rec := range []struct {
		name    string
		latency time.Duration
	}{{"slow", time.Second}, {"fast", 10 * time.Millisecond}} {
		name, err := b.Pick("memory", map[string]bool{otherOf(rec.name): true})
		if err != nil {
			t.Fatalf("Pick failed: %v", err)
		}
		b.Release(name, "memory", rec.latency, nil)
	}

	name, err := b.Pick("memory", nil)
	if err != nil {
		t.Fatalf("Pick failed: %v", err)
	}
	if name != "fast" {
		t.Errorf("expected fast instance, got %s", name)
	}
}

func otherOf(name string) string {
	if name == "slow" {
		return "fast"
	}
	return "slow"
}

func TestBalancerHealthScoreDecay(t *testing.T) {
	b := NewBalancer(testLogger(), StrategyRoundRobin)
	b.AddInstance("flaky", "memory", 1)

	// Seven consecutive errors push the score below 0.5 (0.9^7 ~ 0.48).
	for i := 0; i < 7; i++ {
		name, err := b.Pick("memory", nil)
		if err != nil {
			t.Fatalf("Pick failed on attempt %d: %v", i, err)
		}
		b.Release(name, "memory", time.Millisecond, errors.New("boom"))
	}

	if _, err := b.Pick("memory", nil); err == nil {
		t.Fatal("expected unhealthy instance to be skipped")
	}

	// Recovery multiplies by 1.1 per success, capped at 1.0.
	b.SetHealth("flaky", "memory", 0.9)
	for i := 0; i < 5; i++ {
		name, err := b.Pick("memory", nil)
		if err != nil {
			t.Fatalf("Pick failed during recovery: %v", err)
		}
		b.Release(name, "memory", time.Millisecond, nil)
	}

	snap := b.Snapshot()["memory"]
	if len(snap) != 1 {
		t.Fatalf("expected 1 instance, got %d", len(snap))
	}
	if snap[0].HealthScore != 1.0 {
		t.Errorf("expected health score capped at 1.0, got %v", snap[0].HealthScore)
	}
}

func TestBalancerEMAResponseTime(t *testing.T) {
	b := NewBalancer(testLogger(), StrategyRoundRobin)
	b.AddInstance("a", "memory", 1)

	pickAndRelease := func(latency time.Duration) {
		name, err := b.Pick("memory", nil)
		if err != nil {
			t.Fatalf("Pick failed: %v", err)
		}
		b.Release(name, "memory", latency, nil)
	}

	pickAndRelease(100 * time.Millisecond)
	pickAndRelease(200 * time.Millisecond)

	// EMA with alpha 0.3: 0.3*200ms + 0.7*100ms = 130ms.
	got := b.Snapshot()["memory"][0].AvgResponseTime
	want := 130 * time.Millisecond
	if got != want {
		t.Errorf("expected EMA %v, got %v", want, got)
	}
}

func TestBalancerWeighted(t *testing.T) {
	b := NewBalancer(testLogger(), StrategyWeighted)
	b.AddInstance("heavy", "memory", 9)
	b.AddInstance("light", "memory", 1)

	counts := make(map[string]int)
	for i := 0; i < 500; i++ {
		name, err := b.Pick("memory", nil)
		if err != nil {
			t.Fatalf("Pick failed: %v", err)
		}
		counts[name]++
		b.Release(name, "memory", time.Millisecond, nil)
	}

	if counts["heavy"] <= counts["light"] {
		t.Errorf("expected weighted skew toward heavy, got %v", counts)
	}
}

func TestBalancerRebalanceWeights(t *testing.T) {
	b := NewBalancer(testLogger(), StrategyWeighted)
	b.AddInstance("fast", "memory", 1)
	b.AddInstance("slow", "memory", 1)

	// Make "slow" markedly worse: high latency and errors.
	for i := 0; i < 5; i++ {
		name, err := b.Pick("memory", map[string]bool{"fast": true})
		if err != nil {
			t.Fatalf("Pick failed: %v", err)
		}
		b.Release(name, "memory", 2*time.Second, errors.New("boom"))
	}
	name, err := b.Pick("memory", map[string]bool{"slow": true})
	if err != nil {
		t.Fatalf("Pick failed: %v", err)
	}
	b.Release(name, "memory", time.Millisecond, nil)

	b.RebalanceWeights()

	var fast, slow Instance
	for _, inst := range b.Snapshot()["memory"] {
		switch inst.Name {
		case "fast":
			fast = inst
		case "slow":
			slow = inst
		}
	}
	if fast.Weight <= slow.Weight {
		t.Errorf("expected fast instance to outweigh slow one, got fast=%f slow=%f", fast.Weight, slow.Weight)
	}
	// Weights stay normalized around 1 per framework.
	if sum := fast.Weight + slow.Weight; sum < 1.9 || sum > 2.1 {
		t.Errorf("expected weights to sum near 2, got %f", sum)
	}
}

func TestBalancerRemoveInstance(t *testing.T) {
	b := NewBalancer(testLogger(), StrategyRoundRobin)
	b.AddInstance("a", "memory", 1)
	b.RemoveInstance("a", "memory")

	if _, err := b.Pick("memory", nil); err == nil {
		t.Error("expected error after instance removal")
	}
}
