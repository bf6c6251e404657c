package orchestrator

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Strategy selects among adapter instances serving the same framework.
type Strategy string

const (
	StrategyRoundRobin       Strategy = "round_robin"
	StrategyRandom           Strategy = "random"
	StrategyLeastConnections Strategy = "least_connections"
	StrategyWeighted         Strategy = "weighted"
	StrategyResponseTime     Strategy = "response_time"
	StrategyAdaptive         Strategy = "adaptive"
)

// emaAlpha is the smoothing factor for the response time moving average.
const emaAlpha = 0.3

// defaultMaxConnections bounds in-flight actions per instance.
const defaultMaxConnections = 100

// Instance tracks the live load-balancing state of one adapter instance.
type Instance struct {
	// Name is the adapter instance name.
	Name string `json:"name"`

	// Framework is the framework the instance serves.
	Framework string `json:"framework"`

	// Weight biases weighted selection. Defaults to 1.
	Weight float64 `json:"weight"`

	// MaxConnections bounds concurrent in-flight actions.
	MaxConnections int `json:"max_connections"`

	// ActiveConnections is the current in-flight count.
	ActiveConnections int `json:"active_connections"`

	// AvgResponseTime is the exponential moving average of call latency.
	AvgResponseTime time.Duration `json:"avg_response_time"`

	// HealthScore decays on errors and recovers on successes, in (0, 1].
	HealthScore float64 `json:"health_score"`

	// TotalRequests counts completed calls.
	TotalRequests int64 `json:"total_requests"`

	// TotalErrors counts failed calls.
	TotalErrors int64 `json:"total_errors"`
}

// healthy reports whether the instance can take another request.
func (i *Instance) healthy() bool {
	return i.HealthScore > 0.5 && i.ActiveConnections < i.MaxConnections
}

// Balancer distributes actions across adapter instances per framework.
type Balancer struct {
	logger   zerolog.Logger
	strategy Strategy

	mu        sync.Mutex
	instances map[string][]*Instance
	rrCursor  map[string]int
	rng       *rand.Rand
}

// NewBalancer creates a balancer with the given strategy.
func NewBalancer(logger zerolog.Logger, strategy Strategy) *Balancer {
	if strategy == "" {
		strategy = StrategyRoundRobin
	}
	return &Balancer{
		logger:    logger.With().Str("component", "balancer").Logger(),
		strategy:  strategy,
		instances: make(map[string][]*Instance),
		rrCursor:  make(map[string]int),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// AddInstance registers an adapter instance for a framework.
func (b *Balancer) AddInstance(name, framework string, weight float64) {
	if weight <= 0 {
		weight = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.instances[framework] = append(b.instances[framework], &Instance{
		Name:           name,
		Framework:      framework,
		Weight:         weight,
		MaxConnections: defaultMaxConnections,
		HealthScore:    1.0,
	})
}

// RemoveInstance deregisters an adapter instance.
func (b *Balancer) RemoveInstance(name, framework string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.instances[framework]
	out := list[:0]
	for _, inst := range list {
		if inst.Name != name {
			out = append(out, inst)
		}
	}
	b.instances[framework] = out
}

// Pick selects an instance for the framework, skipping names in tried.
// It increments the instance's active connection count; the caller must
// pair every Pick with a Release.
func (b *Balancer) Pick(framework string, tried map[string]bool) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var candidates []*Instance
	for _, inst := range b.instances[framework] {
		if tried[inst.Name] || !inst.healthy() {
			continue
		}
		candidates = append(candidates, inst)
	}
	if len(candidates) == 0 {
		return "", NewTransientError(
			fmt.Sprintf("no healthy adapter instance available for framework %s", framework), nil).
			WithCode(ErrCodeAdapterFailed).
			WithFramework(framework)
	}

	var chosen *Instance
	switch b.strategy {
	case StrategyRandom:
		chosen = candidates[b.rng.Intn(len(candidates))]
	case StrategyLeastConnections:
		chosen = candidates[0]
		for _, inst := range candidates[1:] {
			if inst.ActiveConnections < chosen.ActiveConnections {
				chosen = inst
			}
		}
	case StrategyWeighted:
		chosen = b.pickWeighted(candidates)
	case StrategyResponseTime:
		chosen = candidates[0]
		for _, inst := range candidates[1:] {
			if inst.AvgResponseTime < chosen.AvgResponseTime {
				chosen = inst
			}
		}
	case StrategyAdaptive:
		// Composite score: prefer healthy, fast, idle instances.
		chosen = candidates[0]
		best := adaptiveScore(chosen)
		for _, inst := range candidates[1:] {
			if score := adaptiveScore(inst); score > best {
				chosen, best = inst, score
			}
		}
	default: // round robin
		cursor := b.rrCursor[framework]
		chosen = candidates[cursor%len(candidates)]
		b.rrCursor[framework] = cursor + 1
	}

	chosen.ActiveConnections++
	return chosen.Name, nil
}

// pickWeighted selects proportionally to instance weights.
func (b *Balancer) pickWeighted(candidates []*Instance) *Instance {
	total := 0.0
	for _, inst := range candidates {
		total += inst.Weight
	}
	target := b.rng.Float64() * total
	for _, inst := range candidates {
		target -= inst.Weight
		if target <= 0 {
			return inst
		}
	}
	return candidates[len(candidates)-1]
}

// adaptiveScore combines health, latency, and load into one ranking value.
func adaptiveScore(inst *Instance) float64 {
	latency := float64(inst.AvgResponseTime) / float64(time.Second)
	load := float64(inst.ActiveConnections) / float64(inst.MaxConnections)
	return inst.HealthScore / (1.0 + latency + load)
}

// Release records the outcome of a call picked earlier: it decrements the
// active count, folds the latency into the moving average, and adjusts the
// health score (errors decay it, successes recover it).
func (b *Balancer) Release(name, framework string, latency time.Duration, callErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	inst := b.find(name, framework)
	if inst == nil {
		return
	}
	if inst.ActiveConnections > 0 {
		inst.ActiveConnections--
	}
	inst.TotalRequests++

	if inst.AvgResponseTime == 0 {
		inst.AvgResponseTime = latency
	} else {
		inst.AvgResponseTime = time.Duration(
			emaAlpha*float64(latency) + (1-emaAlpha)*float64(inst.AvgResponseTime))
	}

	if callErr != nil {
		inst.TotalErrors++
		inst.HealthScore *= 0.9
	} else {
		inst.HealthScore *= 1.1
		if inst.HealthScore > 1.0 {
			inst.HealthScore = 1.0
		}
	}
}

// RebalanceWeights recomputes instance weights from observed performance
// so the weighted strategy tracks real capacity. Each instance's weight
// becomes its composite score normalized to average 1 per framework.
func (b *Balancer) RebalanceWeights() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, list := range b.instances {
		if len(list) == 0 {
			continue
		}
		total := 0.0
		scores := make([]float64, len(list))
		for i, inst := range list {
			scores[i] = adaptiveScore(inst)
			total += scores[i]
		}
		if total == 0 {
			continue
		}
		for i, inst := range list {
			inst.Weight = scores[i] * float64(len(list)) / total
		}
	}
}

// SetHealth overrides an instance's health score, used by external health
// checks to take an instance out of rotation.
func (b *Balancer) SetHealth(name, framework string, score float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if inst := b.find(name, framework); inst != nil {
		inst.HealthScore = score
	}
}

// Snapshot returns a copy of all instance states.
func (b *Balancer) Snapshot() map[string][]Instance {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string][]Instance, len(b.instances))
	for framework, list := range b.instances {
		copies := make([]Instance, len(list))
		for i, inst := range list {
			copies[i] = *inst
		}
		out[framework] = copies
	}
	return out
}

func (b *Balancer) find(name, framework string) *Instance {
	for _, inst := range b.instances[framework] {
		if inst.Name == name {
			return inst
		}
	}
	return nil
}
