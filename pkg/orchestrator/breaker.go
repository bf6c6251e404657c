package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// BreakerState is the circuit breaker state for one framework.
type BreakerState string

const (
	// BreakerClosed passes calls through and counts failures.
	BreakerClosed BreakerState = "closed"

	// BreakerOpen rejects calls until the cooldown elapses.
	BreakerOpen BreakerState = "open"

	// BreakerHalfOpen lets a single probe call through.
	BreakerHalfOpen BreakerState = "half_open"
)

const (
	defaultFailureThreshold = 5
	defaultCooldown         = 30 * time.Second
)

// breakerEntry tracks one framework's circuit.
type breakerEntry struct {
	state     BreakerState
	failures  int
	openedAt  time.Time
	probing   bool
}

// Breaker trips a framework's circuit after consecutive failures, rejecting
// further calls until a cooldown passes and a probe call succeeds.
type Breaker struct {
	logger    zerolog.Logger
	threshold int
	cooldown  time.Duration

	// onStateChange, when set, observes transitions (used for metrics).
	onStateChange func(framework string, state BreakerState)

	mu      sync.Mutex
	entries map[string]*breakerEntry
}

// NewBreaker creates a breaker. threshold <= 0 and cooldown <= 0 use the
// defaults (5 consecutive failures, 30s cooldown).
func NewBreaker(logger zerolog.Logger, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = defaultFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	return &Breaker{
		logger:    logger.With().Str("component", "breaker").Logger(),
		threshold: threshold,
		cooldown:  cooldown,
		entries:   make(map[string]*breakerEntry),
	}
}

// OnStateChange registers a transition observer.
func (b *Breaker) OnStateChange(fn func(framework string, state BreakerState)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

// Allow reports whether a call to the framework may proceed. In half-open
// state only one probe at a time is admitted.
func (b *Breaker) Allow(framework string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry := b.entry(framework)
	switch entry.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if time.Since(entry.openedAt) >= b.cooldown {
			b.transition(framework, entry, BreakerHalfOpen)
			entry.probing = true
			return nil
		}
	case BreakerHalfOpen:
		if !entry.probing {
			entry.probing = true
			return nil
		}
	}

	return NewTransientError(
		fmt.Sprintf("circuit breaker open for framework %s", framework), nil).
		WithCode(ErrCodeBreakerOpen).
		WithFramework(framework)
}

// RecordSuccess resets the framework's circuit.
func (b *Breaker) RecordSuccess(framework string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry := b.entry(framework)
	entry.failures = 0
	entry.probing = false
	if entry.state != BreakerClosed {
		b.transition(framework, entry, BreakerClosed)
	}
}

// RecordFailure counts a failure. A failed probe reopens the circuit; in
// closed state the circuit trips once failures reach the threshold.
func (b *Breaker) RecordFailure(framework string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry := b.entry(framework)
	entry.probing = false

	switch entry.state {
	case BreakerHalfOpen:
		entry.openedAt = time.Now()
		b.transition(framework, entry, BreakerOpen)
	case BreakerClosed:
		entry.failures++
		if entry.failures >= b.threshold {
			entry.openedAt = time.Now()
			b.transition(framework, entry, BreakerOpen)
		}
	}
}

// State returns the framework's current circuit state.
func (b *Breaker) State(framework string) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entry(framework).state
}

func (b *Breaker) entry(framework string) *breakerEntry {
	entry, ok := b.entries[framework]
	if !ok {
		entry = &breakerEntry{state: BreakerClosed}
		b.entries[framework] = entry
	}
	return entry
}

// breakerStateValue maps states onto gauge values (closed 0, half-open 1,
// open 2).
func breakerStateValue(state BreakerState) float64 {
	switch state {
	case BreakerHalfOpen:
		return 1
	case BreakerOpen:
		return 2
	default:
		return 0
	}
}

// transition must be called with the mutex held.
func (b *Breaker) transition(framework string, entry *breakerEntry, state BreakerState) {
	entry.state = state
	b.logger.Warn().
		Str("framework", framework).
		Str("state", string(state)).
		Msg("Circuit breaker state changed")
	if b.onStateChange != nil {
		b.onStateChange(framework, state)
	}
}
