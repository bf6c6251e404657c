// Package monitor detects coordination patterns across rule executions.
// It consumes execution events from the bus, keeps a sliding window of
// history, and raises monitor.alert events when failure or performance
// patterns emerge.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bizyhq/bizy/pkg/events"
	"github.com/bizyhq/bizy/pkg/telemetry"
)

// Pattern types raised by the detectors.
const (
	PatternCascadeFailure         = "cascade_failure"
	PatternErrorSpike             = "error_spike"
	PatternPerformanceDegradation = "performance_degradation"
	PatternFrameworkImbalance     = "framework_imbalance"
)

const (
	defaultMaxHistory    = 1000
	defaultWindow        = 5 * time.Minute
	defaultSweepInterval = 30 * time.Second

	// minExecutions gates the failure detectors; minTrendExecutions gates
	// the degradation detector, which needs enough samples for four
	// sub-windows.
	minExecutions      = 10
	minTrendExecutions = 20
)

// Execution is one completed rule execution as seen by the monitor.
type Execution struct {
	RuleID     string
	Frameworks []string
	Duration   time.Duration
	Success    bool
	Error      string
	Timestamp  time.Time
}

// Pattern is a detected coordination anomaly.
type Pattern struct {
	Type       string                 `json:"type"`
	DetectedAt time.Time              `json:"detected_at"`
	Details    map[string]interface{} `json:"details"`
}

// Thresholds tune the pattern detectors.
type Thresholds struct {
	// ErrorRate is the failure fraction above which an error spike fires.
	ErrorRate float64

	// DegradationFactor is the latency growth multiplier for degradation.
	DegradationFactor float64

	// ImbalanceShare is the single-framework share above which imbalance
	// fires.
	ImbalanceShare float64

	// CascadeFailures is the minimum failure count for a cascade.
	CascadeFailures int

	// CascadeFrameworks is the minimum count of distinct failing
	// frameworks for a cascade.
	CascadeFrameworks int

	// CascadeInterval is the maximum average gap between failures for
	// them to count as clustered.
	CascadeInterval time.Duration
}

// DefaultThresholds returns the standard detector tuning.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ErrorRate:         0.1,
		DegradationFactor: 3.0,
		ImbalanceShare:    0.5,
		CascadeFailures:   5,
		CascadeFrameworks: 3,
		CascadeInterval:   10 * time.Second,
	}
}

// Options configures a Monitor.
type Options struct {
	// Bus supplies execution events and receives alerts. Optional; without
	// a bus the monitor only serves direct RecordExecution calls.
	Bus events.Bus

	// Metrics receives alert counters. Optional.
	Metrics *telemetry.Metrics

	// Thresholds tune the detectors. Zero values take defaults.
	Thresholds Thresholds

	// Window is the sliding detection window. Defaults to 5 minutes.
	Window time.Duration

	// SweepInterval is how often Start runs the detectors. Defaults to
	// 30 seconds.
	SweepInterval time.Duration

	// MaxHistory caps the retained execution history. Defaults to 1000.
	MaxHistory int
}

// Monitor watches execution outcomes for coordination anomalies.
type Monitor struct {
	mu         sync.Mutex
	history    []Execution
	maxHistory int
	thresholds Thresholds
	window     time.Duration
	sweep      time.Duration

	bus     events.Bus
	metrics *telemetry.Metrics
	logger  zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a monitor. Call Start to consume bus events.
func New(opts Options, logger zerolog.Logger) *Monitor {
	thresholds := opts.Thresholds
	defaults := DefaultThresholds()
	if thresholds.ErrorRate <= 0 {
		thresholds.ErrorRate = defaults.ErrorRate
	}
	if thresholds.DegradationFactor <= 0 {
		thresholds.DegradationFactor = defaults.DegradationFactor
	}
	if thresholds.ImbalanceShare <= 0 {
		thresholds.ImbalanceShare = defaults.ImbalanceShare
	}
	if thresholds.CascadeFailures <= 0 {
		thresholds.CascadeFailures = defaults.CascadeFailures
	}
	if thresholds.CascadeFrameworks <= 0 {
		thresholds.CascadeFrameworks = defaults.CascadeFrameworks
	}
	if thresholds.CascadeInterval <= 0 {
		thresholds.CascadeInterval = defaults.CascadeInterval
	}

	window := opts.Window
	if window <= 0 {
		window = defaultWindow
	}
	sweep := opts.SweepInterval
	if sweep <= 0 {
		sweep = defaultSweepInterval
	}
	maxHistory := opts.MaxHistory
	if maxHistory <= 0 {
		maxHistory = defaultMaxHistory
	}

	return &Monitor{
		maxHistory: maxHistory,
		thresholds: thresholds,
		window:     window,
		sweep:      sweep,
		bus:        opts.Bus,
		metrics:    opts.Metrics,
		logger:     logger.With().Str("component", "monitor").Logger(),
	}
}

// RecordExecution appends one execution to the history.
func (m *Monitor) RecordExecution(e Execution) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, e)
	if len(m.history) > m.maxHistory {
		m.history = m.history[len(m.history)-m.maxHistory:]
	}
}

// Start consumes execution events from the bus and runs the detectors on
// a fixed interval until the context is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) error {
	if m.bus == nil {
		return fmt.Errorf("monitor requires an event bus")
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	completed, cancelCompleted := m.bus.Subscribe(string(events.TypeExecutionCompleted))
	failed, cancelFailed := m.bus.Subscribe(string(events.TypeExecutionFailed))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancelCompleted()
		defer cancelFailed()

		ticker := time.NewTicker(m.sweep)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-completed:
				if !ok {
					return
				}
				m.RecordExecution(executionFromEvent(event, true))
			case event, ok := <-failed:
				if !ok {
					return
				}
				m.RecordExecution(executionFromEvent(event, false))
			case <-ticker.C:
				m.raiseAlerts(ctx)
			}
		}
	}()

	m.logger.Info().
		Dur("window", m.window).
		Dur("sweep_interval", m.sweep).
		Msg("Monitor started")

	return nil
}

// Stop halts the event loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// DetectPatterns runs all detectors over executions inside the window.
func (m *Monitor) DetectPatterns(window time.Duration) []Pattern {
	if window <= 0 {
		window = m.window
	}

	recent := m.recent(window)

	var patterns []Pattern
	detectors := []func([]Execution) *Pattern{
		m.detectCascadeFailure,
		m.detectErrorSpike,
		m.detectPerformanceDegradation,
		m.detectFrameworkImbalance,
	}
	for _, detect := range detectors {
		if p := detect(recent); p != nil {
			patterns = append(patterns, *p)
		}
	}
	return patterns
}

// raiseAlerts publishes and counts every currently detected pattern.
func (m *Monitor) raiseAlerts(ctx context.Context) {
	for _, pattern := range m.DetectPatterns(m.window) {
		m.logger.Warn().
			Str("pattern", pattern.Type).
			Interface("details", pattern.Details).
			Msg("Coordination pattern detected")

		if m.metrics != nil {
			m.metrics.RecordMonitorAlert(pattern.Type)
		}
		if m.bus != nil {
			data := map[string]interface{}{
				"pattern": pattern.Type,
				"details": pattern.Details,
			}
			if err := m.bus.Publish(ctx, events.New(events.TypeMonitorAlert, "monitor", data)); err != nil {
				m.logger.Error().Err(err).Msg("Failed to publish alert")
			}
		}
	}
}

// recent returns executions within the window, oldest first.
func (m *Monitor) recent(window time.Duration) []Execution {
	cutoff := time.Now().Add(-window)

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Execution, 0, len(m.history))
	for _, e := range m.history {
		if e.Timestamp.After(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// detectCascadeFailure looks for clustered failures spreading across
// multiple frameworks.
func (m *Monitor) detectCascadeFailure(executions []Execution) *Pattern {
	if len(executions) < minExecutions {
		return nil
	}

	var failures []Execution
	for _, e := range executions {
		if !e.Success {
			failures = append(failures, e)
		}
	}
	if len(failures) < m.thresholds.CascadeFailures {
		return nil
	}

	frameworks := map[string]bool{}
	rules := map[string]bool{}
	for _, f := range failures {
		rules[f.RuleID] = true
		for _, fw := range f.Frameworks {
			frameworks[fw] = true
		}
	}
	if len(frameworks) < m.thresholds.CascadeFrameworks {
		return nil
	}

	var totalGap time.Duration
	for i := 1; i < len(failures); i++ {
		totalGap += failures[i].Timestamp.Sub(failures[i-1].Timestamp)
	}
	avgGap := totalGap / time.Duration(len(failures)-1)
	if avgGap >= m.thresholds.CascadeInterval {
		return nil
	}

	return &Pattern{
		Type:       PatternCascadeFailure,
		DetectedAt: time.Now(),
		Details: map[string]interface{}{
			"failure_count":       len(failures),
			"average_interval_ms": avgGap.Milliseconds(),
			"affected_rules":      sortedKeys(rules),
			"affected_frameworks": sortedKeys(frameworks),
		},
	}
}

// detectErrorSpike fires when the failure rate crosses the threshold.
func (m *Monitor) detectErrorSpike(executions []Execution) *Pattern {
	if len(executions) < minExecutions {
		return nil
	}

	errorCount := 0
	errorTypes := map[string]int{}
	for _, e := range executions {
		if e.Success {
			continue
		}
		errorCount++
		if e.Error != "" {
			// The leading segment of a classified error message is its code.
			errorType := strings.SplitN(e.Error, ":", 2)[0]
			errorTypes[strings.TrimSpace(errorType)]++
		}
	}

	errorRate := float64(errorCount) / float64(len(executions))
	if errorRate <= m.thresholds.ErrorRate {
		return nil
	}

	return &Pattern{
		Type:       PatternErrorSpike,
		DetectedAt: time.Now(),
		Details: map[string]interface{}{
			"error_rate":       errorRate,
			"error_count":      errorCount,
			"total_executions": len(executions),
			"error_types":      errorTypes,
		},
	}
}

// detectPerformanceDegradation fires on a monotonic latency climb across
// four sub-windows of the recent history.
func (m *Monitor) detectPerformanceDegradation(executions []Execution) *Pattern {
	if len(executions) < minTrendExecutions {
		return nil
	}

	windowSize := len(executions) / 4
	var averages []time.Duration
	for i := 0; i+windowSize <= len(executions); i += windowSize {
		var sum time.Duration
		for _, e := range executions[i : i+windowSize] {
			sum += e.Duration
		}
		averages = append(averages, sum/time.Duration(windowSize))
	}
	if len(averages) < 2 {
		return nil
	}

	for i := 1; i < len(averages); i++ {
		if averages[i] <= averages[i-1] {
			return nil
		}
	}

	first := averages[0]
	last := averages[len(averages)-1]
	if first <= 0 || float64(last) <= float64(first)*m.thresholds.DegradationFactor {
		return nil
	}

	return &Pattern{
		Type:       PatternPerformanceDegradation,
		DetectedAt: time.Now(),
		Details: map[string]interface{}{
			"degradation_factor": float64(last) / float64(first),
			"current_avg_ms":     last.Milliseconds(),
			"baseline_avg_ms":    first.Milliseconds(),
			"samples":            len(executions),
		},
	}
}

// detectFrameworkImbalance fires when one framework dominates the traffic.
func (m *Monitor) detectFrameworkImbalance(executions []Execution) *Pattern {
	if len(executions) < minExecutions {
		return nil
	}

	counts := map[string]int{}
	total := 0
	for _, e := range executions {
		for _, fw := range e.Frameworks {
			counts[fw]++
			total++
		}
	}
	// A single framework always holds 100% of its own traffic.
	if total == 0 || len(counts) < 2 {
		return nil
	}

	dominant := ""
	max := 0
	for fw, count := range counts {
		if count > max || (count == max && fw < dominant) {
			dominant = fw
			max = count
		}
	}

	share := float64(max) / float64(total)
	if share <= m.thresholds.ImbalanceShare {
		return nil
	}

	return &Pattern{
		Type:       PatternFrameworkImbalance,
		DetectedAt: time.Now(),
		Details: map[string]interface{}{
			"dominant_framework": dominant,
			"concentration":      share,
			"distribution":       counts,
		},
	}
}

// executionFromEvent converts an execution.* bus event into a record.
func executionFromEvent(event events.Event, success bool) Execution {
	e := Execution{
		Success:   success,
		Timestamp: event.Timestamp,
	}
	if ruleID, ok := event.Data["rule_id"].(string); ok {
		e.RuleID = ruleID
	}
	if errMsg, ok := event.Data["error"].(string); ok {
		e.Error = errMsg
	}
	if ms, ok := toInt64(event.Data["duration_ms"]); ok {
		e.Duration = time.Duration(ms) * time.Millisecond
	}
	switch frameworks := event.Data["frameworks"].(type) {
	case []string:
		e.Frameworks = frameworks
	case []interface{}:
		for _, fw := range frameworks {
			if s, ok := fw.(string); ok {
				e.Frameworks = append(e.Frameworks, s)
			}
		}
	}
	return e
}

// toInt64 normalizes the numeric types a decoded event may carry.
func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
