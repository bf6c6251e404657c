package monitor

import (
	"sort"
	"time"
)

// FrameworkStats aggregates per-framework execution counts and latency.
type FrameworkStats struct {
	Count         int           `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	AvgDuration   time.Duration `json:"avg_duration"`
}

// Summary is a point-in-time performance report over one window.
type Summary struct {
	Window          time.Duration             `json:"window"`
	TotalExecutions int                       `json:"total_executions"`
	SuccessRate     float64                   `json:"success_rate"`
	AvgDuration     time.Duration             `json:"avg_duration"`
	MinDuration     time.Duration             `json:"min_duration"`
	MaxDuration     time.Duration             `json:"max_duration"`
	P95Duration     time.Duration             `json:"p95_duration"`
	Frameworks      map[string]FrameworkStats `json:"frameworks"`
	Patterns        []Pattern                 `json:"patterns,omitempty"`
}

// Summarize reports execution statistics and detected patterns for the
// window. A zero window uses the monitor's configured window.
func (m *Monitor) Summarize(window time.Duration) Summary {
	if window <= 0 {
		window = m.window
	}

	recent := m.recent(window)
	summary := Summary{
		Window:          window,
		TotalExecutions: len(recent),
		Frameworks:      map[string]FrameworkStats{},
	}
	if len(recent) == 0 {
		return summary
	}

	durations := make([]time.Duration, 0, len(recent))
	var sum time.Duration
	successes := 0
	for _, e := range recent {
		durations = append(durations, e.Duration)
		sum += e.Duration
		if e.Success {
			successes++
		}
		for _, fw := range e.Frameworks {
			stats := summary.Frameworks[fw]
			stats.Count++
			stats.TotalDuration += e.Duration
			summary.Frameworks[fw] = stats
		}
	}
	for fw, stats := range summary.Frameworks {
		stats.AvgDuration = stats.TotalDuration / time.Duration(stats.Count)
		summary.Frameworks[fw] = stats
	}

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	summary.SuccessRate = float64(successes) / float64(len(recent))
	summary.AvgDuration = sum / time.Duration(len(recent))
	summary.MinDuration = durations[0]
	summary.MaxDuration = durations[len(durations)-1]

	p95 := int(float64(len(durations)) * 0.95)
	if p95 >= len(durations) {
		p95 = len(durations) - 1
	}
	summary.P95Duration = durations[p95]

	summary.Patterns = m.DetectPatterns(window)
	return summary
}
