package events

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// HistorySource provides stored events for replay.
type HistorySource interface {
	ListEvents(ctx context.Context, filter Filter) ([]Event, error)
}

// ReplayOptions controls a replay run.
type ReplayOptions struct {
	// Filter selects which stored events to replay.
	Filter Filter

	// Speed is a time multiplier for the gaps between events. 1.0 replays
	// at the original pace, 2.0 twice as fast, 0 replays without delay.
	Speed float64

	// SourceSuffix is appended to each event's source to mark it as a
	// replay. Defaults to "replay".
	SourceSuffix string
}

// ReplayReport summarizes a completed replay.
type ReplayReport struct {
	Replayed  int
	StartedAt time.Time
	Duration  time.Duration
}

// Replayer republishes stored events onto a bus, preserving the relative
// spacing between events scaled by a speed multiplier.
type Replayer struct {
	logger zerolog.Logger
	source HistorySource
	bus    Bus
}

// NewReplayer creates a replayer reading from source and publishing to bus.
func NewReplayer(logger zerolog.Logger, source HistorySource, bus Bus) *Replayer {
	return &Replayer{
		logger: logger.With().Str("component", "event-replayer").Logger(),
		source: source,
		bus:    bus,
	}
}

// Replay republishes the selected events in timestamp order. The context
// cancels a replay in progress between events.
func (r *Replayer) Replay(ctx context.Context, opts ReplayOptions) (*ReplayReport, error) {
	if opts.Speed < 0 {
		return nil, fmt.Errorf("replay speed must not be negative: %v", opts.Speed)
	}
	suffix := opts.SourceSuffix
	if suffix == "" {
		suffix = "replay"
	}

	stored, err := r.source.ListEvents(ctx, opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list events for replay: %w", err)
	}

	report := &ReplayReport{StartedAt: time.Now().UTC()}
	if len(stored) == 0 {
		return report, nil
	}

	r.logger.Info().
		Int("events", len(stored)).
		Float64("speed", opts.Speed).
		Msg("Starting event replay")
	r.announce(ctx, TypeReplayStarted, map[string]interface{}{
		"events": len(stored),
		"speed":  opts.Speed,
	})

	prev := stored[0].Timestamp
	for _, event := range stored {
		if opts.Speed > 0 {
			gap := event.Timestamp.Sub(prev)
			if gap > 0 {
				delay := time.Duration(float64(gap) / opts.Speed)
				select {
				case <-ctx.Done():
					report.Duration = time.Since(report.StartedAt)
					return report, ctx.Err()
				case <-time.After(delay):
				}
			}
		}
		prev = event.Timestamp

		replayed := event
		replayed.Source = event.Source + "." + suffix
		replayed.Metadata = cloneMetadata(event.Metadata)
		replayed.Metadata["replayed_at"] = time.Now().UTC().Format(time.RFC3339)
		replayed.Metadata["original_id"] = event.ID

		if err := r.bus.Publish(ctx, replayed); err != nil {
			report.Duration = time.Since(report.StartedAt)
			return report, fmt.Errorf("failed to republish event %s: %w", event.ID, err)
		}
		report.Replayed++
	}

	report.Duration = time.Since(report.StartedAt)
	r.logger.Info().
		Int("replayed", report.Replayed).
		Dur("duration", report.Duration).
		Msg("Event replay completed")
	r.announce(ctx, TypeReplayCompleted, map[string]interface{}{
		"replayed":    report.Replayed,
		"duration_ms": report.Duration.Milliseconds(),
	})
	return report, nil
}

// announce publishes a replay lifecycle marker alongside the replayed events.
func (r *Replayer) announce(ctx context.Context, eventType Type, data map[string]interface{}) {
	if err := r.bus.Publish(ctx, New(eventType, "event-replayer", data)); err != nil {
		r.logger.Warn().Err(err).Str("type", string(eventType)).Msg("Failed to publish replay marker")
	}
}

func cloneMetadata(meta map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(meta)+2)
	for k, v := range meta {
		out[k] = v
	}
	return out
}
