package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bizyhq/bizy/pkg/events"
)

func newEventsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect and replay the event log",
	}

	cmd.AddCommand(newEventsTailCommand())
	cmd.AddCommand(newEventsReplayCommand())

	return cmd
}

func newEventsTailCommand() *cobra.Command {
	var (
		eventType     string
		correlationID string
		follow        bool
		limit         int
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print stored events, newest last",
		Example: `  # Show the last 20 events
  bizy events tail --limit 20

  # Follow failed executions as they are stored
  bizy events tail --type execution.failed --follow`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			filter := events.Filter{CorrelationID: correlationID, Limit: limit}
			if eventType != "" {
				filter.Types = []events.Type{events.Type(eventType)}
			}

			enc := json.NewEncoder(os.Stdout)
			printed := time.Time{}

			show := func(stored []events.Event) {
				for _, e := range stored {
					if !e.Timestamp.After(printed) {
						continue
					}
					printed = e.Timestamp
					if jsonOutput {
						_ = enc.Encode(e)
						continue
					}
					fmt.Printf("%s  %-24s %-16s %s\n",
						e.Timestamp.Format(time.RFC3339), e.Type, e.Source, e.ID)
				}
			}

			stored, err := store.ListEvents(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("failed to list events: %w", err)
			}
			show(stored)

			if !follow {
				return nil
			}

			// Poll the log for newer events until interrupted.
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case <-ticker.C:
					next := filter
					next.Since = printed
					next.Limit = 0
					stored, err := store.ListEvents(cmd.Context(), next)
					if err != nil {
						return fmt.Errorf("failed to list events: %w", err)
					}
					show(stored)
				}
			}
		},
	}

	cmd.Flags().StringVar(&eventType, "type", "", "filter by event type")
	cmd.Flags().StringVar(&correlationID, "correlation-id", "", "filter by correlation ID")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep polling for new events")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum events in the initial listing")

	return cmd
}

func newEventsReplayCommand() *cobra.Command {
	var (
		eventType     string
		correlationID string
		since         string
		speed         float64
		print         bool
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay stored events onto a bus",
		Long: `Republish a window of the stored event log, preserving the relative
spacing between events scaled by --speed. Replayed events carry a
".replay" source suffix and the original event ID in metadata.`,
		Example: `  # Replay yesterday's failed executions at 10x speed
  bizy events replay --type execution.failed --since 24h --speed 10

  # Replay a single flow instantly and print each event
  bizy events replay --correlation-id ord-123 --speed 0 --print`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			filter := events.Filter{CorrelationID: correlationID}
			if eventType != "" {
				filter.Types = []events.Type{events.Type(eventType)}
			}
			if since != "" {
				window, err := time.ParseDuration(since)
				if err != nil {
					return fmt.Errorf("invalid --since duration: %w", err)
				}
				filter.Since = time.Now().UTC().Add(-window)
			}

			bus := events.NewMemoryBus(log.Logger)
			defer bus.Close()

			if print {
				ch, cancel := bus.Subscribe(events.Wildcard)
				defer cancel()
				go func() {
					enc := json.NewEncoder(os.Stdout)
					for e := range ch {
						_ = enc.Encode(e)
					}
				}()
			}

			replayer := events.NewReplayer(log.Logger, store, bus)
			report, err := replayer.Replay(cmd.Context(), events.ReplayOptions{
				Filter: filter,
				Speed:  speed,
			})
			if err != nil {
				return fmt.Errorf("replay failed: %w", err)
			}

			log.Info().
				Int("replayed", report.Replayed).
				Dur("duration", report.Duration).
				Msg("Replay finished")
			return nil
		},
	}

	cmd.Flags().StringVar(&eventType, "type", "", "filter by event type")
	cmd.Flags().StringVar(&correlationID, "correlation-id", "", "filter by correlation ID")
	cmd.Flags().StringVar(&since, "since", "", "only replay events newer than this duration (e.g. 1h)")
	cmd.Flags().Float64Var(&speed, "speed", 1.0, "time multiplier for gaps between events, 0 for no delay")
	cmd.Flags().BoolVar(&print, "print", false, "print each replayed event")

	return cmd
}
