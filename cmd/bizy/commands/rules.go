package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bizyhq/bizy/pkg/config"
	"github.com/bizyhq/bizy/pkg/stores"
)

func newRulesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage stored rules",
		Long:  `List, inspect, and delete rules in the configured store.`,
	}

	cmd.AddCommand(newRulesListCommand())
	cmd.AddCommand(newRulesShowCommand())
	cmd.AddCommand(newRulesDeleteCommand())

	return cmd
}

func newRulesListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			rules, err := store.ListRules(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list rules: %w", err)
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(rules)
			}

			if len(rules) == 0 {
				fmt.Println("No rules stored")
				return nil
			}
			fmt.Printf("%-36s %-10s %-8s %-8s %s\n", "ID", "TYPE", "PRIORITY", "ENABLED", "NAME")
			for _, r := range rules {
				fmt.Printf("%-36s %-10s %-8s %-8v %s\n",
					r.ID, r.EffectiveType(), r.EffectivePriority(), r.IsEnabled(), r.Name)
			}
			return nil
		},
	}
}

func newRulesShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <rule-id>",
		Short: "Show a stored rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			r, err := store.GetRule(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to load rule: %w", err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(r)
		},
	}
}

func newRulesDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <rule-id>",
		Short: "Delete a stored rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeleteRule(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to delete rule: %w", err)
			}
			log.Info().Str("rule_id", args[0]).Msg("Rule deleted")
			return nil
		},
	}
}

// openStore opens and migrates the SQLite store from configuration.
func openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Store.Path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate store: %w", err)
	}
	return store, nil
}
