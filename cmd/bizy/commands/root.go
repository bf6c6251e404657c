package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bizy",
		Short: "Bizy - Cross-Framework Business Rule Orchestration",
		Long: `Bizy executes declarative business rules across heterogeneous execution
frameworks through a single orchestration layer.

Features:
  - Declarative YAML rules with conditions, actions, and dependencies
  - Framework adapters (webhook, LLM, Starlark scripts, in-process)
  - Load balancing and circuit breaking across adapter instances
  - Policy-gated execution via OPA
  - Event bus with routing, persistence, and replay
  - Coordination pattern monitoring`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newRulesCommand())
	rootCmd.AddCommand(newEventsCommand())
	rootCmd.AddCommand(newServeCommand(version))

	return rootCmd
}
