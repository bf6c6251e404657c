package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bizyhq/bizy/pkg/adapters"
	"github.com/bizyhq/bizy/pkg/orchestrator"
	"github.com/bizyhq/bizy/pkg/rule"
)

func newRunCommand() *cobra.Command {
	var (
		contextJSON string
		framework   string
		caller      string
		roles       []string
		dryRun      bool
	)

	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Execute rules from a file",
		Long: `Execute every rule in a YAML file against an execution context.

Actions are dispatched to an in-process adapter that echoes action
parameters back, which makes run useful for exercising conditions,
dependency ordering, and error handling without external frameworks.
All actions in the file are rewritten to the adapter's framework
(default memory) before execution.`,
		Example: `  # Execute rules against an inline context
  bizy run rules/fraud.yaml --context '{"amount": 5000, "risk_score": 0.9}'

  # Dry run: evaluate conditions, skip actions
  bizy run rules/fraud.yaml --context '{"amount": 10}' --dry-run

  # Execute as a specific caller
  bizy run rules/fraud.yaml --caller analyst-7 --role operator`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			execCtx := map[string]interface{}{}
			if contextJSON != "" {
				if err := json.Unmarshal([]byte(contextJSON), &execCtx); err != nil {
					return fmt.Errorf("invalid --context JSON: %w", err)
				}
			}

			rules, err := parseRulePath(args[0])
			if err != nil {
				return err
			}
			if len(rules) == 0 {
				return fmt.Errorf("no rules found in %s", args[0])
			}

			ctx := cmd.Context()
			orch, err := buildLocalOrchestrator(ctx, rules, framework)
			if err != nil {
				return err
			}

			opts := orchestrator.ExecuteOptions{
				Caller: orchestrator.Caller{ID: caller, Roles: roles},
				DryRun: dryRun,
			}

			var results []orchestrator.Result
			failed := 0
			for _, r := range rules {
				result, err := orch.Execute(ctx, r, execCtx, opts)
				if err != nil {
					failed++
					log.Error().Err(err).Str("rule", r.ID).Msg("Rule execution failed")
					if result == nil {
						continue
					}
				}
				results = append(results, *result)

				if !jsonOutput {
					fmt.Printf("%-10s %s", result.Status, r.ID)
					if result.Status == orchestrator.StatusSkipped {
						fmt.Print("  (conditions not met)")
					}
					fmt.Println()
					for _, ar := range result.ActionResults {
						fmt.Printf("           %s/%s: %s\n", ar.Framework, ar.Action, ar.Status)
					}
				}
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(results); err != nil {
					return err
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d rules failed", failed, len(rules))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&contextJSON, "context", "", "execution context as a JSON object")
	cmd.Flags().StringVar(&framework, "framework", "memory", "framework name served by the local adapter")
	cmd.Flags().StringVar(&caller, "caller", "", "caller identity for guard checks")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "caller roles")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "evaluate conditions without dispatching actions")

	return cmd
}

// buildLocalOrchestrator wires a registry with one in-process adapter that
// handles every action named by the rule set, and rewrites the rules'
// actions onto that framework.
func buildLocalOrchestrator(ctx context.Context, rules []rule.Rule, framework string) (*orchestrator.Orchestrator, error) {
	logger := log.Logger

	registry := adapters.NewRegistry(logger, nil)
	mem := adapters.NewMemoryAdapter(logger, "local", framework)

	echo := func(_ context.Context, params, _ map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"echoed": params}, nil
	}
	for i := range rules {
		for j := range rules[i].Actions {
			rules[i].Actions[j].Framework = framework
			mem.Handle(rules[i].Actions[j].Name, echo)
		}
	}

	if err := mem.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect local adapter: %w", err)
	}
	if err := registry.Register(mem); err != nil {
		return nil, err
	}

	return orchestrator.New(logger, orchestrator.Options{Registry: registry})
}

// splitNameFramework parses "name:framework" adapter declarations. A plain
// name leaves the framework empty for the adapter default.
func splitNameFramework(decl string) (string, string) {
	if idx := strings.IndexByte(decl, ':'); idx >= 0 {
		return decl[:idx], decl[idx+1:]
	}
	return decl, ""
}
