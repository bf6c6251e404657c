package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bizyhq/bizy/pkg/rule"
)

func newValidateCommand() *cobra.Command {
	var frameworks []string

	cmd := &cobra.Command{
		Use:   "validate <path>",
		Short: "Validate rule files",
		Long: `Validate YAML rule files.

This command checks:
  - YAML syntax and rule structure
  - Condition operators and value types
  - Action dependency graphs (unknown and cyclic depends_on)
  - Duplicate rule IDs across the set`,
		Example: `  # Validate a single rule file
  bizy validate rules/fraud.yaml

  # Validate every rule file in a directory
  bizy validate rules/

  # Restrict target frameworks
  bizy validate --framework webhook --framework llm rules/`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			rules, err := parseRulePath(path)
			if err != nil {
				return err
			}

			validator := rule.NewValidator(frameworks)
			results, err := validator.ValidateBatch(rules)
			if err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(results); err != nil {
					return err
				}
			}

			invalid := 0
			for _, res := range results {
				if !res.Valid() {
					invalid++
				}
				if jsonOutput {
					continue
				}
				switch {
				case !res.Valid():
					fmt.Printf("FAIL %s\n", res.RuleID)
					for _, msg := range res.Errors {
						fmt.Printf("     error: %s\n", msg)
					}
				case len(res.Warnings) > 0:
					fmt.Printf("WARN %s\n", res.RuleID)
				default:
					fmt.Printf("OK   %s\n", res.RuleID)
				}
				for _, msg := range res.Warnings {
					fmt.Printf("     warning: %s\n", msg)
				}
			}

			log.Info().
				Int("rules", len(rules)).
				Int("invalid", invalid).
				Msg("Validation complete")

			if invalid > 0 {
				return fmt.Errorf("%d of %d rules invalid", invalid, len(rules))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&frameworks, "framework", nil, "known frameworks (unknown ones fail validation)")

	return cmd
}

// parseRulePath parses a rule file or every rule file in a directory.
func parseRulePath(path string) ([]rule.Rule, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	parser := rule.NewParser()
	if info.IsDir() {
		return parser.ParseDir(path)
	}
	return parser.ParseFile(path)
}
