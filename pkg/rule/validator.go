package rule

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationResult aggregates validation errors and warnings for a rule.
// A rule with warnings is still executable; a rule with errors is not.
type ValidationResult struct {
	// RuleID is the rule the result applies to.
	RuleID string `json:"rule_id"`

	// Errors are violations that make the rule unexecutable.
	Errors []string `json:"errors,omitempty"`

	// Warnings flag suspicious but executable constructs.
	Warnings []string `json:"warnings,omitempty"`
}

// Valid reports whether the rule passed with no errors.
func (r ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// Validator performs structural, semantic, and security validation of rules.
type Validator struct {
	validate *validator.Validate

	// knownFrameworks restricts action targets when non-empty.
	knownFrameworks map[string]bool
}

// NewValidator creates a validator. frameworks restricts action targets;
// pass nil to accept any framework name.
func NewValidator(frameworks []string) *Validator {
	known := make(map[string]bool, len(frameworks))
	for _, f := range frameworks {
		known[f] = true
	}
	return &Validator{
		validate:        validator.New(),
		knownFrameworks: known,
	}
}

// injectionPatterns flag parameter values that smell like template or
// script injection attempts.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\{\{.*\}\}`),
	regexp.MustCompile(`(?i)<script`),
	regexp.MustCompile(`(?i)\beval\s*\(`),
	regexp.MustCompile(`(?i)\bexec\s*\(`),
	regexp.MustCompile(`\$\([^)]*\)`),
	regexp.MustCompile("`[^`]*`"),
}

// Validate checks a single rule and returns its result. Only internal
// failures of the validator itself produce a non-nil error.
func (v *Validator) Validate(r Rule) (ValidationResult, error) {
	res := ValidationResult{RuleID: r.ID}

	// Structural checks from struct tags
	if err := v.validate.Struct(r); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return res, fmt.Errorf("failed to validate rule: %w", err)
		}
		for _, fe := range verrs {
			res.Errors = append(res.Errors, fmt.Sprintf("field %s failed %s validation", fe.Field(), fe.Tag()))
		}
	}

	if t := r.EffectiveType(); t != TypeCondition && t != TypeAction && t != TypeWorkflow && t != TypePolicy {
		res.Errors = append(res.Errors, fmt.Sprintf("unknown rule type %q", t))
	}
	if p := r.EffectivePriority(); p < PriorityLow || p > PriorityCritical {
		res.Errors = append(res.Errors, fmt.Sprintf("priority %d outside range [%d, %d]", p, PriorityLow, PriorityCritical))
	}

	v.checkConditions(r.Conditions, &res)
	v.checkActions(r, &res)
	v.checkSecurity(r, &res)
	v.checkPerformance(r, &res)

	return res, nil
}

// ValidateBatch validates each rule and flags duplicate IDs across the set.
func (v *Validator) ValidateBatch(rules []Rule) ([]ValidationResult, error) {
	results := make([]ValidationResult, 0, len(rules))
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		res, err := v.Validate(r)
		if err != nil {
			return nil, err
		}
		if seen[r.ID] {
			res.Errors = append(res.Errors, fmt.Sprintf("duplicate rule ID %q", r.ID))
		}
		seen[r.ID] = true
		results = append(results, res)
	}
	return results, nil
}

func (v *Validator) checkConditions(g ConditionGroup, res *ValidationResult) {
	if g.Combinator != "" && g.Combinator != CombinatorAll && g.Combinator != CombinatorAny && g.Combinator != CombinatorNot {
		res.Errors = append(res.Errors, fmt.Sprintf("unknown combinator %q", g.Combinator))
	}
	for _, c := range g.Conditions {
		if c.Field == "" {
			res.Errors = append(res.Errors, "condition with empty field")
		}
		if !ValidOperator(c.Operator) {
			res.Errors = append(res.Errors, fmt.Sprintf("unknown operator %q on field %q", c.Operator, c.Field))
		}
		if c.Operator == OpRegex {
			if pattern, ok := c.Value.(string); ok {
				if _, err := regexp.Compile(pattern); err != nil {
					res.Errors = append(res.Errors, fmt.Sprintf("invalid regex on field %q: %v", c.Field, err))
				}
			} else {
				res.Errors = append(res.Errors, fmt.Sprintf("regex operator on field %q requires a string pattern", c.Field))
			}
		}
		if (c.Operator == OpIn || c.Operator == OpNotIn) && !isList(c.Value) {
			res.Errors = append(res.Errors, fmt.Sprintf("operator %s on field %q requires a list value", c.Operator, c.Field))
		}
	}

	v.checkContradictions(g, res)

	for _, sub := range g.Groups {
		v.checkConditions(sub, res)
	}
}

// checkContradictions flags pairs inside an "all" group that can never both
// hold, and exact duplicates that add no information.
func (v *Validator) checkContradictions(g ConditionGroup, res *ValidationResult) {
	if g.Combinator == CombinatorAny {
		return
	}
	for i, a := range g.Conditions {
		for _, b := range g.Conditions[i+1:] {
			if a.Field != b.Field {
				continue
			}
			sameValue := fmt.Sprintf("%v", a.Value) == fmt.Sprintf("%v", b.Value)
			if a.Operator == b.Operator && sameValue {
				res.Warnings = append(res.Warnings, fmt.Sprintf("redundant duplicate condition on field %q", a.Field))
				continue
			}
			if sameValue && opposed(a.Operator, b.Operator) {
				res.Errors = append(res.Errors, fmt.Sprintf("contradictory conditions on field %q: %s vs %s", a.Field, a.Operator, b.Operator))
			}
		}
	}
}

// opposed reports whether two operators with the same value contradict.
func opposed(a, b Operator) bool {
	pairs := map[Operator]Operator{
		OpEquals:      OpNotEquals,
		OpContains:    OpNotContains,
		OpIn:          OpNotIn,
		OpGreaterThan: OpLessOrEqual,
		OpLessThan:    OpGreaterOrEqual,
	}
	return pairs[a] == b || pairs[b] == a
}

func (v *Validator) checkActions(r Rule, res *ValidationResult) {
	if len(r.Actions) == 0 && r.EffectiveType() != TypePolicy {
		res.Warnings = append(res.Warnings, "rule has no actions")
	}
	// Action names must be unique within a rule: dependencies and dispatch
	// bookkeeping resolve actions by name.
	names := make(map[string]bool, len(r.Actions))
	for _, a := range r.Actions {
		if names[a.Name] {
			res.Errors = append(res.Errors, fmt.Sprintf("duplicate action name %q", a.Name))
		}
		names[a.Name] = true
	}
	for _, a := range r.Actions {
		if a.Framework == "" {
			res.Errors = append(res.Errors, fmt.Sprintf("action %q has no framework", a.Name))
		} else if len(v.knownFrameworks) > 0 && !v.knownFrameworks[a.Framework] {
			res.Errors = append(res.Errors, fmt.Sprintf("action %q targets unknown framework %q", a.Name, a.Framework))
		}
		if a.RetryCount < 0 {
			res.Errors = append(res.Errors, fmt.Sprintf("action %q has negative retry_count", a.Name))
		}
		for _, dep := range a.DependsOn {
			if !names[dep] {
				res.Errors = append(res.Errors, fmt.Sprintf("action %q depends on unknown action %q", a.Name, dep))
			}
			if dep == a.Name {
				res.Errors = append(res.Errors, fmt.Sprintf("action %q depends on itself", a.Name))
			}
		}
	}
	if r.ErrorHandling.Strategy == StrategyFallback && r.ErrorHandling.Fallback == "" {
		res.Errors = append(res.Errors, "fallback strategy requires a fallback rule ID")
	}
	if r.ErrorHandling.Fallback == r.ID && r.ErrorHandling.Fallback != "" {
		res.Errors = append(res.Errors, "rule cannot be its own fallback")
	}
}

func (v *Validator) checkSecurity(r Rule, res *ValidationResult) {
	for _, a := range r.Actions {
		if a.Framework == "script" {
			// Script actions run operator-supplied code; the guard decides
			// who may execute them, not the validator.
			continue
		}
		for key, raw := range a.Parameters {
			s, ok := raw.(string)
			if !ok {
				continue
			}
			for _, pattern := range injectionPatterns {
				if pattern.MatchString(s) {
					res.Warnings = append(res.Warnings, fmt.Sprintf("parameter %q of action %q matches injection pattern %s", key, a.Name, pattern.String()))
					break
				}
			}
		}
	}
}

func (v *Validator) checkPerformance(r Rule, res *ValidationResult) {
	total := r.Conditions.Size()
	if total > 20 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("rule has %d conditions; consider splitting", total))
	}
	regexCount := countOperator(r.Conditions, OpRegex)
	if regexCount > 3 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("rule has %d regex conditions; they dominate evaluation cost", regexCount))
	}
}

func countOperator(g ConditionGroup, op Operator) int {
	n := 0
	for _, c := range g.Conditions {
		if c.Operator == op {
			n++
		}
	}
	for _, sub := range g.Groups {
		n += countOperator(sub, op)
	}
	return n
}

func isList(v interface{}) bool {
	switch v.(type) {
	case []interface{}, []string, []int, []float64:
		return true
	default:
		return false
	}
}

// FormatResults renders validation results as a human-readable report.
func FormatResults(results []ValidationResult) string {
	var b strings.Builder
	for _, res := range results {
		if res.Valid() && len(res.Warnings) == 0 {
			continue
		}
		fmt.Fprintf(&b, "rule %s:\n", res.RuleID)
		for _, e := range res.Errors {
			fmt.Fprintf(&b, "  error: %s\n", e)
		}
		for _, w := range res.Warnings {
			fmt.Fprintf(&b, "  warning: %s\n", w)
		}
	}
	return b.String()
}
