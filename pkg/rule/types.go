// Package rule defines the declarative business rule model: rules, conditions,
// actions, and the parsing, validation, and compilation pipeline that turns
// YAML rule documents into executable plans.
package rule

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Type classifies what a rule expresses.
type Type string

const (
	// TypeCondition is a rule that evaluates conditions and triggers actions.
	TypeCondition Type = "condition"

	// TypeAction is a rule that unconditionally executes actions.
	TypeAction Type = "action"

	// TypeWorkflow is a rule whose actions form a multi-stage workflow.
	TypeWorkflow Type = "workflow"

	// TypePolicy is a rule that gates other rules via the execution guard.
	TypePolicy Type = "policy"
)

// Priority orders rules during conflict resolution. Higher wins.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityMedium   Priority = 5
	PriorityHigh     Priority = 10
	PriorityCritical Priority = 15
)

// String returns the symbolic name for well-known priorities.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("%d", int(p))
	}
}

// UnmarshalYAML accepts either a symbolic name (low, medium, high, critical)
// or a raw integer priority.
func (p *Priority) UnmarshalYAML(value *yaml.Node) error {
	var name string
	if err := value.Decode(&name); err == nil {
		switch strings.ToLower(name) {
		case "low":
			*p = PriorityLow
			return nil
		case "medium":
			*p = PriorityMedium
			return nil
		case "high":
			*p = PriorityHigh
			return nil
		case "critical":
			*p = PriorityCritical
			return nil
		}
	}
	var n int
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid priority %q", value.Value)
	}
	*p = Priority(n)
	return nil
}

// MarshalYAML emits the symbolic name when one exists.
func (p Priority) MarshalYAML() (interface{}, error) {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return p.String(), nil
	default:
		return int(p), nil
	}
}

// Duration wraps time.Duration for YAML documents ("30s", "1m").
type Duration time.Duration

// UnmarshalYAML accepts a Go duration string or a number of seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs float64
	if err := value.Decode(&secs); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// MarshalYAML emits the canonical duration string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Operator is a condition comparison operator.
type Operator string

const (
	OpEquals         Operator = "equals"
	OpNotEquals      Operator = "not_equals"
	OpGreaterThan    Operator = "greater_than"
	OpLessThan       Operator = "less_than"
	OpGreaterOrEqual Operator = "greater_or_equal"
	OpLessOrEqual    Operator = "less_or_equal"
	OpContains       Operator = "contains"
	OpNotContains    Operator = "not_contains"
	OpStartsWith     Operator = "starts_with"
	OpEndsWith       Operator = "ends_with"
	OpRegex          Operator = "regex"
	OpIn             Operator = "in"
	OpNotIn          Operator = "not_in"
)

// Operators lists every supported comparison operator.
var Operators = []Operator{
	OpEquals, OpNotEquals,
	OpGreaterThan, OpLessThan, OpGreaterOrEqual, OpLessOrEqual,
	OpContains, OpNotContains, OpStartsWith, OpEndsWith,
	OpRegex, OpIn, OpNotIn,
}

// ValidOperator reports whether op is a supported operator.
func ValidOperator(op Operator) bool {
	for _, o := range Operators {
		if o == op {
			return true
		}
	}
	return false
}

// Condition is a single comparison against a dot-notation field in the
// execution context (for example "payment.amount").
type Condition struct {
	// Field is the dot-notation path into the execution context.
	Field string `yaml:"field" json:"field" validate:"required"`

	// Operator is the comparison operator.
	Operator Operator `yaml:"operator" json:"operator" validate:"required"`

	// Value is the expected value to compare against.
	Value interface{} `yaml:"value" json:"value"`

	// CaseSensitive controls string comparisons. Defaults to true.
	CaseSensitive *bool `yaml:"case_sensitive,omitempty" json:"case_sensitive,omitempty"`
}

// Combinator joins conditions inside a group.
type Combinator string

const (
	// CombinatorAll requires every condition to match (logical AND).
	CombinatorAll Combinator = "all"

	// CombinatorAny requires at least one condition to match (logical OR).
	CombinatorAny Combinator = "any"

	// CombinatorNot negates the grouped conditions.
	CombinatorNot Combinator = "not"
)

// ConditionGroup is a tree of conditions joined by a combinator.
// A plain YAML list of conditions is an implicit "all" group.
type ConditionGroup struct {
	// Combinator joins the direct children. Defaults to all.
	Combinator Combinator `json:"combinator"`

	// Conditions are the leaf comparisons in this group.
	Conditions []Condition `json:"conditions,omitempty"`

	// Groups are the nested sub-groups.
	Groups []ConditionGroup `json:"groups,omitempty"`
}

// Empty reports whether the group holds no conditions at any depth.
func (g ConditionGroup) Empty() bool {
	if len(g.Conditions) > 0 {
		return false
	}
	for _, sub := range g.Groups {
		if !sub.Empty() {
			return false
		}
	}
	return true
}

// Size returns the total number of leaf conditions in the tree.
func (g ConditionGroup) Size() int {
	n := len(g.Conditions)
	for _, sub := range g.Groups {
		n += sub.Size()
	}
	return n
}

// UnmarshalYAML accepts either a sequence of conditions (implicit all) or a
// mapping keyed by a single combinator (all, any, not).
func (g *ConditionGroup) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		g.Combinator = CombinatorAll
		return decodeGroupItems(value, g)
	case yaml.MappingNode:
		if len(value.Content) != 2 {
			return fmt.Errorf("line %d: condition group must have exactly one combinator key", value.Line)
		}
		key := value.Content[0].Value
		switch Combinator(key) {
		case CombinatorAll, CombinatorAny, CombinatorNot:
			g.Combinator = Combinator(key)
		default:
			return fmt.Errorf("line %d: unknown combinator %q", value.Content[0].Line, key)
		}
		body := value.Content[1]
		if body.Kind != yaml.SequenceNode {
			return fmt.Errorf("line %d: combinator %q requires a list of conditions", body.Line, key)
		}
		return decodeGroupItems(body, g)
	default:
		return fmt.Errorf("line %d: conditions must be a list or a combinator mapping", value.Line)
	}
}

// decodeGroupItems decodes each sequence item as either a leaf condition
// (mapping with a "field" key) or a nested group.
func decodeGroupItems(seq *yaml.Node, g *ConditionGroup) error {
	for _, item := range seq.Content {
		if isConditionNode(item) {
			var c Condition
			if err := item.Decode(&c); err != nil {
				return err
			}
			g.Conditions = append(g.Conditions, c)
			continue
		}
		var sub ConditionGroup
		if err := item.Decode(&sub); err != nil {
			return err
		}
		g.Groups = append(g.Groups, sub)
	}
	return nil
}

// isConditionNode reports whether a mapping node looks like a leaf condition.
func isConditionNode(node *yaml.Node) bool {
	if node.Kind != yaml.MappingNode {
		return false
	}
	for i := 0; i < len(node.Content); i += 2 {
		if node.Content[i].Value == "field" {
			return true
		}
	}
	return false
}

// MarshalYAML emits the combinator mapping form.
func (g ConditionGroup) MarshalYAML() (interface{}, error) {
	items := make([]interface{}, 0, len(g.Conditions)+len(g.Groups))
	for _, c := range g.Conditions {
		items = append(items, c)
	}
	for _, sub := range g.Groups {
		items = append(items, sub)
	}
	comb := g.Combinator
	if comb == "" {
		comb = CombinatorAll
	}
	return map[string]interface{}{string(comb): items}, nil
}

// Action is a single unit of work dispatched to a framework adapter.
type Action struct {
	// Framework names the target framework (langchain, temporal, webhook, ...).
	Framework string `yaml:"framework" json:"framework" validate:"required"`

	// Name is the framework-specific action to invoke.
	Name string `yaml:"action" json:"action" validate:"required"`

	// Parameters are passed to the adapter as-is.
	Parameters map[string]interface{} `yaml:"parameters,omitempty" json:"parameters,omitempty"`

	// Timeout bounds the action execution. Zero means the adapter default.
	Timeout Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// RetryCount is the number of retry attempts on retryable failure.
	RetryCount int `yaml:"retry_count,omitempty" json:"retry_count,omitempty"`

	// ContinueOnError lets the rule proceed when this action fails.
	ContinueOnError bool `yaml:"continue_on_error,omitempty" json:"continue_on_error,omitempty"`

	// DependsOn names actions that must complete before this one starts.
	DependsOn []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
}

// ErrorStrategy selects how rule-level failures are handled.
type ErrorStrategy string

const (
	// StrategyRetry re-runs failed actions up to MaxRetries.
	StrategyRetry ErrorStrategy = "retry"

	// StrategyFallback executes the fallback rule on failure.
	StrategyFallback ErrorStrategy = "fallback"

	// StrategyIgnore records the failure and reports success.
	StrategyIgnore ErrorStrategy = "ignore"

	// StrategyFail aborts the rule on first failure.
	StrategyFail ErrorStrategy = "fail"
)

// ErrorHandling configures rule-level failure behavior.
type ErrorHandling struct {
	// Strategy selects the failure behavior. Defaults to fail.
	Strategy ErrorStrategy `yaml:"strategy,omitempty" json:"strategy,omitempty"`

	// MaxRetries caps rule-level retries for the retry strategy.
	MaxRetries int `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`

	// Fallback is the rule ID to execute when the fallback strategy applies.
	Fallback string `yaml:"fallback,omitempty" json:"fallback,omitempty"`
}

// Rule is a declarative business rule: conditions that gate a set of actions
// dispatched across framework adapters.
type Rule struct {
	// ID uniquely identifies the rule.
	ID string `yaml:"rule" json:"id" validate:"required"`

	// Name is the human-readable rule name.
	Name string `yaml:"name" json:"name" validate:"required"`

	// Description explains the rule's intent.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Type classifies the rule. Defaults to condition.
	Type Type `yaml:"type,omitempty" json:"type,omitempty"`

	// Priority orders the rule during conflict resolution.
	Priority Priority `yaml:"priority,omitempty" json:"priority,omitempty"`

	// Enabled controls whether the rule is eligible for execution.
	// Nil means enabled.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Conditions gate the actions. An empty tree always matches.
	Conditions ConditionGroup `yaml:"conditions,omitempty" json:"conditions,omitempty"`

	// Actions are executed when the conditions match.
	Actions []Action `yaml:"actions,omitempty" json:"actions,omitempty"`

	// ErrorHandling configures rule-level failure behavior.
	ErrorHandling ErrorHandling `yaml:"error_handling,omitempty" json:"error_handling,omitempty"`

	// Metadata carries arbitrary operator-defined information, including
	// required_roles consumed by the execution guard.
	Metadata map[string]interface{} `yaml:"metadata,omitempty" json:"metadata,omitempty"`

	// Tags label the rule for filtering and routing.
	Tags []string `yaml:"tags,omitempty" json:"tags,omitempty"`

	// CreatedAt is when the rule was first stored.
	CreatedAt time.Time `yaml:"-" json:"created_at,omitempty"`

	// UpdatedAt is when the rule was last modified.
	UpdatedAt time.Time `yaml:"-" json:"updated_at,omitempty"`
}

// IsEnabled reports whether the rule is eligible for execution.
func (r *Rule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// EffectiveType returns the rule type, defaulting to condition.
func (r *Rule) EffectiveType() Type {
	if r.Type == "" {
		return TypeCondition
	}
	return r.Type
}

// EffectivePriority returns the priority, defaulting to medium.
func (r *Rule) EffectivePriority() Priority {
	if r.Priority == 0 {
		return PriorityMedium
	}
	return r.Priority
}

// RequiredRoles extracts the required_roles metadata entry, if present.
func (r *Rule) RequiredRoles() []string {
	raw, ok := r.Metadata["required_roles"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		roles := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				roles = append(roles, s)
			}
		}
		return roles
	default:
		return nil
	}
}

// SortByPriority orders rules by descending priority, breaking ties by ID
// for deterministic conflict resolution. The sort is stable and in place.
func SortByPriority(rules []Rule) {
	for i := 1; i < len(rules); i++ {
		for j := i; j > 0 && less(rules[j-1], rules[j]); j-- {
			rules[j-1], rules[j] = rules[j], rules[j-1]
		}
	}
}

func less(a, b Rule) bool {
	pa, pb := a.EffectivePriority(), b.EffectivePriority()
	if pa != pb {
		return pa < pb
	}
	return a.ID > b.ID
}
