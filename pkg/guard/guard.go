package guard

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/bizyhq/bizy/pkg/orchestrator"
	"github.com/bizyhq/bizy/pkg/rule"
)

// Policy is a named Rego policy evaluated before rule execution.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`
}

// Violation is a single deny result produced by a policy.
type Violation struct {
	// Policy is the name of the policy that denied the execution.
	Policy string `json:"policy"`

	// Message is a human-readable denial message.
	Message string `json:"message"`
}

// DenyError is returned by Authorize when one or more policies deny.
type DenyError struct {
	Violations []Violation
}

func (e *DenyError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, fmt.Sprintf("%s: %s", v.Policy, v.Message))
	}
	return "execution denied: " + strings.Join(msgs, "; ")
}

// Input is the document policies evaluate against.
type Input struct {
	Rule              RuleInput    `json:"rule"`
	Caller            CallerInput  `json:"caller"`
	Actions           []ActionInfo `json:"actions"`
	AllowedFrameworks []string     `json:"allowed_frameworks,omitempty"`
	Timestamp         time.Time    `json:"timestamp"`
}

// RuleInput is the rule summary exposed to policies.
type RuleInput struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Priority      int      `json:"priority"`
	Tags          []string `json:"tags,omitempty"`
	RequiredRoles []string `json:"required_roles,omitempty"`
}

// CallerInput identifies who is asking to execute.
type CallerInput struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles,omitempty"`
}

// ActionInfo summarizes one action of the rule.
type ActionInfo struct {
	Framework string `json:"framework"`
	Action    string `json:"action"`
}

// Config configures the guard engine.
type Config struct {
	// AllowedFrameworks restricts which frameworks rules may target.
	// Empty means all frameworks are allowed.
	AllowedFrameworks []string

	// Policies are additional policies loaded alongside the built-ins.
	Policies []Policy
}

// compiledPolicy is a policy with its prepared deny query.
type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// Engine evaluates Rego policies to authorize rule executions.
// It implements the orchestrator.Guard interface.
type Engine struct {
	mu                sync.RWMutex
	policies          map[string]*compiledPolicy
	allowedFrameworks []string
	logger            zerolog.Logger
}

var _ orchestrator.Guard = (*Engine)(nil)

// NewEngine creates a guard engine with the built-in policies plus any
// policies from the config.
func NewEngine(cfg Config, logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies:          make(map[string]*compiledPolicy),
		allowedFrameworks: cfg.AllowedFrameworks,
		logger:            logger.With().Str("component", "guard").Logger(),
	}

	ctx := context.Background()
	builtin := BuiltinPolicies()
	for i := range builtin {
		if err := e.compileAndStorePolicy(ctx, &builtin[i]); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", builtin[i].Name, err)
		}
	}
	for i := range cfg.Policies {
		if err := e.compileAndStorePolicy(ctx, &cfg.Policies[i]); err != nil {
			return nil, fmt.Errorf("failed to compile policy %s: %w", cfg.Policies[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(e.policies)).
		Msg("Policies loaded")

	return e, nil
}

// Authorize evaluates all enabled policies against the rule and caller.
// It returns a *DenyError when any policy produces a deny result.
func (e *Engine) Authorize(ctx context.Context, r rule.Rule, caller orchestrator.Caller) error {
	input := e.buildInput(r, caller)

	e.mu.RLock()
	defer e.mu.RUnlock()

	var violations []Violation
	for _, cp := range e.policies {
		if !cp.policy.Enabled {
			continue
		}

		denials, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			// An unevaluatable policy fails closed.
			return fmt.Errorf("policy %s evaluation failed: %w", cp.policy.Name, err)
		}
		violations = append(violations, denials...)
	}

	if len(violations) > 0 {
		e.logger.Warn().
			Str("rule_id", r.ID).
			Str("caller", caller.ID).
			Int("violations", len(violations)).
			Msg("Execution denied by policy")
		return &DenyError{Violations: violations}
	}

	return nil
}

// AddPolicy compiles and registers a policy, replacing any policy with
// the same name.
func (e *Engine) AddPolicy(ctx context.Context, p Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.compileAndStorePolicy(ctx, &p)
}

// LoadPolicies loads and compiles .rego files from the given paths.
// A path may be a file or a directory; directories are not recursed.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to stat policy path %s: %w", path, err)
		}

		files := []string{path}
		if info.IsDir() {
			entries, err := os.ReadDir(path)
			if err != nil {
				return fmt.Errorf("failed to read policy directory %s: %w", path, err)
			}
			files = files[:0]
			for _, entry := range entries {
				if entry.IsDir() || filepath.Ext(entry.Name()) != ".rego" {
					continue
				}
				files = append(files, filepath.Join(path, entry.Name()))
			}
		}

		for _, file := range files {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read policy file %s: %w", file, err)
			}
			name := strings.TrimSuffix(filepath.Base(file), ".rego")
			p := Policy{
				Name:    name,
				Rego:    string(data),
				Enabled: true,
			}
			if err := e.compileAndStorePolicy(ctx, &p); err != nil {
				return fmt.Errorf("failed to compile policy %s: %w", name, err)
			}
		}
	}

	return nil
}

// ListPolicies returns all registered policies.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}
	return policies
}

// SetEnabled enables or disables a policy by name.
func (e *Engine) SetEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled

	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}

// buildInput assembles the policy input document from a rule and caller.
func (e *Engine) buildInput(r rule.Rule, caller orchestrator.Caller) *Input {
	actions := make([]ActionInfo, 0, len(r.Actions))
	for _, a := range r.Actions {
		actions = append(actions, ActionInfo{Framework: a.Framework, Action: a.Name})
	}

	return &Input{
		Rule: RuleInput{
			ID:            r.ID,
			Name:          r.Name,
			Priority:      int(r.EffectivePriority()),
			Tags:          r.Tags,
			RequiredRoles: requiredRoles(r.Metadata),
		},
		Caller: CallerInput{
			ID:    caller.ID,
			Roles: caller.Roles,
		},
		Actions:           actions,
		AllowedFrameworks: e.allowedFrameworks,
		Timestamp:         time.Now(),
	}
}

// evaluatePolicy runs a single prepared deny query.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		for _, expr := range result.Expressions {
			denySet, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, d := range denySet {
				violations = append(violations, makeViolation(cp.policy.Name, d))
			}
		}
	}

	return violations, nil
}

// makeViolation normalizes a deny result into a Violation.
func makeViolation(policy string, result interface{}) Violation {
	v := Violation{Policy: policy}

	switch r := result.(type) {
	case string:
		v.Message = r
	case map[string]interface{}:
		if msg, ok := r["message"].(string); ok {
			v.Message = msg
		}
	default:
		v.Message = fmt.Sprintf("%v", result)
	}

	return v
}

// compileAndStorePolicy compiles a policy and stores it. Caller must hold
// the write lock (or be the constructor).
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	if _, err := ast.ParseModule(policy.Name, policy.Rego); err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	packageName := extractPackageName(policy.Rego)
	query, err := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Query(fmt.Sprintf("data.%s.deny", packageName)),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		query:    query,
		compiled: time.Now(),
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Msg("Policy compiled successfully")

	return nil
}

// extractPackageName extracts the package name from Rego code.
func extractPackageName(code string) string {
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "bizy.guard"
}

// requiredRoles reads required_roles from rule metadata. Both []string and
// []interface{} forms are accepted since the metadata may come from YAML
// or JSON.
func requiredRoles(metadata map[string]interface{}) []string {
	raw, ok := metadata["required_roles"]
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
