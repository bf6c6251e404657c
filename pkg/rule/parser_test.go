package rule

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const singleRuleYAML = `
rule: fraud-screening
name: Real-time transaction screening
description: Screens high-value transactions for fraud indicators
type: condition
priority: critical
conditions:
  all:
    - field: transaction.amount
      operator: greater_than
      value: 10000
    - any:
        - field: transaction.country
          operator: in
          value: [NG, RU]
        - field: transaction.type
          operator: equals
          value: wire_transfer
actions:
  - framework: langchain
    action: analyze_risk
    parameters:
      model: risk-v2
    timeout: 30s
    retry_count: 2
  - framework: webhook
    action: notify_compliance
    depends_on: [analyze_risk]
error_handling:
  strategy: fallback
  fallback: manual-review
metadata:
  required_roles: [operator]
tags: [fraud, payments]
`

func TestParseSingleRule(t *testing.T) {
	p := NewParser()
	rules, err := p.Parse([]byte(singleRuleYAML))
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rules))
	}

	r := rules[0]
	if r.ID != "fraud-screening" {
		t.Errorf("expected ID fraud-screening, got %s", r.ID)
	}
	if r.Priority != PriorityCritical {
		t.Errorf("expected critical priority, got %v", r.Priority)
	}
	if r.Conditions.Combinator != CombinatorAll {
		t.Errorf("expected all combinator, got %s", r.Conditions.Combinator)
	}
	if len(r.Conditions.Conditions) != 1 || len(r.Conditions.Groups) != 1 {
		t.Fatalf("expected 1 condition and 1 nested group, got %d/%d",
			len(r.Conditions.Conditions), len(r.Conditions.Groups))
	}
	if r.Conditions.Groups[0].Combinator != CombinatorAny {
		t.Errorf("expected any combinator in nested group")
	}
	if len(r.Actions) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(r.Actions))
	}
	if r.Actions[0].Timeout.Std() != 30*time.Second {
		t.Errorf("expected 30s timeout, got %v", r.Actions[0].Timeout.Std())
	}
	if r.Actions[1].DependsOn[0] != "analyze_risk" {
		t.Errorf("expected depends_on analyze_risk")
	}
	if r.ErrorHandling.Strategy != StrategyFallback {
		t.Errorf("expected fallback strategy")
	}
	roles := r.RequiredRoles()
	if len(roles) != 1 || roles[0] != "operator" {
		t.Errorf("expected required_roles [operator], got %v", roles)
	}
}

func TestParseRulesList(t *testing.T) {
	doc := `
rules:
  - rule: first
    name: First
    priority: high
    actions:
      - framework: memory
        action: noop
  - rule: second
    name: Second
    priority: 7
    actions:
      - framework: memory
        action: noop
`
	p := NewParser()
	rules, err := p.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}
	if rules[0].Priority != PriorityHigh {
		t.Errorf("expected high priority for first rule")
	}
	if rules[1].Priority != Priority(7) {
		t.Errorf("expected numeric priority 7, got %v", rules[1].Priority)
	}
}

func TestParsePlainConditionList(t *testing.T) {
	doc := `
rule: simple
name: Simple
conditions:
  - field: status
    operator: equals
    value: open
actions:
  - framework: memory
    action: noop
`
	p := NewParser()
	rules, err := p.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	g := rules[0].Conditions
	if g.Combinator != CombinatorAll {
		t.Errorf("plain list should default to all, got %s", g.Combinator)
	}
	if len(g.Conditions) != 1 {
		t.Fatalf("expected 1 condition, got %d", len(g.Conditions))
	}
}

func TestParseErrors(t *testing.T) {
	p := NewParser()

	if _, err := p.Parse([]byte("rule: [unclosed")); err == nil {
		t.Error("expected error for malformed YAML")
	}
	if _, err := p.Parse([]byte("just_a_key: value")); err == nil {
		t.Error("expected error for document with no rules")
	}
	if err := p.ValidateSyntax([]byte(singleRuleYAML)); err != nil {
		t.Errorf("expected valid syntax, got %v", err)
	}

	bad := `
rule: bad
name: Bad
conditions:
  both: []
`
	_, err := p.Parse([]byte(bad))
	if err == nil {
		t.Fatal("expected error for unknown combinator")
	}
	if _, ok := err.(*ParseError); !ok {
		t.Errorf("expected *ParseError, got %T", err)
	}
}

func TestToYAMLRoundTrip(t *testing.T) {
	p := NewParser()
	rules, err := p.Parse([]byte(singleRuleYAML))
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}

	data, err := p.ToYAML(rules[0])
	if err != nil {
		t.Fatalf("failed to serialize: %v", err)
	}

	again, err := p.Parse(data)
	if err != nil {
		t.Fatalf("failed to re-parse: %v", err)
	}
	if again[0].ID != rules[0].ID {
		t.Errorf("round trip lost rule ID")
	}
	if again[0].Priority != rules[0].Priority {
		t.Errorf("round trip lost priority")
	}
	if again[0].Conditions.Size() != rules[0].Conditions.Size() {
		t.Errorf("round trip lost conditions")
	}
}

func TestParseDir(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"a.yaml": "rule: a\nname: A\nactions:\n  - framework: memory\n    action: noop\n",
		"b.yml":  "rule: b\nname: B\nactions:\n  - framework: memory\n    action: noop\n",
		"c.txt":  "not a rule file",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	p := NewParser()
	rules, err := p.ParseDir(dir)
	if err != nil {
		t.Fatalf("failed to parse dir: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}
}
