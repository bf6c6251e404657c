package scenario

import (
	"testing"

	"github.com/bizyhq/bizy/pkg/rule"
)

func TestAllRuleSetsValidate(t *testing.T) {
	v := rule.NewValidator(nil)

	for name, rules := range All() {
		if len(rules) == 0 {
			t.Errorf("scenario %s has no rules", name)
			continue
		}
		results, err := v.ValidateBatch(rules)
		if err != nil {
			t.Fatalf("scenario %s failed to validate: %v", name, err)
		}
		for _, res := range results {
			if !res.Valid() {
				t.Errorf("scenario %s rule %s invalid: %v", name, res.RuleID, res.Errors)
			}
		}
	}
}

func TestRuleIDsUnique(t *testing.T) {
	seen := map[string]string{}
	for name, rules := range All() {
		for _, r := range rules {
			if prev, dup := seen[r.ID]; dup {
				t.Errorf("rule ID %s appears in both %s and %s", r.ID, prev, name)
			}
			seen[r.ID] = name
		}
	}
}

func TestFraudScreeningMatchesTransaction(t *testing.T) {
	var screening *rule.Rule
	for _, r := range FraudDetection() {
		if r.ID == "fraud-transaction-screening" {
			screening = &r
			break
		}
	}
	if screening == nil {
		t.Fatal("screening rule missing")
	}

	matched, err := screening.Conditions.Evaluate(map[string]interface{}{
		"transaction_type": "payment",
		"amount":           250,
	})
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if !matched {
		t.Error("expected payment transaction to match screening rule")
	}

	matched, err = screening.Conditions.Evaluate(map[string]interface{}{
		"transaction_type": "refund",
		"amount":           250,
	})
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if matched {
		t.Error("expected refund transaction to be ignored")
	}
}

func TestEscalationGuardsCriticalPriority(t *testing.T) {
	for _, r := range CustomerService() {
		if r.EffectivePriority() != rule.PriorityCritical {
			continue
		}
		if r.Metadata["required_roles"] == nil {
			t.Errorf("critical rule %s has no required_roles metadata", r.ID)
		}
	}
}
