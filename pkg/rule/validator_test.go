package rule

import (
	"strings"
	"testing"
)

func validRule() Rule {
	return Rule{
		ID:       "order-routing",
		Name:     "Order routing",
		Priority: PriorityHigh,
		Conditions: ConditionGroup{
			Conditions: []Condition{
				{Field: "order.total", Operator: OpGreaterThan, Value: 100},
			},
		},
		Actions: []Action{
			{Framework: "memory", Name: "route_order"},
		},
	}
}

func TestValidateValidRule(t *testing.T) {
	v := NewValidator(nil)
	res, err := v.Validate(validRule())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Valid() {
		t.Errorf("expected valid rule, got errors: %v", res.Errors)
	}
}

func TestValidateMissingFields(t *testing.T) {
	v := NewValidator(nil)
	res, err := v.Validate(Rule{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Valid() {
		t.Fatal("expected errors for rule without ID and name")
	}
}

func TestValidateUnknownOperator(t *testing.T) {
	r := validRule()
	r.Conditions.Conditions = append(r.Conditions.Conditions, Condition{
		Field: "x", Operator: Operator("approximately"), Value: 1,
	})

	v := NewValidator(nil)
	res, _ := v.Validate(r)
	if res.Valid() {
		t.Fatal("expected error for unknown operator")
	}
}

func TestValidateBadRegex(t *testing.T) {
	r := validRule()
	r.Conditions.Conditions = []Condition{
		{Field: "x", Operator: OpRegex, Value: "["},
	}

	v := NewValidator(nil)
	res, _ := v.Validate(r)
	if res.Valid() {
		t.Fatal("expected error for invalid regex pattern")
	}
}

func TestValidateUnknownFramework(t *testing.T) {
	v := NewValidator([]string{"memory", "webhook"})

	res, _ := v.Validate(validRule())
	if !res.Valid() {
		t.Errorf("memory framework should be accepted: %v", res.Errors)
	}

	r := validRule()
	r.Actions[0].Framework = "quantum"
	res, _ = v.Validate(r)
	if res.Valid() {
		t.Fatal("expected error for unknown framework")
	}
}

func TestValidateDependsOn(t *testing.T) {
	r := validRule()
	r.Actions = []Action{
		{Framework: "memory", Name: "a", DependsOn: []string{"ghost"}},
	}

	v := NewValidator(nil)
	res, _ := v.Validate(r)
	if res.Valid() {
		t.Fatal("expected error for unknown depends_on target")
	}

	r.Actions = []Action{
		{Framework: "memory", Name: "a", DependsOn: []string{"a"}},
	}
	res, _ = v.Validate(r)
	if res.Valid() {
		t.Fatal("expected error for self-dependency")
	}
}

func TestValidateDuplicateActionNames(t *testing.T) {
	r := validRule()
	r.Actions = []Action{
		{Framework: "memory", Name: "notify"},
		{Framework: "memory", Name: "notify"},
	}

	v := NewValidator(nil)
	res, _ := v.Validate(r)
	if res.Valid() {
		t.Fatal("expected error for duplicate action names")
	}
	found := false
	for _, e := range res.Errors {
		if strings.Contains(e, "duplicate action name") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected duplicate action name error, got %v", res.Errors)
	}
}

func TestValidateContradictions(t *testing.T) {
	r := validRule()
	r.Conditions = ConditionGroup{
		Conditions: []Condition{
			{Field: "status", Operator: OpEquals, Value: "open"},
			{Field: "status", Operator: OpNotEquals, Value: "open"},
		},
	}

	v := NewValidator(nil)
	res, _ := v.Validate(r)
	if res.Valid() {
		t.Fatal("expected error for contradictory conditions")
	}

	// Same pair inside an "any" group is legitimate
	r.Conditions.Combinator = CombinatorAny
	res, _ = v.Validate(r)
	if !res.Valid() {
		t.Errorf("any group should allow opposing conditions: %v", res.Errors)
	}
}

func TestValidateRedundantConditions(t *testing.T) {
	r := validRule()
	r.Conditions = ConditionGroup{
		Conditions: []Condition{
			{Field: "status", Operator: OpEquals, Value: "open"},
			{Field: "status", Operator: OpEquals, Value: "open"},
		},
	}

	v := NewValidator(nil)
	res, _ := v.Validate(r)
	if len(res.Warnings) == 0 {
		t.Error("expected warning for duplicate condition")
	}
}

func TestValidateInjectionWarning(t *testing.T) {
	r := validRule()
	r.Actions[0].Parameters = map[string]interface{}{
		"template": "{{ user.secret }}",
	}

	v := NewValidator(nil)
	res, _ := v.Validate(r)
	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "injection") {
			found = true
		}
	}
	if !found {
		t.Error("expected injection warning for templated parameter")
	}
}

func TestValidateFallbackStrategy(t *testing.T) {
	r := validRule()
	r.ErrorHandling = ErrorHandling{Strategy: StrategyFallback}

	v := NewValidator(nil)
	res, _ := v.Validate(r)
	if res.Valid() {
		t.Fatal("expected error for fallback strategy without fallback rule")
	}

	r.ErrorHandling.Fallback = r.ID
	res, _ = v.Validate(r)
	if res.Valid() {
		t.Fatal("expected error for self-referencing fallback")
	}
}

func TestValidateBatchDuplicateIDs(t *testing.T) {
	v := NewValidator(nil)
	results, err := v.ValidateBatch([]Rule{validRule(), validRule()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results[0].Valid() == false {
		t.Error("first occurrence should be valid")
	}
	if results[1].Valid() {
		t.Error("expected duplicate ID error on second occurrence")
	}
}

func TestValidatePerformanceWarnings(t *testing.T) {
	r := validRule()
	for i := 0; i < 25; i++ {
		r.Conditions.Conditions = append(r.Conditions.Conditions, Condition{
			Field: "x", Operator: OpEquals, Value: i,
		})
	}

	v := NewValidator(nil)
	res, _ := v.Validate(r)
	if len(res.Warnings) == 0 {
		t.Error("expected performance warning for oversized condition set")
	}
}
