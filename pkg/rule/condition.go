package rule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// regexCache caches compiled patterns across evaluations. Regex conditions
// are the most expensive operator and rules evaluate at request rate.
var regexCache sync.Map // pattern string -> *regexp.Regexp

// ResolvePath walks a dot-notation path ("payment.card.country") through
// nested maps in the execution context. The second return value reports
// whether the full path resolved.
func ResolvePath(ctx map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var current interface{} = ctx
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Evaluate resolves the condition field against the execution context and
// applies the operator. A missing or nil field matches only the negated
// operators (not_equals, not_contains, not_in).
func (c Condition) Evaluate(ctx map[string]interface{}) (bool, error) {
	value, ok := ResolvePath(ctx, c.Field)
	if !ok || value == nil {
		switch c.Operator {
		case OpNotEquals, OpNotContains, OpNotIn:
			return true, nil
		default:
			return false, nil
		}
	}

	caseSensitive := c.CaseSensitive == nil || *c.CaseSensitive

	switch c.Operator {
	case OpEquals:
		return equal(value, c.Value, caseSensitive), nil
	case OpNotEquals:
		return !equal(value, c.Value, caseSensitive), nil
	case OpGreaterThan, OpLessThan, OpGreaterOrEqual, OpLessOrEqual:
		return compareNumeric(value, c.Value, c.Operator)
	case OpContains:
		return contains(value, c.Value, caseSensitive)
	case OpNotContains:
		matched, err := contains(value, c.Value, caseSensitive)
		return !matched, err
	case OpStartsWith:
		return hasAffix(value, c.Value, caseSensitive, strings.HasPrefix)
	case OpEndsWith:
		return hasAffix(value, c.Value, caseSensitive, strings.HasSuffix)
	case OpRegex:
		return matchRegex(value, c.Value)
	case OpIn:
		return member(value, c.Value, caseSensitive)
	case OpNotIn:
		matched, err := member(value, c.Value, caseSensitive)
		return !matched, err
	default:
		return false, fmt.Errorf("unknown operator %q", c.Operator)
	}
}

// ConditionObserver receives the outcome of each leaf comparison as the
// tree is walked. Short-circuited conditions are never reported.
type ConditionObserver func(op Operator, matched bool)

// Evaluate walks the condition tree with short-circuit semantics.
// An empty group matches everything.
func (g ConditionGroup) Evaluate(ctx map[string]interface{}) (bool, error) {
	return g.EvaluateObserved(ctx, nil)
}

// EvaluateObserved is Evaluate with a per-comparison observer. A nil
// observer is allowed.
func (g ConditionGroup) EvaluateObserved(ctx map[string]interface{}, observe ConditionObserver) (bool, error) {
	if g.Empty() {
		return true, nil
	}
	eval := func(c Condition) (bool, error) {
		matched, err := c.Evaluate(ctx)
		if err == nil && observe != nil {
			observe(c.Operator, matched)
		}
		return matched, err
	}
	switch g.Combinator {
	case CombinatorAny:
		for _, c := range g.Conditions {
			matched, err := eval(c)
			if err != nil {
				return false, err
			}
			if matched {
				return true, nil
			}
		}
		for _, sub := range g.Groups {
			matched, err := sub.EvaluateObserved(ctx, observe)
			if err != nil {
				return false, err
			}
			if matched {
				return true, nil
			}
		}
		return false, nil
	case CombinatorNot:
		matched, err := ConditionGroup{
			Combinator: CombinatorAll,
			Conditions: g.Conditions,
			Groups:     g.Groups,
		}.EvaluateObserved(ctx, observe)
		if err != nil {
			return false, err
		}
		return !matched, nil
	default: // all
		for _, c := range g.Conditions {
			matched, err := eval(c)
			if err != nil {
				return false, err
			}
			if !matched {
				return false, nil
			}
		}
		for _, sub := range g.Groups {
			matched, err := sub.EvaluateObserved(ctx, observe)
			if err != nil {
				return false, err
			}
			if !matched {
				return false, nil
			}
		}
		return true, nil
	}
}

// equal compares scalars, coercing numeric types so YAML integers match
// JSON floats.
func equal(a, b interface{}, caseSensitive bool) bool {
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			if caseSensitive {
				return as == bs
			}
			return strings.EqualFold(as, bs)
		}
	}
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// compareNumeric applies an ordering operator, coercing both sides to float64.
func compareNumeric(a, b interface{}, op Operator) (bool, error) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return false, fmt.Errorf("operator %s requires numeric operands, got %T and %T", op, a, b)
	}
	switch op {
	case OpGreaterThan:
		return af > bf, nil
	case OpLessThan:
		return af < bf, nil
	case OpGreaterOrEqual:
		return af >= bf, nil
	case OpLessOrEqual:
		return af <= bf, nil
	default:
		return false, fmt.Errorf("not an ordering operator: %s", op)
	}
}

// contains checks substring membership for strings and element membership
// for slices.
func contains(value, expected interface{}, caseSensitive bool) (bool, error) {
	switch v := value.(type) {
	case string:
		needle, ok := expected.(string)
		if !ok {
			return false, fmt.Errorf("contains on a string field requires a string value, got %T", expected)
		}
		if caseSensitive {
			return strings.Contains(v, needle), nil
		}
		return strings.Contains(strings.ToLower(v), strings.ToLower(needle)), nil
	case []interface{}:
		for _, item := range v {
			if equal(item, expected, caseSensitive) {
				return true, nil
			}
		}
		return false, nil
	case []string:
		for _, item := range v {
			if equal(item, expected, caseSensitive) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("contains requires a string or list field, got %T", value)
	}
}

// hasAffix applies a prefix/suffix check to string operands.
func hasAffix(value, expected interface{}, caseSensitive bool, fn func(string, string) bool) (bool, error) {
	s, ok := value.(string)
	if !ok {
		return false, fmt.Errorf("prefix/suffix operators require a string field, got %T", value)
	}
	affix, ok := expected.(string)
	if !ok {
		return false, fmt.Errorf("prefix/suffix operators require a string value, got %T", expected)
	}
	if !caseSensitive {
		s = strings.ToLower(s)
		affix = strings.ToLower(affix)
	}
	return fn(s, affix), nil
}

// matchRegex matches the field value against a cached compiled pattern.
func matchRegex(value, expected interface{}) (bool, error) {
	pattern, ok := expected.(string)
	if !ok {
		return false, fmt.Errorf("regex operator requires a string pattern, got %T", expected)
	}
	s, ok := value.(string)
	if !ok {
		s = fmt.Sprintf("%v", value)
	}
	if cached, ok := regexCache.Load(pattern); ok {
		return cached.(*regexp.Regexp).MatchString(s), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, fmt.Errorf("invalid regex pattern %q: %w", pattern, err)
	}
	regexCache.Store(pattern, re)
	return re.MatchString(s), nil
}

// member checks whether the field value appears in the expected list.
func member(value, expected interface{}, caseSensitive bool) (bool, error) {
	switch list := expected.(type) {
	case []interface{}:
		for _, item := range list {
			if equal(value, item, caseSensitive) {
				return true, nil
			}
		}
		return false, nil
	case []string:
		for _, item := range list {
			if equal(value, item, caseSensitive) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("in/not_in require a list value, got %T", expected)
	}
}

// toFloat coerces the numeric types yaml.v3 and encoding/json produce.
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
