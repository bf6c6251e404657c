package rule

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// CompiledRule is an execution-ready plan for a rule: conditions reordered
// by evaluation cost and actions grouped into parallel stages.
type CompiledRule struct {
	// Rule is the source rule.
	Rule Rule

	// Conditions is the cost-ordered condition tree.
	Conditions ConditionGroup

	// Stages are sequential groups of actions; actions within a stage
	// have no dependencies on each other and may run in parallel.
	Stages [][]Action

	// CompiledAt is when the plan was built.
	CompiledAt time.Time
}

// Compiler turns rules into compiled plans, caching by rule ID and version.
type Compiler struct {
	mu    sync.RWMutex
	cache map[string]*CompiledRule
}

// NewCompiler creates a rule compiler with an empty plan cache.
func NewCompiler() *Compiler {
	return &Compiler{cache: make(map[string]*CompiledRule)}
}

// Compile builds an execution plan for the rule. Disabled rules and rules
// with cyclic action dependencies are rejected.
func (c *Compiler) Compile(r Rule) (*CompiledRule, error) {
	if !r.IsEnabled() {
		return nil, fmt.Errorf("rule %s is disabled", r.ID)
	}

	key := cacheKey(r)
	c.mu.RLock()
	if cached, ok := c.cache[key]; ok {
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	stages, err := buildStages(r.Actions)
	if err != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", r.ID, err)
	}

	compiled := &CompiledRule{
		Rule:       r,
		Conditions: orderByCost(r.Conditions),
		Stages:     stages,
		CompiledAt: time.Now().UTC(),
	}

	c.mu.Lock()
	c.cache[key] = compiled
	c.mu.Unlock()
	return compiled, nil
}

// Invalidate drops any cached plan for the rule ID.
func (c *Compiler) Invalidate(ruleID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.cache {
		if c.cache[key].Rule.ID == ruleID {
			delete(c.cache, key)
		}
	}
}

// CacheSize returns the number of cached plans.
func (c *Compiler) CacheSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

func cacheKey(r Rule) string {
	return fmt.Sprintf("%s@%d", r.ID, r.UpdatedAt.UnixNano())
}

// operator evaluation cost estimates, cheapest first
var operatorCost = map[Operator]int{
	OpEquals:         1,
	OpNotEquals:      1,
	OpGreaterThan:    2,
	OpLessThan:       2,
	OpGreaterOrEqual: 2,
	OpLessOrEqual:    2,
	OpIn:             3,
	OpNotIn:          3,
	OpStartsWith:     4,
	OpEndsWith:       4,
	OpContains:       5,
	OpNotContains:    5,
	OpRegex:          10,
}

// orderByCost returns a copy of the tree with conditions in each group
// sorted by ascending evaluation cost, so cheap comparisons short-circuit
// before expensive ones.
func orderByCost(g ConditionGroup) ConditionGroup {
	out := ConditionGroup{Combinator: g.Combinator}
	out.Conditions = append([]Condition(nil), g.Conditions...)
	sort.SliceStable(out.Conditions, func(i, j int) bool {
		return operatorCost[out.Conditions[i].Operator] < operatorCost[out.Conditions[j].Operator]
	})
	for _, sub := range g.Groups {
		out.Groups = append(out.Groups, orderByCost(sub))
	}
	return out
}

// buildStages levels actions by their depends_on edges using Kahn's
// algorithm. Actions in the same level share a stage and may run in
// parallel. A remaining unleveled action indicates a dependency cycle.
func buildStages(actions []Action) ([][]Action, error) {
	if len(actions) == 0 {
		return nil, nil
	}

	byName := make(map[string]Action, len(actions))
	indegree := make(map[string]int, len(actions))
	dependents := make(map[string][]string, len(actions))
	for _, a := range actions {
		byName[a.Name] = a
		indegree[a.Name] = 0
	}
	for _, a := range actions {
		for _, dep := range a.DependsOn {
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("action %q depends on unknown action %q", a.Name, dep)
			}
			indegree[a.Name]++
			dependents[dep] = append(dependents[dep], a.Name)
		}
	}

	var stages [][]Action
	leveled := 0
	// current holds names with no unprocessed dependencies, in input order
	var current []string
	for _, a := range actions {
		if indegree[a.Name] == 0 {
			current = append(current, a.Name)
		}
	}

	for len(current) > 0 {
		stage := make([]Action, 0, len(current))
		var next []string
		for _, name := range current {
			stage = append(stage, byName[name])
			leveled++
			for _, dep := range dependents[name] {
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		stages = append(stages, stage)
		current = next
	}

	if leveled != len(actions) {
		return nil, fmt.Errorf("action dependency cycle detected")
	}
	return stages, nil
}
