package moirai

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/tartarus-sandbox/pythia/pkg/domain"
)

// Rule replaces the playbook action when its CEL condition holds.
// Conditions see site, tier, ratio, demand, capacity, overage and weekday.
type Rule struct {
	Name      string `json:"name" yaml:"name"`
	Condition string `json:"condition" yaml:"condition"`
	Action    string `json:"action" yaml:"action"`
	Disabled  bool   `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

type compiledRule struct {
	Rule
	prg cel.Program
}

// RuleSet holds escalation rules compiled once, evaluated in order.
type RuleSet struct {
	rules []compiledRule
}

func newRuleEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("site", cel.StringType),
		cel.Variable("tier", cel.StringType),
		cel.Variable("ratio", cel.DoubleType),
		cel.Variable("demand", cel.DoubleType),
		cel.Variable("capacity", cel.DoubleType),
		cel.Variable("overage", cel.DoubleType),
		cel.Variable("weekday", cel.StringType),
	)
}

// NewRuleSet compiles every rule; a rule that does not compile to a boolean
// expression fails the whole set.
func NewRuleSet(rules []Rule) (*RuleSet, error) {
	env, err := newRuleEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	set := &RuleSet{}
	for i, r := range rules {
		if r.Action == "" {
			return nil, fmt.Errorf("rule %d (%s) has no action", i, r.Name)
		}
		ast, issues := env.Compile(r.Condition)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, r.Name, issues.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("rule %d (%s): condition must be boolean, got %s", i, r.Name, ast.OutputType())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, r.Name, err)
		}
		set.rules = append(set.rules, compiledRule{Rule: r, prg: prg})
	}
	return set, nil
}

// Match returns the first enabled rule whose condition holds for a.
func (s *RuleSet) Match(a domain.RiskAssessment) (*Rule, error) {
	if s == nil {
		return nil, nil
	}

	vars := map[string]any{
		"site":     a.SiteID,
		"tier":     string(a.Tier),
		"ratio":    a.Ratio,
		"demand":   a.Demand,
		"capacity": a.Capacity,
		"overage":  a.Overage(),
		"weekday":  a.Date.Weekday().String(),
	}

	for i := range s.rules {
		r := &s.rules[i]
		if r.Disabled {
			continue
		}
		out, _, err := r.prg.Eval(vars)
		if err != nil {
			return nil, fmt.Errorf("rule %s failed for site %s: %w", r.Name, a.SiteID, err)
		}
		if ok, _ := out.Value().(bool); ok {
			rule := r.Rule
			return &rule, nil
		}
	}
	return nil, nil
}

// Len reports the number of compiled rules.
func (s *RuleSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}
