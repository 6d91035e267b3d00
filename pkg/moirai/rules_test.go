package moirai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tartarus-sandbox/pythia/pkg/domain"
)

func TestRuleSet_OverridesAction(t *testing.T) {
	rules, err := NewRuleSet([]Rule{
		{Name: "disabled", Condition: `true`, Action: "never", Disabled: true},
		{Name: "severe", Condition: `tier == "RED" && ratio >= 1.3`, Action: "open the overflow site"},
		{Name: "monday", Condition: `weekday == "Monday" && overage > 0.0`, Action: "pull weekend staff"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, rules.Len())

	r, err := NewRecommender(nil, rules)
	require.NoError(t, err)

	tests := []struct {
		name string
		in   domain.RiskAssessment
		want string
	}{
		{"first match wins", assessment("S1", domain.TierRed, 1.5), "open the overflow site"},
		{"second rule", assessment("S1", domain.TierRed, 1.1), "pull weekend staff"},
		{"no match keeps playbook", assessment("S1", domain.TierYellow, 0.9), "prepare contingency staffing/routing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := r.Recommend(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.Action)
			assert.Equal(t, tt.in.Tier, rec.Tier)
		})
	}
}

func TestRuleSet_CompileErrors(t *testing.T) {
	_, err := NewRuleSet([]Rule{{Name: "syntax", Condition: `ratio >>`, Action: "x"}})
	assert.Error(t, err)

	_, err = NewRuleSet([]Rule{{Name: "not bool", Condition: `ratio * 2.0`, Action: "x"}})
	assert.Error(t, err)

	_, err = NewRuleSet([]Rule{{Name: "unknown var", Condition: `staff > 3`, Action: "x"}})
	assert.Error(t, err)

	_, err = NewRuleSet([]Rule{{Name: "no action", Condition: `true`}})
	assert.Error(t, err)
}

func TestRuleSet_NilMatchesNothing(t *testing.T) {
	var rules *RuleSet
	rule, err := rules.Match(assessment("S1", domain.TierRed, 2))
	require.NoError(t, err)
	assert.Nil(t, rule)
}
