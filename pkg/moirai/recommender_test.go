package moirai

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tartarus-sandbox/pythia/pkg/domain"
)

var day0 = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC) // a Monday

func assessment(site string, tier domain.Tier, ratio float64) domain.RiskAssessment {
	return domain.RiskAssessment{SiteID: site, Date: day0, Tier: tier, Ratio: ratio, Demand: ratio * 100, Capacity: 100}
}

func TestRecommend_DefaultPlaybook(t *testing.T) {
	r, err := NewRecommender(nil, nil)
	require.NoError(t, err)

	tests := []struct {
		tier domain.Tier
		want string
	}{
		{domain.TierGreen, "monitor"},
		{domain.TierYellow, "prepare contingency staffing/routing"},
		{domain.TierRed, "activate overflow capacity / escalate"},
	}
	for _, tt := range tests {
		t.Run(string(tt.tier), func(t *testing.T) {
			rec, err := r.Recommend(assessment("S1", tt.tier, 0.5))
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.Action)
			assert.Equal(t, 0, rec.PriorityRank)
		})
	}
}

func TestRecommend_OverCapacityExample(t *testing.T) {
	r, err := NewRecommender(nil, nil)
	require.NoError(t, err)

	rec, err := r.Recommend(domain.RiskAssessment{SiteID: "S1", Date: day0, Tier: domain.TierRed, Ratio: 1.2, Demand: 120, Capacity: 100})
	require.NoError(t, err)
	assert.Equal(t, "activate overflow capacity / escalate", rec.Action)
	assert.Equal(t, "over capacity by ~20 units: demand 120 vs capacity 100 (util 1.20) at S1", rec.Rationale)
}

func TestRecommendBatch_Ranking(t *testing.T) {
	r, err := NewRecommender(nil, nil)
	require.NoError(t, err)

	batch := []domain.RiskAssessment{
		assessment("G1", domain.TierGreen, 0.5),
		assessment("Y1", domain.TierYellow, 0.9),
		assessment("R2", domain.TierRed, 1.1),
		assessment("R1", domain.TierRed, 1.1),
		assessment("R3", domain.TierRed, 1.4),
		assessment("Y2", domain.TierYellow, 0.95),
	}

	recs, err := r.RecommendBatch(batch)
	require.NoError(t, err)

	var order []string
	for i, rec := range recs {
		assert.Equal(t, i+1, rec.PriorityRank)
		order = append(order, rec.SiteID)
	}
	assert.Equal(t, []string{"R3", "R1", "R2", "Y2", "Y1", "G1"}, order)

	// Input untouched
	assert.Equal(t, "G1", batch[0].SiteID)
}

func TestRank_Properties(t *testing.T) {
	recs := Rank([]domain.ActionRecommendation{
		{SiteID: "A", Tier: domain.TierGreen, Ratio: 0.84},
		{SiteID: "B", Tier: domain.TierRed, Ratio: math.NaN()},
		{SiteID: "C", Tier: domain.TierRed, Ratio: 3},
		{SiteID: "A", Tier: domain.TierYellow, Ratio: 0.85, Date: day0.AddDate(0, 0, 1)},
		{SiteID: "A", Tier: domain.TierYellow, Ratio: 0.85, Date: day0},
	})

	for i := 1; i < len(recs); i++ {
		prev, cur := recs[i-1], recs[i]
		assert.GreaterOrEqual(t, prev.Tier.Severity(), cur.Tier.Severity())
		if prev.Tier == cur.Tier && !math.IsNaN(prev.Ratio) {
			assert.GreaterOrEqual(t, prev.Ratio, cur.Ratio)
		}
	}
	assert.Equal(t, "B", recs[0].SiteID)
	assert.Equal(t, day0, recs[2].Date)
	assert.Equal(t, day0.AddDate(0, 0, 1), recs[3].Date)
}

func TestRank_Empty(t *testing.T) {
	assert.Empty(t, Rank(nil))
}

func TestPlaybook_Validate(t *testing.T) {
	assert.NoError(t, DefaultPlaybook().Validate())

	missing := Playbook{domain.TierGreen: "watch"}
	assert.Error(t, missing.Validate())
	assert.NoError(t, missing.Merge().Validate())
	assert.Equal(t, "watch", missing.Merge()[domain.TierGreen])

	bad := DefaultPlaybook()
	bad["PURPLE"] = "panic"
	assert.Error(t, bad.Validate())

	_, err := NewRecommender(missing, nil)
	assert.Error(t, err)
}

func TestCustomPlaybook(t *testing.T) {
	pb := DefaultPlaybook()
	pb[domain.TierRed] = "call the regional lead"
	r, err := NewRecommender(pb, nil)
	require.NoError(t, err)

	rec, err := r.Recommend(assessment("S1", domain.TierRed, 1.3))
	require.NoError(t, err)
	assert.Equal(t, "call the regional lead", rec.Action)
}
