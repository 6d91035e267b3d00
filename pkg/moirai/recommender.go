package moirai

import (
	"fmt"
	"math"
	"sort"

	"github.com/tartarus-sandbox/pythia/pkg/domain"
)

// Recommender turns risk assessments into mitigation actions.
type Recommender struct {
	playbook Playbook
	rules    *RuleSet
}

// NewRecommender validates the playbook; a nil playbook uses the defaults.
// rules may be nil.
func NewRecommender(playbook Playbook, rules *RuleSet) (*Recommender, error) {
	if playbook == nil {
		playbook = DefaultPlaybook()
	}
	if err := playbook.Validate(); err != nil {
		return nil, err
	}
	return &Recommender{playbook: playbook, rules: rules}, nil
}

// Recommend produces an unranked recommendation for a single assessment.
func (r *Recommender) Recommend(a domain.RiskAssessment) (domain.ActionRecommendation, error) {
	action := r.playbook[a.Tier]
	if action == "" {
		return domain.ActionRecommendation{}, fmt.Errorf("no action for tier %q at site %s", a.Tier, a.SiteID)
	}

	rule, err := r.rules.Match(a)
	if err != nil {
		return domain.ActionRecommendation{}, err
	}
	if rule != nil {
		action = rule.Action
	}

	return domain.ActionRecommendation{
		SiteID:    a.SiteID,
		Date:      a.Date,
		Tier:      a.Tier,
		Ratio:     a.Ratio,
		Action:    action,
		Rationale: Rationale(a),
	}, nil
}

// RecommendBatch recommends every assessment and ranks the batch.
func (r *Recommender) RecommendBatch(assessments []domain.RiskAssessment) ([]domain.ActionRecommendation, error) {
	recs := make([]domain.ActionRecommendation, 0, len(assessments))
	for _, a := range assessments {
		rec, err := r.Recommend(a)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return Rank(recs), nil
}

// Rank returns a sorted copy of recs with PriorityRank set to 1..N.
// Order: tier severity, then ratio descending, then site, then date.
func Rank(recs []domain.ActionRecommendation) []domain.ActionRecommendation {
	out := make([]domain.ActionRecommendation, len(recs))
	copy(out, recs)

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if sa, sb := a.Tier.Severity(), b.Tier.Severity(); sa != sb {
			return sa > sb
		}
		if c := compareRatioDesc(a.Ratio, b.Ratio); c != 0 {
			return c < 0
		}
		if a.SiteID != b.SiteID {
			return a.SiteID < b.SiteID
		}
		return a.Date.Before(b.Date)
	})

	for i := range out {
		out[i].PriorityRank = i + 1
	}
	return out
}

// compareRatioDesc orders larger ratios first, with NaN ahead of everything.
func compareRatioDesc(a, b float64) int {
	an, bn := math.IsNaN(a), math.IsNaN(b)
	switch {
	case an && bn:
		return 0
	case an:
		return -1
	case bn:
		return 1
	case a > b:
		return -1
	case a < b:
		return 1
	}
	return 0
}

// Rationale explains a tier in terms of demand and capacity.
func Rationale(a domain.RiskAssessment) string {
	switch a.Tier {
	case domain.TierRed:
		if a.Demand > a.Capacity {
			return fmt.Sprintf("over capacity by ~%.0f units: demand %.0f vs capacity %g (util %.2f) at %s",
				a.Overage(), a.Demand, a.Capacity, a.Ratio, a.SiteID)
		}
		return fmt.Sprintf("at capacity: demand %.0f vs capacity %g (util %.2f) at %s",
			a.Demand, a.Capacity, a.Ratio, a.SiteID)
	case domain.TierYellow:
		return fmt.Sprintf("near capacity: demand %.0f vs capacity %g (util %.2f) at %s",
			a.Demand, a.Capacity, a.Ratio, a.SiteID)
	default:
		return fmt.Sprintf("demand %.0f vs capacity %g (util %.2f) at %s",
			a.Demand, a.Capacity, a.Ratio, a.SiteID)
	}
}
