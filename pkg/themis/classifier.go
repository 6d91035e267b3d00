package themis

import (
	"math"

	"github.com/tartarus-sandbox/pythia/pkg/domain"
)

// Thresholds are the two cut points between tiers.
type Thresholds struct {
	GreenYellow float64 `json:"green_yellow" yaml:"green_yellow"`
	YellowRed   float64 `json:"yellow_red" yaml:"yellow_red"`
}

// DefaultThresholds escalate to YELLOW at 85% utilization and to RED at capacity.
func DefaultThresholds() Thresholds {
	return Thresholds{GreenYellow: 0.85, YellowRed: 1.0}
}

// Validate requires 0 < GreenYellow < YellowRed.
func (t Thresholds) Validate() error {
	switch {
	case math.IsNaN(t.GreenYellow) || math.IsNaN(t.YellowRed) || math.IsInf(t.YellowRed, 0):
		return &domain.InvalidThresholdError{GreenYellow: t.GreenYellow, YellowRed: t.YellowRed, Reason: "thresholds must be finite"}
	case t.GreenYellow <= 0:
		return &domain.InvalidThresholdError{GreenYellow: t.GreenYellow, YellowRed: t.YellowRed, Reason: "green_yellow must be positive"}
	case t.GreenYellow >= t.YellowRed:
		return &domain.InvalidThresholdError{GreenYellow: t.GreenYellow, YellowRed: t.YellowRed, Reason: "green_yellow must be below yellow_red"}
	}
	return nil
}

// Band is the lowest ratio at which a tier applies.
type Band struct {
	Lower float64
	Tier  domain.Tier
}

// Classifier maps utilization ratios to tiers through an ordered band table.
type Classifier struct {
	thresholds Thresholds
	bands      []Band // highest lower bound first
}

// NewClassifier validates the thresholds before anything is classified.
func NewClassifier(t Thresholds) (*Classifier, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{
		thresholds: t,
		bands: []Band{
			{Lower: t.YellowRed, Tier: domain.TierRed},
			{Lower: t.GreenYellow, Tier: domain.TierYellow},
			{Lower: math.Inf(-1), Tier: domain.TierGreen},
		},
	}, nil
}

// Thresholds returns the configured cut points.
func (c *Classifier) Thresholds() Thresholds {
	return c.thresholds
}

// Bands returns a copy of the band table, highest first.
func (c *Classifier) Bands() []Band {
	out := make([]Band, len(c.bands))
	copy(out, c.bands)
	return out
}

// Classify returns the first band whose lower bound the ratio reaches,
// so a ratio exactly on a cut point escalates. NaN classifies RED.
func (c *Classifier) Classify(ratio float64) domain.Tier {
	if math.IsNaN(ratio) {
		return domain.TierRed
	}
	for _, b := range c.bands {
		if ratio >= b.Lower {
			return b.Tier
		}
	}
	return domain.TierGreen
}

// Assess classifies each utilization record, preserving order.
func (c *Classifier) Assess(records []domain.UtilizationRecord) []domain.RiskAssessment {
	out := make([]domain.RiskAssessment, len(records))
	for i, r := range records {
		out[i] = domain.RiskAssessment{
			SiteID:   r.SiteID,
			Date:     r.Date,
			Ratio:    r.Ratio,
			Tier:     c.Classify(r.Ratio),
			Demand:   r.Demand,
			Capacity: r.Capacity,
		}
	}
	return out
}
