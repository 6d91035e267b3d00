package themis

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tartarus-sandbox/pythia/pkg/domain"
)

func TestClassifier_Boundaries(t *testing.T) {
	c, err := NewClassifier(Thresholds{GreenYellow: 0.8, YellowRed: 1.0})
	require.NoError(t, err)

	tests := []struct {
		ratio float64
		want  domain.Tier
	}{
		{0, domain.TierGreen},
		{0.79, domain.TierGreen},
		{0.80, domain.TierYellow},
		{0.99, domain.TierYellow},
		{1.00, domain.TierRed},
		{1.25, domain.TierRed},
		{math.Inf(1), domain.TierRed},
		{math.NaN(), domain.TierRed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.Classify(tt.ratio), "ratio %v", tt.ratio)
	}
}

func TestClassifier_Monotonic(t *testing.T) {
	c, err := NewClassifier(DefaultThresholds())
	require.NoError(t, err)

	prev := c.Classify(0)
	for r := 0.0; r <= 2.0; r += 0.01 {
		tier := c.Classify(r)
		assert.GreaterOrEqual(t, tier.Severity(), prev.Severity())
		prev = tier
	}
}

func TestNewClassifier_InvalidThresholds(t *testing.T) {
	tests := []struct {
		name string
		th   Thresholds
	}{
		{"zero lower", Thresholds{0, 1}},
		{"negative", Thresholds{-0.5, 1}},
		{"equal", Thresholds{1, 1}},
		{"inverted", Thresholds{1.2, 0.9}},
		{"nan", Thresholds{math.NaN(), 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClassifier(tt.th)
			var it *domain.InvalidThresholdError
			assert.True(t, errors.As(err, &it))
		})
	}
}

func TestClassifier_Assess(t *testing.T) {
	c, err := NewClassifier(DefaultThresholds())
	require.NoError(t, err)

	out := c.Assess([]domain.UtilizationRecord{
		{SiteID: "S1", Demand: 120, Capacity: 100, Ratio: 1.2},
		{SiteID: "S2", Demand: 50, Capacity: 100, Ratio: 0.5},
	})
	require.Len(t, out, 2)
	assert.Equal(t, domain.TierRed, out[0].Tier)
	assert.Equal(t, 20.0, out[0].Overage())
	assert.Equal(t, domain.TierGreen, out[1].Tier)

	bands := c.Bands()
	assert.Equal(t, domain.TierRed, bands[0].Tier)
	assert.Equal(t, 1.0, bands[0].Lower)
}
