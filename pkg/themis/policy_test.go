package themis

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tartarus-sandbox/pythia/pkg/domain"
	"github.com/tartarus-sandbox/pythia/pkg/moirai"
)

const samplePolicy = `
thresholds:
  green_yellow: 0.8
  yellow_red: 1.05
playbook:
  RED: "escalate to network ops"
rules:
  - name: extreme
    condition: 'ratio >= 1.5'
    action: "divert inbound volume"
`

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy([]byte(samplePolicy))
	require.NoError(t, err)

	assert.Equal(t, 0.8, p.Thresholds.GreenYellow)
	assert.Equal(t, 1.05, p.Thresholds.YellowRed)
	assert.Equal(t, "escalate to network ops", p.Playbook[domain.TierRed])
	assert.Equal(t, "monitor", p.Playbook[domain.TierGreen])
	require.Len(t, p.Rules, 1)

	compiled, err := p.Compile()
	require.NoError(t, err)
	assert.Equal(t, domain.TierYellow, compiled.Classifier.Classify(1.0))

	rec, err := compiled.Recommender.Recommend(domain.RiskAssessment{SiteID: "S1", Tier: domain.TierRed, Ratio: 1.6, Demand: 160, Capacity: 100})
	require.NoError(t, err)
	assert.Equal(t, "divert inbound volume", rec.Action)
}

func TestParsePolicy_Defaults(t *testing.T) {
	p, err := ParsePolicy([]byte("rules: []\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultThresholds(), p.Thresholds)
	assert.Equal(t, moirai.DefaultPlaybook(), p.Playbook)
}

func TestParsePolicy_Invalid(t *testing.T) {
	_, err := ParsePolicy([]byte("thresholds: {green_yellow: 1.2, yellow_red: 1.0}\n"))
	var it *domain.InvalidThresholdError
	assert.True(t, errors.As(err, &it))

	_, err = ParsePolicy([]byte("playbook: {BLUE: nope}\n"))
	assert.Error(t, err)

	_, err = ParsePolicy([]byte("rules: [{name: bad, condition: 'ratio +', action: x}]\n"))
	assert.Error(t, err)
}

func TestLoadPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(samplePolicy), 0644))

	p, err := LoadPolicyFile(path)
	require.NoError(t, err)
	assert.Equal(t, 0.8, p.Thresholds.GreenYellow)

	_, err = LoadPolicyFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func exerciseRepository(t *testing.T, repo Repository) {
	ctx := context.Background()

	p, err := repo.GetPolicy(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.Version)
	assert.Equal(t, DefaultThresholds(), p.Thresholds)

	p.Thresholds.GreenYellow = 0.7
	require.NoError(t, repo.UpsertPolicy(ctx, p))
	assert.Equal(t, int64(1), p.Version)

	got, err := repo.GetPolicy(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, 0.7, got.Thresholds.GreenYellow)

	// Stale write
	stale := DefaultPolicy()
	err = repo.UpsertPolicy(ctx, stale)
	assert.ErrorIs(t, err, ErrVersionConflict)

	// Invalid policy is rejected before storage
	got.Thresholds.YellowRed = 0.1
	var it *domain.InvalidThresholdError
	assert.True(t, errors.As(repo.UpsertPolicy(ctx, got), &it))

	got.Thresholds.YellowRed = 1.1
	require.NoError(t, repo.UpsertPolicy(ctx, got))
	assert.Equal(t, int64(2), got.Version)
}

func TestMemoryRepo(t *testing.T) {
	exerciseRepository(t, NewMemoryRepo())
}

func TestRedisRepo(t *testing.T) {
	s := miniredis.RunT(t)
	repo, err := NewRedisRepo(s.Addr(), 0, "")
	require.NoError(t, err)
	defer repo.Close()

	exerciseRepository(t, repo)
}
