package persephone

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tartarus-sandbox/pythia/pkg/domain"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func series(site string, start time.Time, volumes ...float64) []domain.Observation {
	obs := make([]domain.Observation, len(volumes))
	for i, v := range volumes {
		obs[i] = domain.Observation{SiteID: site, Date: start.AddDate(0, 0, i), Volume: v}
	}
	return obs
}

func newTestEngine(t *testing.T, season int, fallback FallbackPolicy) *Engine {
	t.Helper()
	e, err := NewEngine(EngineConfig{SeasonLength: season, Fallback: fallback})
	require.NoError(t, err)
	return e
}

func TestNewEngine_Validation(t *testing.T) {
	_, err := NewEngine(EngineConfig{SeasonLength: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidSeason)

	_, err = NewEngine(EngineConfig{SeasonLength: 7, Fallback: "median"})
	assert.Error(t, err)

	e, err := NewEngine(EngineConfig{SeasonLength: 7})
	require.NoError(t, err)
	assert.Equal(t, FallbackLastObserved, e.Fallback())
	assert.Equal(t, 7, e.SeasonLength())
}

func TestEngine_SeasonalValue(t *testing.T) {
	e := newTestEngine(t, 4, "")
	history := series("A", day0, 90, 100, 95, 100)

	recs, err := e.Forecast(history, 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	assert.Equal(t, day0.AddDate(0, 0, 4), recs[0].Date)
	assert.Equal(t, 90.0, recs[0].Value)
	assert.Equal(t, domain.MethodSeasonal, recs[0].Method)
	assert.Equal(t, day0, recs[0].SourceDate)
	assert.Equal(t, "A", recs[0].SiteID)
}

func TestEngine_HorizonBeyondSeasonReusesLastCycle(t *testing.T) {
	e := newTestEngine(t, 3, "")
	history := series("A", day0, 10, 20, 30, 11, 21, 31)

	recs, err := e.Forecast(history, 7)
	require.NoError(t, err)
	require.Len(t, recs, 7)

	want := []float64{11, 21, 31, 11, 21, 31, 11}
	for i, r := range recs {
		assert.Equal(t, want[i], r.Value, "day %d", i+1)
		assert.Equal(t, domain.MethodSeasonal, r.Method)
		assert.False(t, r.SourceDate.After(day0.AddDate(0, 0, 5)))
	}
}

func TestEngine_InsufficientHistory(t *testing.T) {
	e := newTestEngine(t, 7, "")

	_, err := e.Forecast(series("A", day0, 10, 12), 3)
	var ih *domain.InsufficientHistoryError
	require.True(t, errors.As(err, &ih))
	assert.Equal(t, "A", ih.SiteID)
	assert.Equal(t, 7, ih.Required)
	assert.Equal(t, 2, ih.Available)

	_, err = e.Forecast(nil, 3)
	assert.True(t, errors.As(err, &ih))
}

func TestEngine_InvalidHorizon(t *testing.T) {
	e := newTestEngine(t, 2, "")
	_, err := e.Forecast(series("A", day0, 1, 2), 0)
	assert.ErrorIs(t, err, domain.ErrInvalidHorizon)
}

func TestEngine_RejectsBadHistory(t *testing.T) {
	e := newTestEngine(t, 2, "")

	_, err := e.Forecast(series("A", day0, 1, -2, 3), 1)
	var nv *domain.NegativeVolumeError
	assert.True(t, errors.As(err, &nv))

	dup := append(series("A", day0, 1, 2), domain.Observation{SiteID: "A", Date: day0, Volume: 5})
	_, err = e.Forecast(dup, 1)
	var do *domain.DuplicateObservationError
	assert.True(t, errors.As(err, &do))

	mixed := append(series("A", day0, 1, 2), domain.Observation{SiteID: "B", Date: day0.AddDate(0, 0, 2), Volume: 5})
	_, err = e.Forecast(mixed, 1)
	var ms *domain.MixedSiteHistoryError
	require.True(t, errors.As(err, &ms))
	assert.Equal(t, "A", ms.SiteID)
	assert.Equal(t, "B", ms.Other)
	assert.False(t, errors.As(err, &do), "mixed sites are not a duplicate day")
	_, scoped := domain.SiteOf(err)
	assert.False(t, scoped)
}

func TestEngine_GapFallsBackToLastObserved(t *testing.T) {
	e := newTestEngine(t, 4, FallbackLastObserved)
	// day 1 missing; span still covers one season
	history := []domain.Observation{
		{SiteID: "A", Date: day0, Volume: 50},
		{SiteID: "A", Date: day0.AddDate(0, 0, 2), Volume: 60},
		{SiteID: "A", Date: day0.AddDate(0, 0, 3), Volume: 70},
	}

	recs, err := e.Forecast(history, 2)
	require.NoError(t, err)

	assert.Equal(t, domain.MethodSeasonal, recs[0].Method)
	assert.Equal(t, 50.0, recs[0].Value)

	assert.Equal(t, domain.MethodLastObservedFallback, recs[1].Method)
	assert.Equal(t, 70.0, recs[1].Value)
	assert.Equal(t, day0.AddDate(0, 0, 3), recs[1].SourceDate)
}

func TestEngine_GapFallsBackToTrailingMean(t *testing.T) {
	e := newTestEngine(t, 4, FallbackTrailingMean)
	history := []domain.Observation{
		{SiteID: "A", Date: day0, Volume: 50},
		{SiteID: "A", Date: day0.AddDate(0, 0, 2), Volume: 60},
		{SiteID: "A", Date: day0.AddDate(0, 0, 3), Volume: 70},
	}

	recs, err := e.Forecast(history, 2)
	require.NoError(t, err)

	assert.Equal(t, domain.MethodTrailingMeanFallback, recs[1].Method)
	assert.InDelta(t, 60.0, recs[1].Value, 1e-9)
	assert.True(t, recs[1].SourceDate.IsZero())
}

func TestEngine_Deterministic(t *testing.T) {
	e := newTestEngine(t, 7, "")
	history := series("A", day0, 5, 6, 7, 8, 9, 10, 11, 6, 7, 8, 9, 10, 11, 12)

	first, err := e.Forecast(history, 10)
	require.NoError(t, err)
	second, err := e.Forecast(history, 10)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEngine_IntervalsWidenWithVolatility(t *testing.T) {
	e := newTestEngine(t, 2, "")

	flat, err := e.Forecast(series("A", day0, 10, 10, 10, 10, 10, 10), 1)
	require.NoError(t, err)
	assert.Equal(t, flat[0].Value, flat[0].Lower)
	assert.Equal(t, flat[0].Value, flat[0].Upper)

	noisy, err := e.Forecast(series("A", day0, 10, 10, 2, 18, 10, 10), 1)
	require.NoError(t, err)
	assert.Less(t, noisy[0].Lower, noisy[0].Value)
	assert.Greater(t, noisy[0].Upper, noisy[0].Value)
	assert.GreaterOrEqual(t, noisy[0].Lower, 0.0)
}

func TestEngine_Predict(t *testing.T) {
	e := newTestEngine(t, 4, "")
	history := series("A", day0, 90, 100, 95, 100)

	rec, err := e.Predict(history, day0.AddDate(0, 0, 5))
	require.NoError(t, err)
	assert.Equal(t, 100.0, rec.Value)

	_, err = e.Predict(history, day0.AddDate(0, 0, 3))
	assert.Error(t, err)
}

func TestAggregateByDate(t *testing.T) {
	d1 := day0
	d2 := day0.AddDate(0, 0, 1)
	recs := []domain.ForecastRecord{
		{SiteID: "B", Date: d2, Value: 5, Lower: 4, Upper: 6},
		{SiteID: "A", Date: d1, Value: 10, Lower: 8, Upper: 12},
		{SiteID: "B", Date: d1, Value: 20, Lower: 18, Upper: 22},
	}

	totals := AggregateByDate(recs)
	require.Len(t, totals, 2)
	assert.Equal(t, d1, totals[0].Date)
	assert.Equal(t, 30.0, totals[0].Value)
	assert.Equal(t, 26.0, totals[0].Lower)
	assert.Equal(t, 2, totals[0].Sites)
	assert.Equal(t, 5.0, totals[1].Value)
}
