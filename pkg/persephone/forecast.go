package persephone

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/tartarus-sandbox/pythia/pkg/domain"
)

// FallbackPolicy selects what the engine does when the seasonal reference day is missing.
type FallbackPolicy string

const (
	// FallbackLastObserved uses the most recent observation of the site
	FallbackLastObserved FallbackPolicy = "last-observed"
	// FallbackTrailingMean uses the mean of the last season's worth of observations
	FallbackTrailingMean FallbackPolicy = "trailing-mean"
)

const (
	// DefaultSeasonLength is one week of daily observations
	DefaultSeasonLength = 7
	// DefaultIntervalZ gives an approximately 95% interval
	DefaultIntervalZ = 1.96

	residualWindow     = 28
	minRobustResiduals = 10
)

// EngineConfig configures the seasonal-naive forecast engine
type EngineConfig struct {
	SeasonLength int
	Fallback     FallbackPolicy
	IntervalZ    float64
}

// Engine produces seasonal-naive forecasts. Every value is traceable to a
// single observation (or, under the trailing-mean fallback, to the last
// season of observations) and the Method field records which branch was used.
type Engine struct {
	season   int
	fallback FallbackPolicy
	z        float64
}

// NewEngine validates the configuration and creates an engine
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.SeasonLength < 1 {
		return nil, domain.ErrInvalidSeason
	}
	switch cfg.Fallback {
	case "":
		cfg.Fallback = FallbackLastObserved
	case FallbackLastObserved, FallbackTrailingMean:
	default:
		return nil, fmt.Errorf("unknown fallback policy %q", cfg.Fallback)
	}
	if cfg.IntervalZ <= 0 {
		cfg.IntervalZ = DefaultIntervalZ
	}
	return &Engine{
		season:   cfg.SeasonLength,
		fallback: cfg.Fallback,
		z:        cfg.IntervalZ,
	}, nil
}

// SeasonLength returns the configured season length in days
func (e *Engine) SeasonLength() int {
	return e.season
}

// Fallback returns the configured fallback policy
func (e *Engine) Fallback() FallbackPolicy {
	return e.fallback
}

// siteHistory is a validated, date-ordered history for one site
type siteHistory struct {
	site   string
	obs    []domain.Observation
	byDate map[time.Time]float64
	sigma  float64
}

func (h *siteHistory) last() domain.Observation {
	return h.obs[len(h.obs)-1]
}

// Forecast produces one record per day for the horizon days following the
// last observation. history must belong to a single site.
func (e *Engine) Forecast(history []domain.Observation, horizon int) ([]domain.ForecastRecord, error) {
	if horizon < 1 {
		return nil, domain.ErrInvalidHorizon
	}

	h, err := e.prepare(history)
	if err != nil {
		return nil, err
	}

	last := h.last().Date
	records := make([]domain.ForecastRecord, 0, horizon)
	for i := 1; i <= horizon; i++ {
		records = append(records, e.predict(h, last.AddDate(0, 0, i)))
	}
	return records, nil
}

// Predict produces a single forecast for date, which must fall after the
// last observation in history.
func (e *Engine) Predict(history []domain.Observation, date time.Time) (domain.ForecastRecord, error) {
	h, err := e.prepare(history)
	if err != nil {
		return domain.ForecastRecord{}, err
	}

	date = domain.Day(date)
	if !date.After(h.last().Date) {
		return domain.ForecastRecord{}, fmt.Errorf("forecast date %s for site %s is not after last observation %s",
			date.Format(domain.DateLayout), h.site, h.last().Date.Format(domain.DateLayout))
	}
	return e.predict(h, date), nil
}

func (e *Engine) prepare(history []domain.Observation) (*siteHistory, error) {
	if len(history) == 0 {
		return nil, &domain.InsufficientHistoryError{Required: e.season}
	}

	site := history[0].SiteID
	obs := make([]domain.Observation, len(history))
	byDate := make(map[time.Time]float64, len(history))

	for i, o := range history {
		day := domain.Day(o.Date)
		if o.SiteID != site {
			return nil, &domain.MixedSiteHistoryError{SiteID: site, Other: o.SiteID, Date: day}
		}
		if o.Volume < 0 || math.IsNaN(o.Volume) {
			return nil, &domain.NegativeVolumeError{SiteID: site, Date: day, Volume: o.Volume}
		}
		if _, dup := byDate[day]; dup {
			return nil, &domain.DuplicateObservationError{SiteID: site, Date: day}
		}
		byDate[day] = o.Volume
		obs[i] = domain.Observation{SiteID: site, Date: day, Volume: o.Volume}
	}

	sort.Slice(obs, func(i, j int) bool { return obs[i].Date.Before(obs[j].Date) })

	span := domain.DaysBetween(obs[0].Date, obs[len(obs)-1].Date) + 1
	if span < e.season {
		return nil, &domain.InsufficientHistoryError{SiteID: site, Required: e.season, Available: span}
	}

	h := &siteHistory{site: site, obs: obs, byDate: byDate}
	h.sigma = e.residualSigma(h)
	return h, nil
}

// predict resolves the seasonal reference day: the same position in the most
// recent cycle that ends on or before the last observation.
func (e *Engine) predict(h *siteHistory, date time.Time) domain.ForecastRecord {
	last := h.last()
	gap := domain.DaysBetween(last.Date, date)
	cycles := (gap + e.season - 1) / e.season
	ref := date.AddDate(0, 0, -cycles*e.season)

	rec := domain.ForecastRecord{SiteID: h.site, Date: date}
	if v, ok := h.byDate[ref]; ok {
		rec.Value = v
		rec.Method = domain.MethodSeasonal
		rec.SourceDate = ref
	} else {
		switch e.fallback {
		case FallbackTrailingMean:
			rec.Value = e.trailingMean(h)
			rec.Method = domain.MethodTrailingMeanFallback
		default:
			rec.Value = last.Volume
			rec.Method = domain.MethodLastObservedFallback
			rec.SourceDate = last.Date
		}
	}

	margin := e.z * h.sigma
	rec.Lower = math.Max(0, rec.Value-margin)
	rec.Upper = rec.Value + margin
	return rec
}

func (e *Engine) trailingMean(h *siteHistory) float64 {
	start := len(h.obs) - e.season
	if start < 0 {
		start = 0
	}
	values := make([]float64, 0, len(h.obs)-start)
	for _, o := range h.obs[start:] {
		values = append(values, o.Volume)
	}
	return stat.Mean(values, nil)
}

// residualSigma estimates forecast volatility from in-sample seasonal
// residuals y(t) - y(t-season), using the most recent 28 when enough exist.
func (e *Engine) residualSigma(h *siteHistory) float64 {
	var residuals []float64
	for _, o := range h.obs {
		if prev, ok := h.byDate[o.Date.AddDate(0, 0, -e.season)]; ok {
			residuals = append(residuals, o.Volume-prev)
		}
	}

	switch {
	case len(residuals) < 2:
		return 0
	case len(residuals) < minRobustResiduals:
		return stat.StdDev(residuals, nil)
	}
	if len(residuals) > residualWindow {
		residuals = residuals[len(residuals)-residualWindow:]
	}
	return stat.StdDev(residuals, nil)
}

// DailyTotal is the forecast summed across sites for one day
type DailyTotal struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"forecast_value"`
	Lower float64   `json:"lower"`
	Upper float64   `json:"upper"`
	Sites int       `json:"sites"`
}

// AggregateByDate sums site forecasts per date, ordered by date
func AggregateByDate(records []domain.ForecastRecord) []DailyTotal {
	byDate := make(map[time.Time]*DailyTotal)
	for _, r := range records {
		t, ok := byDate[r.Date]
		if !ok {
			t = &DailyTotal{Date: r.Date}
			byDate[r.Date] = t
		}
		t.Value += r.Value
		t.Lower += r.Lower
		t.Upper += r.Upper
		t.Sites++
	}

	totals := make([]DailyTotal, 0, len(byDate))
	for _, t := range byDate {
		totals = append(totals, *t)
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i].Date.Before(totals[j].Date) })
	return totals
}
