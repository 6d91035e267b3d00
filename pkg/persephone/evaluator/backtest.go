package evaluator

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/tartarus-sandbox/pythia/pkg/domain"
)

// Forecaster is the one-step forecast the backtest replays.
type Forecaster interface {
	Predict(history []domain.Observation, date time.Time) (domain.ForecastRecord, error)
	SeasonLength() int
}

// Backtester replays the forecaster against held-out history
type Backtester struct {
	forecaster Forecaster
}

// NewBacktester creates a new backtester
func NewBacktester(forecaster Forecaster) *Backtester {
	return &Backtester{
		forecaster: forecaster,
	}
}

// StageBacktest names the backtest stage in exclusions.
const StageBacktest = "backtest"

// Run backtests every site over the last window days of its history.
// Sites without enough history before the window are excluded and listed in
// the report; any other error aborts the run.
func (b *Backtester) Run(history map[string][]domain.Observation, window int) (*Report, error) {
	if window < 1 {
		return nil, domain.ErrInvalidWindow
	}

	var results []SiteResult
	var exclusions []domain.Exclusion
	for _, site := range domain.SiteIDs(history) {
		res, err := b.RunSite(site, history[site], window)
		if err != nil {
			var ih *domain.InsufficientHistoryError
			if errors.As(err, &ih) {
				exclusions = append(exclusions, domain.Exclusion{SiteID: site, Stage: StageBacktest, Reason: err.Error()})
				continue
			}
			return nil, err
		}
		results = append(results, *res)
	}

	report, err := Aggregate(results, exclusions)
	if err != nil {
		return nil, fmt.Errorf("%w (%d sites excluded)", err, len(exclusions))
	}
	return report, nil
}

// RunSite backtests one site. For every observed day d in the final window
// days, the known history is every observation before d.
func (b *Backtester) RunSite(site string, obs []domain.Observation, window int) (*SiteResult, error) {
	if window < 1 {
		return nil, domain.ErrInvalidWindow
	}
	season := b.forecaster.SeasonLength()
	required := season + window

	if len(obs) == 0 {
		return nil, &domain.InsufficientHistoryError{SiteID: site, Required: required}
	}

	sorted := make([]domain.Observation, len(obs))
	for i, o := range obs {
		if o.Volume < 0 || math.IsNaN(o.Volume) {
			return nil, &domain.NegativeVolumeError{SiteID: site, Date: o.Date, Volume: o.Volume}
		}
		o.SiteID = site
		o.Date = domain.Day(o.Date)
		sorted[i] = o
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	first, last := sorted[0].Date, sorted[len(sorted)-1].Date
	windowStart := last.AddDate(0, 0, -(window - 1))

	cut := sort.Search(len(sorted), func(i int) bool { return !sorted[i].Date.Before(windowStart) })
	if cut == 0 || domain.DaysBetween(first, sorted[cut-1].Date)+1 < season {
		return nil, &domain.InsufficientHistoryError{
			SiteID:    site,
			Required:  required,
			Available: domain.DaysBetween(first, last) + 1,
		}
	}

	comparisons := make([]Comparison, 0, len(sorted)-cut)
	for i := cut; i < len(sorted); i++ {
		actual := sorted[i]
		pred, err := b.forecaster.Predict(sorted[:i], actual.Date)
		if err != nil {
			return nil, fmt.Errorf("backtest of site %s on %s: %w", site, actual.Date.Format(domain.DateLayout), err)
		}
		comparisons = append(comparisons, Comparison{
			SiteID:   site,
			Date:     actual.Date,
			Actual:   actual.Volume,
			Forecast: pred.Value,
			Lower:    pred.Lower,
			Upper:    pred.Upper,
			Method:   pred.Method,
		})
	}

	evalWindow := domain.DateRange{Start: sorted[cut].Date, End: last}
	return &SiteResult{
		Result:      toResult(site, CalculateMetrics(comparisons), evalWindow),
		Comparisons: comparisons,
	}, nil
}
