package evaluator

import (
	"sort"

	"github.com/tartarus-sandbox/pythia/pkg/domain"
)

// SiteResult is the backtest of a single site.
type SiteResult struct {
	Result      domain.BacktestResult
	Comparisons []Comparison
}

// Report contains the results of a backtest. The overall result is computed
// from the pooled comparisons, not by averaging per-site metrics.
type Report struct {
	Overall     domain.BacktestResult
	PerSite     []domain.BacktestResult // ordered by site
	Exclusions  []domain.Exclusion
	Comparisons []Comparison // ordered by site then date
}

// BySite returns the per-site results keyed by site.
func (r *Report) BySite() map[string]domain.BacktestResult {
	out := make(map[string]domain.BacktestResult, len(r.PerSite))
	for _, res := range r.PerSite {
		out[res.Scope] = res
	}
	return out
}

func toResult(scope string, m MetricResult, window domain.DateRange) domain.BacktestResult {
	return domain.BacktestResult{
		Scope:    scope,
		MAE:      m.MAE,
		MAPE:     m.MAPE,
		RMSE:     m.RMSE,
		Coverage: m.Coverage,
		N:        m.N,
		MAPEN:    m.MAPEN,
		Window:   window,
	}
}

// Aggregate combines per-site results into a report. It fails with
// ErrNoBacktestData when no site produced a comparison.
func Aggregate(results []SiteResult, exclusions []domain.Exclusion) (*Report, error) {
	sorted := make([]SiteResult, len(results))
	copy(sorted, results)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Result.Scope < sorted[j].Result.Scope })

	report := &Report{Exclusions: exclusions}
	var window domain.DateRange
	for _, res := range sorted {
		if len(res.Comparisons) == 0 {
			continue
		}
		report.PerSite = append(report.PerSite, res.Result)
		report.Comparisons = append(report.Comparisons, res.Comparisons...)
		window = widen(window, res.Result.Window)
	}

	if len(report.Comparisons) == 0 {
		return nil, domain.ErrNoBacktestData
	}

	report.Overall = toResult(domain.ScopeOverall, CalculateMetrics(report.Comparisons), window)
	return report, nil
}

func widen(acc, w domain.DateRange) domain.DateRange {
	if acc.Start.IsZero() || w.Start.Before(acc.Start) {
		acc.Start = w.Start
	}
	if acc.End.IsZero() || w.End.After(acc.End) {
		acc.End = w.End
	}
	return acc
}
