package clio

import (
	"math"
	"sort"
	"strconv"

	"github.com/tartarus-sandbox/pythia/pkg/domain"
	"github.com/tartarus-sandbox/pythia/pkg/persephone"
	"github.com/tartarus-sandbox/pythia/pkg/persephone/evaluator"
	"github.com/tartarus-sandbox/pythia/pkg/themis"
)

// DefaultTopRisk is the number of rows kept in the top risk table
const DefaultTopRisk = 25

func ForecastTable(recs []domain.ForecastRecord) *Table {
	t := &Table{
		Name:   TableForecastBySite,
		Header: []string{"date", "site", "forecast_value", "lower", "upper", "method", "source_date"},
	}
	for _, r := range recs {
		t.Rows = append(t.Rows, []string{
			formatDate(r.Date), r.SiteID, formatFloat(r.Value), formatFloat(r.Lower), formatFloat(r.Upper),
			string(r.Method), formatDate(r.SourceDate),
		})
	}
	return t
}

func OverallForecastTable(totals []persephone.DailyTotal) *Table {
	t := &Table{
		Name:   TableForecastOverall,
		Header: []string{"date", "forecast_value", "lower", "upper", "sites"},
	}
	for _, d := range totals {
		t.Rows = append(t.Rows, []string{
			formatDate(d.Date), formatFloat(d.Value), formatFloat(d.Lower), formatFloat(d.Upper), strconv.Itoa(d.Sites),
		})
	}
	return t
}

// UtilizationTable flags rows in the YELLOW band as near capacity and rows
// in the RED band as over capacity, so the flags agree with the tier.
func UtilizationTable(recs []domain.UtilizationRecord, cuts themis.Thresholds) *Table {
	t := &Table{
		Name:   TableUtilization,
		Header: []string{"date", "site", "demand_value", "source", "capacity", "utilization_ratio", "near_capacity", "over_capacity"},
	}
	for _, r := range recs {
		t.Rows = append(t.Rows, []string{
			formatDate(r.Date), r.SiteID, formatFloat(r.Demand), string(r.Source), formatFloat(r.Capacity),
			formatFloat(r.Ratio), formatBool(r.NearCapacity(cuts.GreenYellow, cuts.YellowRed)), formatBool(r.OverCapacity(cuts.YellowRed)),
		})
	}
	return t
}

func RiskTable(assessments []domain.RiskAssessment) *Table {
	return riskTable(TableRiskAssessments, assessments)
}

// TopRiskTable keeps the n riskiest assessments, see TopRisks
func TopRiskTable(assessments []domain.RiskAssessment, n int) *Table {
	return riskTable(TableTopRisk, TopRisks(assessments, n))
}

func riskTable(name string, assessments []domain.RiskAssessment) *Table {
	t := &Table{
		Name:   name,
		Header: []string{"date", "site", "demand_value", "capacity", "utilization_ratio", "tier", "overage"},
	}
	for _, a := range assessments {
		t.Rows = append(t.Rows, []string{
			formatDate(a.Date), a.SiteID, formatFloat(a.Demand), formatFloat(a.Capacity),
			formatFloat(a.Ratio), string(a.Tier), formatFloat(a.Overage()),
		})
	}
	return t
}

// TopRisks orders by ratio then demand, both descending, and keeps the first n.
// NaN ratios sort first; site and date break the remaining ties.
func TopRisks(assessments []domain.RiskAssessment, n int) []domain.RiskAssessment {
	sorted := make([]domain.RiskAssessment, len(assessments))
	copy(sorted, assessments)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		an, bn := math.IsNaN(a.Ratio), math.IsNaN(b.Ratio)
		if an != bn {
			return an
		}
		if !an && a.Ratio != b.Ratio {
			return a.Ratio > b.Ratio
		}
		if a.Demand != b.Demand {
			return a.Demand > b.Demand
		}
		if a.SiteID != b.SiteID {
			return a.SiteID < b.SiteID
		}
		return a.Date.Before(b.Date)
	})
	if n > 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func RecommendationTable(recs []domain.ActionRecommendation) *Table {
	t := &Table{
		Name:   TableRecommendations,
		Header: []string{"priority_rank", "date", "site", "tier", "utilization_ratio", "action", "rationale"},
	}
	for _, r := range recs {
		t.Rows = append(t.Rows, []string{
			strconv.Itoa(r.PriorityRank), formatDate(r.Date), r.SiteID, string(r.Tier),
			formatFloat(r.Ratio), r.Action, r.Rationale,
		})
	}
	return t
}

var backtestHeader = []string{"scope", "mae", "mape", "rmse", "coverage", "n_observations", "n_mape", "window_start", "window_end"}

func BacktestSiteTable(results []domain.BacktestResult) *Table {
	return backtestTable(TableBacktestBySite, results)
}

func BacktestOverallTable(overall domain.BacktestResult) *Table {
	return backtestTable(TableBacktestOverall, []domain.BacktestResult{overall})
}

func backtestTable(name string, results []domain.BacktestResult) *Table {
	t := &Table{Name: name, Header: backtestHeader}
	for _, r := range results {
		t.Rows = append(t.Rows, []string{
			r.Scope, formatFloat(r.MAE), formatFloat(r.MAPE), formatFloat(r.RMSE), formatFloat(r.Coverage),
			strconv.Itoa(r.N), strconv.Itoa(r.MAPEN), formatDate(r.Window.Start), formatDate(r.Window.End),
		})
	}
	return t
}

func ComparisonTable(comparisons []evaluator.Comparison) *Table {
	t := &Table{
		Name:   TableBacktestComparison,
		Header: []string{"date", "site", "actual", "forecast_value", "lower", "upper", "method"},
	}
	for _, c := range comparisons {
		t.Rows = append(t.Rows, []string{
			formatDate(c.Date), c.SiteID, formatFloat(c.Actual), formatFloat(c.Forecast),
			formatFloat(c.Lower), formatFloat(c.Upper), string(c.Method),
		})
	}
	return t
}

func ExclusionTable(exclusions []domain.Exclusion) *Table {
	t := &Table{
		Name:   TableExclusions,
		Header: []string{"site", "stage", "reason"},
	}
	for _, e := range exclusions {
		t.Rows = append(t.Rows, []string{e.SiteID, e.Stage, e.Reason})
	}
	return t
}
