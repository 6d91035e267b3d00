package domain

import (
	"math"
	"sort"
	"time"
)

// Tiers

type Tier string

const (
	TierGreen  Tier = "GREEN"
	TierYellow Tier = "YELLOW"
	TierRed    Tier = "RED"
)

// Severity orders tiers so that RED sorts first.
func (t Tier) Severity() int {
	switch t {
	case TierRed:
		return 2
	case TierYellow:
		return 1
	default:
		return 0
	}
}

func (t Tier) Valid() bool {
	return t == TierGreen || t == TierYellow || t == TierRed
}

// Forecast methods

type Method string

const (
	MethodSeasonal             Method = "seasonal"
	MethodLastObservedFallback Method = "last-observed-fallback"
	MethodTrailingMeanFallback Method = "trailing-mean-fallback"
)

// Demand sources

type DemandSource string

const (
	SourceForecast DemandSource = "forecast"
	SourceActual   DemandSource = "actual"
)

// ScopeOverall is the BacktestResult scope for the pooled result.
const ScopeOverall = "overall"

// Day normalizes t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD date.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return Day(t), nil
}

// DaysBetween returns the number of whole days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}

const DateLayout = "2006-01-02"

// Inputs

type Observation struct {
	SiteID string    `json:"site_id"`
	Date   time.Time `json:"date"`
	Volume float64   `json:"volume"`
}

type CapacityProfile struct {
	SiteID   string  `json:"site_id"`
	Capacity float64 `json:"capacity"`
}

// NewCapacityProfile rejects non-positive capacities.
func NewCapacityProfile(siteID string, capacity float64) (CapacityProfile, error) {
	if capacity <= 0 {
		return CapacityProfile{}, &InvalidCapacityError{SiteID: siteID, Capacity: capacity}
	}
	return CapacityProfile{SiteID: siteID, Capacity: capacity}, nil
}

// Derived records

type ForecastRecord struct {
	SiteID     string    `json:"site_id"`
	Date       time.Time `json:"date"`
	Value      float64   `json:"forecast_value"`
	Lower      float64   `json:"lower"`
	Upper      float64   `json:"upper"`
	Method     Method    `json:"method"`
	SourceDate time.Time `json:"source_date"` // observation the value was traced to; zero for trailing mean
}

type UtilizationRecord struct {
	SiteID   string       `json:"site_id"`
	Date     time.Time    `json:"date"`
	Demand   float64      `json:"demand_value"`
	Source   DemandSource `json:"source"`
	Capacity float64      `json:"capacity"`
	Ratio    float64      `json:"utilization_ratio"`
}

// OverCapacity reports a ratio at or above overAt, the YELLOW/RED cut point.
// An undefined ratio counts as over, matching its RED tier.
func (u UtilizationRecord) OverCapacity(overAt float64) bool {
	return math.IsNaN(u.Ratio) || u.Ratio >= overAt
}

// NearCapacity reports a ratio in [nearAt, overAt), the YELLOW band.
func (u UtilizationRecord) NearCapacity(nearAt, overAt float64) bool {
	return u.Ratio >= nearAt && u.Ratio < overAt
}

type RiskAssessment struct {
	SiteID   string    `json:"site_id"`
	Date     time.Time `json:"date"`
	Ratio    float64   `json:"utilization_ratio"`
	Tier     Tier      `json:"tier"`
	Demand   float64   `json:"demand_value"`
	Capacity float64   `json:"capacity"`
}

// Overage is demand above capacity, zero when under.
func (a RiskAssessment) Overage() float64 {
	if a.Demand > a.Capacity {
		return a.Demand - a.Capacity
	}
	return 0
}

type ActionRecommendation struct {
	SiteID       string    `json:"site_id"`
	Date         time.Time `json:"date"`
	Tier         Tier      `json:"tier"`
	Ratio        float64   `json:"utilization_ratio"`
	Action       string    `json:"action"`
	Rationale    string    `json:"rationale"`
	PriorityRank int       `json:"priority_rank"`
}

type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type BacktestResult struct {
	Scope    string    `json:"scope"`
	MAE      float64   `json:"mae"`
	MAPE     float64   `json:"mape"`
	RMSE     float64   `json:"rmse"`
	Coverage float64   `json:"coverage"`
	N        int       `json:"n_observations"`
	MAPEN    int       `json:"n_mape"`
	Window   DateRange `json:"evaluation_window"`
}

// Exclusion records a site dropped from part of a run.
type Exclusion struct {
	SiteID string `json:"site_id"`
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// Ordering helpers

// SortObservations orders by site then date.
func SortObservations(obs []Observation) {
	sort.SliceStable(obs, func(i, j int) bool {
		if obs[i].SiteID != obs[j].SiteID {
			return obs[i].SiteID < obs[j].SiteID
		}
		return obs[i].Date.Before(obs[j].Date)
	})
}

// SortForecasts orders by site then date.
func SortForecasts(recs []ForecastRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].SiteID != recs[j].SiteID {
			return recs[i].SiteID < recs[j].SiteID
		}
		return recs[i].Date.Before(recs[j].Date)
	})
}

// GroupBySite splits observations per site, each group ordered by date.
func GroupBySite(obs []Observation) map[string][]Observation {
	out := make(map[string][]Observation)
	for _, o := range obs {
		out[o.SiteID] = append(out[o.SiteID], o)
	}
	for site := range out {
		group := out[site]
		sort.SliceStable(group, func(i, j int) bool { return group[i].Date.Before(group[j].Date) })
	}
	return out
}

// SiteIDs returns the sorted keys of a per-site map.
func SiteIDs[V any](m map[string]V) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
