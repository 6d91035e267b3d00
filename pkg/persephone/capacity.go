package persephone

import (
	"math"
	"time"

	"github.com/tartarus-sandbox/pythia/pkg/domain"
)

// DemandPoint is a single site-day demand value, forecast or actual
type DemandPoint struct {
	SiteID string
	Date   time.Time
	Value  float64
	Source domain.DemandSource
}

// DemandFromForecasts converts forecast records into demand points
func DemandFromForecasts(records []domain.ForecastRecord) []DemandPoint {
	points := make([]DemandPoint, len(records))
	for i, r := range records {
		points[i] = DemandPoint{SiteID: r.SiteID, Date: r.Date, Value: r.Value, Source: domain.SourceForecast}
	}
	return points
}

// DemandFromObservations converts actuals into demand points for historical evaluation
func DemandFromObservations(obs []domain.Observation) []DemandPoint {
	points := make([]DemandPoint, len(obs))
	for i, o := range obs {
		points[i] = DemandPoint{SiteID: o.SiteID, Date: o.Date, Value: o.Volume, Source: domain.SourceActual}
	}
	return points
}

// CapacityEvaluator computes utilization ratios against fixed site capacities
type CapacityEvaluator struct{}

// NewCapacityEvaluator creates a capacity evaluator
func NewCapacityEvaluator() *CapacityEvaluator {
	return &CapacityEvaluator{}
}

// Evaluate returns one utilization record per demand point, in input order.
// A site without a capacity profile fails the whole call with UnknownSiteError.
func (c *CapacityEvaluator) Evaluate(demand []DemandPoint, capacities map[string]domain.CapacityProfile) ([]domain.UtilizationRecord, error) {
	records := make([]domain.UtilizationRecord, 0, len(demand))
	for _, d := range demand {
		profile, ok := capacities[d.SiteID]
		if !ok {
			return nil, &domain.UnknownSiteError{SiteID: d.SiteID}
		}
		if profile.Capacity <= 0 || math.IsNaN(profile.Capacity) {
			return nil, &domain.InvalidCapacityError{SiteID: d.SiteID, Capacity: profile.Capacity}
		}
		if d.Value < 0 || math.IsNaN(d.Value) {
			return nil, &domain.NegativeVolumeError{SiteID: d.SiteID, Date: d.Date, Volume: d.Value}
		}

		source := d.Source
		if source == "" {
			source = domain.SourceForecast
		}
		records = append(records, domain.UtilizationRecord{
			SiteID:   d.SiteID,
			Date:     domain.Day(d.Date),
			Demand:   d.Value,
			Source:   source,
			Capacity: profile.Capacity,
			Ratio:    d.Value / profile.Capacity,
		})
	}
	return records, nil
}
