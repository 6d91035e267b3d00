package evaluator

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/tartarus-sandbox/pythia/pkg/domain"
)

// Comparison is one backtest step: a one-step forecast against the actual.
type Comparison struct {
	SiteID   string        `json:"site_id"`
	Date     time.Time     `json:"date"`
	Actual   float64       `json:"actual"`
	Forecast float64       `json:"forecast_value"`
	Lower    float64       `json:"lower"`
	Upper    float64       `json:"upper"`
	Method   domain.Method `json:"method"`
}

// Residual is actual minus forecast.
func (c Comparison) Residual() float64 {
	return c.Actual - c.Forecast
}

// MetricResult holds the calculated error metrics
type MetricResult struct {
	MAE      float64 // Mean Absolute Error
	RMSE     float64 // Root Mean Square Error
	MAPE     float64 // Mean Absolute Percentage Error, over non-zero actuals only
	Coverage float64 // Percentage of actuals within prediction intervals
	N        int     // comparisons
	MAPEN    int     // comparisons with a non-zero actual
}

// CalculateMetrics computes accuracy metrics over a set of comparisons.
// Zero actuals count towards MAE, RMSE and coverage but are left out of
// MAPE, whose percentage error is undefined there. MAPE is 0 when no
// comparison has a non-zero actual.
func CalculateMetrics(comparisons []Comparison) MetricResult {
	if len(comparisons) == 0 {
		return MetricResult{}
	}

	absErrors := make([]float64, 0, len(comparisons))
	sqErrors := make([]float64, 0, len(comparisons))
	var pctErrors []float64
	var covered int

	for _, c := range comparisons {
		e := c.Residual()
		absErrors = append(absErrors, math.Abs(e))
		sqErrors = append(sqErrors, e*e)

		if c.Actual != 0 {
			pctErrors = append(pctErrors, math.Abs(e)/math.Abs(c.Actual)*100.0)
		}
		if c.Actual >= c.Lower && c.Actual <= c.Upper {
			covered++
		}
	}

	result := MetricResult{
		MAE:      stat.Mean(absErrors, nil),
		RMSE:     math.Sqrt(stat.Mean(sqErrors, nil)),
		Coverage: float64(covered) / float64(len(comparisons)) * 100.0,
		N:        len(comparisons),
		MAPEN:    len(pctErrors),
	}
	if len(pctErrors) > 0 {
		result.MAPE = stat.Mean(pctErrors, nil)
	}
	return result
}
