package clio

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"path"
	"strconv"
	"time"

	"github.com/tartarus-sandbox/pythia/pkg/domain"
	"github.com/tartarus-sandbox/pythia/pkg/erebus"
)

// Table names, also the artifact file stems
const (
	TableForecastBySite     = "forecast_by_site_day"
	TableForecastOverall    = "forecast_overall_day"
	TableUtilization        = "utilization_by_site_day"
	TableRiskAssessments    = "risk_assessments"
	TableRecommendations    = "decision_recommendations"
	TableTopRisk            = "top_risk"
	TableBacktestBySite     = "backtest_by_site"
	TableBacktestOverall    = "backtest_overall"
	TableExclusions         = "exclusions"
	TableBacktestComparison = "backtest_comparisons"
)

// Table is a flat, already-ordered rendering of one record type
type Table struct {
	Name   string
	Header []string
	Rows   [][]string
}

// Filename is the CSV artifact name of the table
func (t *Table) Filename() string {
	return t.Name + ".csv"
}

// WriteCSV writes the header and every row
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("failed to write table %s: %w", t.Name, err)
	}
	return nil
}

// CSV renders the table into memory
func (t *Table) CSV() ([]byte, error) {
	var buf bytes.Buffer
	if err := t.WriteCSV(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Publish writes every table under prefix and returns the keys written
func Publish(ctx context.Context, store erebus.Store, prefix string, tables []*Table) ([]string, error) {
	keys := make([]string, 0, len(tables))
	for _, t := range tables {
		data, err := t.CSV()
		if err != nil {
			return keys, err
		}
		key := path.Join(prefix, t.Filename())
		if err := store.Put(ctx, key, bytes.NewReader(data)); err != nil {
			return keys, fmt.Errorf("failed to publish %s: %w", key, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(domain.DateLayout)
}

// formatFloat rounds to six decimals so float noise stays out of the tables
func formatFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strconv.FormatFloat(math.Round(v*1e6)/1e6, 'f', -1, 64)
}

func formatBool(b bool) string {
	return strconv.FormatBool(b)
}
