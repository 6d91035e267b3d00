package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tartarus-sandbox/pythia/pkg/domain"
)

// Required CSV columns
const (
	ColumnDate     = "date"
	ColumnSite     = "site"
	ColumnVolume   = "volume"
	ColumnCapacity = "capacity"
)

var requiredColumns = []string{ColumnDate, ColumnSite, ColumnVolume, ColumnCapacity}

// ErrEmptyInput indicates a CSV without a header row
var ErrEmptyInput = errors.New("input has no header row")

// SchemaError reports required columns absent from the header
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("missing required columns: %s", strings.Join(e.Missing, ", "))
}

// RowError locates a malformed field
type RowError struct {
	Line   int
	Column string
	Err    error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d: column %s: %v", e.Line, e.Column, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// Dataset is a validated daily volume file
type Dataset struct {
	Observations []domain.Observation     // sorted by site then date
	Capacities   []domain.CapacityProfile // one per site, sorted by site
}

// CapacityMap indexes the capacity profiles by site
func (d *Dataset) CapacityMap() map[string]domain.CapacityProfile {
	out := make(map[string]domain.CapacityProfile, len(d.Capacities))
	for _, c := range d.Capacities {
		out[c.SiteID] = c
	}
	return out
}

// History groups the observations per site
func (d *Dataset) History() map[string][]domain.Observation {
	return domain.GroupBySite(d.Observations)
}

// Range returns the first and last observed dates
func (d *Dataset) Range() domain.DateRange {
	var r domain.DateRange
	for i, o := range d.Observations {
		if i == 0 || o.Date.Before(r.Start) {
			r.Start = o.Date
		}
		if i == 0 || o.Date.After(r.End) {
			r.End = o.Date
		}
	}
	return r
}

// LoadFile reads and validates a daily volume CSV
func LoadFile(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	ds, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ds, nil
}

// Load reads `date,site,volume,capacity` rows. Extra columns are ignored.
// Negative volumes, non-positive capacities and repeated site-days are rejected.
// The capacity of a site is its most common value; ties go to the smaller value.
func Load(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrEmptyInput
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	index, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	type key struct {
		site string
		day  time.Time
	}
	seen := make(map[key]struct{})
	capCounts := make(map[string]map[float64]int)
	var obs []domain.Observation

	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		o, capacity, err := parseRow(record, index, line)
		if err != nil {
			return nil, err
		}

		k := key{o.SiteID, o.Date}
		if _, dup := seen[k]; dup {
			return nil, fmt.Errorf("line %d: %w", line, &domain.DuplicateObservationError{SiteID: o.SiteID, Date: o.Date})
		}
		seen[k] = struct{}{}

		if capCounts[o.SiteID] == nil {
			capCounts[o.SiteID] = make(map[float64]int)
		}
		capCounts[o.SiteID][capacity]++
		obs = append(obs, o)
	}

	domain.SortObservations(obs)

	caps := make([]domain.CapacityProfile, 0, len(capCounts))
	for _, site := range domain.SiteIDs(capCounts) {
		caps = append(caps, domain.CapacityProfile{SiteID: site, Capacity: mode(capCounts[site])})
	}

	return &Dataset{Observations: obs, Capacities: caps}, nil
}

func columnIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, ok := index[name]; !ok {
			index[name] = i
		}
	}

	var missing []string
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &SchemaError{Missing: missing}
	}
	return index, nil
}

func parseRow(record []string, index map[string]int, line int) (domain.Observation, float64, error) {
	field := func(col string) string {
		return strings.TrimSpace(record[index[col]])
	}

	site := field(ColumnSite)
	if site == "" {
		return domain.Observation{}, 0, &RowError{Line: line, Column: ColumnSite, Err: errors.New("empty site")}
	}

	day, err := domain.ParseDay(field(ColumnDate))
	if err != nil {
		return domain.Observation{}, 0, &RowError{Line: line, Column: ColumnDate, Err: err}
	}

	volume, err := parseNumber(field(ColumnVolume))
	if err != nil {
		return domain.Observation{}, 0, &RowError{Line: line, Column: ColumnVolume, Err: err}
	}
	if volume < 0 {
		return domain.Observation{}, 0, fmt.Errorf("line %d: %w", line, &domain.NegativeVolumeError{SiteID: site, Date: day, Volume: volume})
	}

	capacity, err := parseNumber(field(ColumnCapacity))
	if err != nil {
		return domain.Observation{}, 0, &RowError{Line: line, Column: ColumnCapacity, Err: err}
	}
	if capacity <= 0 {
		return domain.Observation{}, 0, fmt.Errorf("line %d: %w", line, &domain.InvalidCapacityError{SiteID: site, Capacity: capacity})
	}

	return domain.Observation{SiteID: site, Date: day, Volume: volume}, capacity, nil
}

func parseNumber(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not a finite number: %q", s)
	}
	return v, nil
}

func mode(counts map[float64]int) float64 {
	values := make([]float64, 0, len(counts))
	for v := range counts {
		values = append(values, v)
	}
	sort.Float64s(values)

	best := values[0]
	for _, v := range values[1:] {
		if counts[v] > counts[best] {
			best = v
		}
	}
	return best
}
