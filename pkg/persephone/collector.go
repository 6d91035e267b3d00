package persephone

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"golang.org/x/time/rate"

	"github.com/tartarus-sandbox/pythia/pkg/domain"
	"github.com/tartarus-sandbox/pythia/pkg/hermes"
)

// DefaultSiteLabel is the series label that carries the site id
const DefaultSiteLabel = "site"

// MetricsCollector fetches daily per-site demand from a metrics backend
type MetricsCollector interface {
	// CollectDaily returns one observation per site and day in [start, end]
	CollectDaily(ctx context.Context, query string, start, end time.Time) ([]domain.Observation, error)
}

// PrometheusCollector implements MetricsCollector for Prometheus. The query
// should already aggregate to a daily total per site, e.g.
// sum by (site) (increase(shipments_total[1d])).
type PrometheusCollector struct {
	api       v1.API
	siteLabel model.LabelName
	limiter   *rate.Limiter
	logger    hermes.Logger
}

// CollectorConfig holds configuration for the PrometheusCollector
type CollectorConfig struct {
	Address   string
	SiteLabel string
	QPS       float64 // zero disables rate limiting
	Logger    hermes.Logger
}

// NewPrometheusCollector creates a new collector using the given address
func NewPrometheusCollector(cfg CollectorConfig) (*PrometheusCollector, error) {
	client, err := api.NewClient(api.Config{
		Address: cfg.Address,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus client: %w", err)
	}
	return newPrometheusCollector(v1.NewAPI(client), cfg), nil
}

func newPrometheusCollector(promAPI v1.API, cfg CollectorConfig) *PrometheusCollector {
	if cfg.SiteLabel == "" {
		cfg.SiteLabel = DefaultSiteLabel
	}
	if cfg.Logger == nil {
		cfg.Logger = hermes.NewNoopLogger()
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.QPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.QPS), 1)
	}

	return &PrometheusCollector{
		api:       promAPI,
		siteLabel: model.LabelName(cfg.SiteLabel),
		limiter:   limiter,
		logger:    cfg.Logger,
	}
}

// CollectDaily queries Prometheus with a one-day step and converts each
// sample into an observation dated by its UTC calendar day.
func (c *PrometheusCollector) CollectDaily(ctx context.Context, query string, start, end time.Time) ([]domain.Observation, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	r := v1.Range{
		Start: domain.Day(start),
		End:   domain.Day(end),
		Step:  24 * time.Hour,
	}

	result, warnings, err := c.api.QueryRange(ctx, query, r)
	if err != nil {
		return nil, fmt.Errorf("prometheus query failed: %w", err)
	}
	if len(warnings) > 0 {
		c.logger.Info(ctx, "prometheus query returned warnings", map[string]any{"warnings": []string(warnings)})
	}

	matrix, ok := result.(model.Matrix)
	if !ok {
		return nil, fmt.Errorf("unexpected result format: %T", result)
	}

	var obs []domain.Observation
	for _, stream := range matrix {
		site := string(stream.Metric[c.siteLabel])
		if site == "" {
			c.logger.Debug(ctx, "skipping series without site label", map[string]any{
				"series": stream.Metric.String(),
				"label":  string(c.siteLabel),
			})
			continue
		}
		for _, pair := range stream.Values {
			v := float64(pair.Value)
			day := domain.Day(pair.Timestamp.Time().UTC())
			if v < 0 || math.IsNaN(v) {
				return nil, &domain.NegativeVolumeError{SiteID: site, Date: day, Volume: v}
			}
			obs = append(obs, domain.Observation{SiteID: site, Date: day, Volume: v})
		}
	}

	domain.SortObservations(obs)
	return obs, nil
}
