package persephone

import (
	"context"
	"fmt"
	"time"

	"github.com/tartarus-sandbox/pythia/pkg/hermes"
)

// Ingestor periodically fetches daily site demand and persists it to history
type Ingestor struct {
	collector MetricsCollector
	store     HistoryStore
	interval  time.Duration
	lookback  int
	query     string
	logger    hermes.Logger
	metrics   hermes.Metrics
	now       func() time.Time
}

// IngestorConfig holds configuration for the Ingestor
type IngestorConfig struct {
	Collector    MetricsCollector
	Store        HistoryStore
	Interval     time.Duration
	LookbackDays int    // days re-fetched on every pass, so late samples are corrected
	Query        string // Prometheus query string
	Logger       hermes.Logger
	Metrics      hermes.Metrics
}

// NewIngestor creates a new Ingestor
func NewIngestor(config IngestorConfig) (*Ingestor, error) {
	if config.Collector == nil {
		return nil, fmt.Errorf("collector is required")
	}
	if config.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if config.Query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	if config.LookbackDays <= 0 {
		config.LookbackDays = 2
	}
	if config.Logger == nil {
		config.Logger = hermes.NewNoopLogger()
	}
	if config.Metrics == nil {
		config.Metrics = hermes.NewNoopMetrics()
	}

	return &Ingestor{
		collector: config.Collector,
		store:     config.Store,
		interval:  config.Interval,
		lookback:  config.LookbackDays,
		query:     config.Query,
		logger:    config.Logger,
		metrics:   config.Metrics,
		now:       time.Now,
	}, nil
}

// Start runs the ingestion loop until ctx is cancelled
func (i *Ingestor) Start(ctx context.Context) error {
	ticker := time.NewTicker(i.interval)
	defer ticker.Stop()

	if _, err := i.Ingest(ctx); err != nil {
		i.logger.Error(ctx, "initial ingestion failed", map[string]any{"error": err.Error()})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := i.Ingest(ctx); err != nil {
				i.logger.Error(ctx, "ingestion failed", map[string]any{"error": err.Error()})
			}
		}
	}
}

// Ingest fetches the lookback window once and upserts it, returning the
// number of observations stored.
func (i *Ingestor) Ingest(ctx context.Context) (int, error) {
	end := i.now().UTC()
	start := end.AddDate(0, 0, -i.lookback)

	obs, err := i.collector.CollectDaily(ctx, i.query, start, end)
	if err != nil {
		return 0, fmt.Errorf("failed to collect metrics: %w", err)
	}
	if len(obs) == 0 {
		return 0, nil
	}

	if err := i.store.Save(ctx, obs); err != nil {
		return 0, fmt.Errorf("failed to save observations: %w", err)
	}

	i.metrics.IncCounter(hermes.MetricIngested, float64(len(obs)))
	i.logger.Info(ctx, "observations ingested", map[string]any{"count": len(obs)})
	return len(obs), nil
}
