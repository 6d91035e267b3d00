package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tartarus-sandbox/pythia/pkg/config"
	"github.com/tartarus-sandbox/pythia/pkg/hermes"
	"github.com/tartarus-sandbox/pythia/pkg/ingest"
	"github.com/tartarus-sandbox/pythia/pkg/olympus"
	"github.com/tartarus-sandbox/pythia/pkg/persephone"
)

var (
	ingestInput      string
	ingestPrometheus bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load observations and capacities into the history store",
	Long: `Loads a CSV file (--input) into the history store and capacity registry,
or fetches the last lookback days of daily demand from Prometheus (--prometheus).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if (ingestInput == "") == !ingestPrometheus {
			return errors.New("exactly one of --input or --prometheus is required")
		}
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		b, err := openBackends(ctx, cfg)
		if err != nil {
			return err
		}
		defer b.Close()
		auditor, closer, err := openAuditor(cfg)
		if err != nil {
			return err
		}
		defer closer.Close()

		if ingestPrometheus {
			ingestor, err := newIngestor(cfg, b.history, logger, hermes.NewNoopMetrics())
			if err != nil {
				return err
			}
			n, err := ingestor.Ingest(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d observations from %s\n", n, cfg.Prometheus.URL)
			return nil
		}

		ds, err := ingest.LoadFile(ingestInput)
		if err != nil {
			return err
		}
		svc := &olympus.Service{History: b.history, Hades: b.registry, Policies: b.policies, Auditor: auditor, Logger: logger}
		if err := svc.Ingest(ctx, ds.Observations); err != nil {
			return err
		}
		for _, p := range ds.Capacities {
			if err := svc.PutCapacity(ctx, p); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d observations for %d sites\n", len(ds.Observations), len(ds.Capacities))
		return nil
	},
}

// newIngestor builds the Prometheus ingestor from prometheus.* and ingest.*
func newIngestor(cfg *config.Config, store persephone.HistoryStore, logger hermes.Logger, metrics hermes.Metrics) (*persephone.Ingestor, error) {
	if cfg.Prometheus.URL == "" || cfg.Prometheus.Query == "" {
		return nil, errors.New("prometheus.url and prometheus.query are required")
	}
	collector, err := persephone.NewPrometheusCollector(persephone.CollectorConfig{
		Address: cfg.Prometheus.URL,
		QPS:     cfg.Prometheus.QPS,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	return persephone.NewIngestor(persephone.IngestorConfig{
		Collector:    collector,
		Store:        store,
		Interval:     cfg.Ingest.Interval,
		LookbackDays: cfg.Ingest.LookbackDays,
		Query:        cfg.Prometheus.Query,
		Logger:       logger,
		Metrics:      metrics,
	})
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestInput, "input", "i", "", "CSV file with date,site,volume,capacity columns")
	ingestCmd.Flags().BoolVar(&ingestPrometheus, "prometheus", false, "fetch daily demand from prometheus.url")
	rootCmd.AddCommand(ingestCmd)
}
