package cmd

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/spf13/cobra"

	"github.com/tartarus-sandbox/pythia/pkg/clio"
	"github.com/tartarus-sandbox/pythia/pkg/domain"
	"github.com/tartarus-sandbox/pythia/pkg/hades"
	"github.com/tartarus-sandbox/pythia/pkg/hermes"
	"github.com/tartarus-sandbox/pythia/pkg/ingest"
	"github.com/tartarus-sandbox/pythia/pkg/olympus"
	"github.com/tartarus-sandbox/pythia/pkg/themis"
)

var (
	runInput  string
	runOutput string
	runTop    int
)

// runFlagKeys maps run/forecast flags to config keys
var runFlagKeys = map[string]string{
	"horizon":       "horizon_days",
	"season":        "season_length",
	"window":        "backtest.window_days",
	"on-site-error": "on_site_error",
	"parallelism":   "parallelism",
	"policy":        "risk.policy_file",
	"top-n":         "risk.top_n",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Forecast demand, assess capacity risk, recommend actions and backtest",
	Long: `Runs the full pipeline over a CSV file (--input) or over the configured
history store, writes every table as CSV and prints the top priorities.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeRun(cmd, true)
	},
}

var forecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Run the pipeline without the backtest",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeRun(cmd, false)
	},
}

func executeRun(cmd *cobra.Command, backtest bool) error {
	if err := bindFlags(cmd, runFlagKeys); err != nil {
		return err
	}
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	auditor, closer, err := openAuditor(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	var (
		in       olympus.Input
		policies themis.Repository
	)
	if runInput != "" {
		ds, err := ingest.LoadFile(runInput)
		if err != nil {
			return err
		}
		logger.Info(ctx, "loaded observations", map[string]any{
			"file":         runInput,
			"observations": len(ds.Observations),
			"sites":        len(ds.Capacities),
		})
		in = olympus.Input{History: ds.History(), Capacities: ds.CapacityMap()}
		repo := themis.NewMemoryRepo()
		if err := seedPolicy(ctx, cfg, repo); err != nil {
			return err
		}
		policies = repo
	} else {
		b, err := openBackends(ctx, cfg)
		if err != nil {
			return err
		}
		defer b.Close()
		if in, err = loadStored(ctx, b); err != nil {
			return err
		}
		policies = b.policies
	}

	pipeline, err := newPipeline(cfg, logger, pipelineOptions{
		policies: policies,
		auditor:  auditor,
		metrics:  hermes.NewNoopMetrics(),
		backtest: backtest,
	})
	if err != nil {
		return err
	}
	res, err := pipeline.Run(ctx, in)
	if err != nil {
		return err
	}

	store, err := openArtifacts(ctx, cfg, runOutput)
	if err != nil {
		return err
	}
	prefix := ""
	if runOutput == "" {
		prefix = path.Join("runs", res.RunID)
	}
	keys, err := clio.Publish(ctx, store, prefix, res.Tables(cfg.Risk.TopN))
	if err != nil {
		return err
	}
	logger.Info(ctx, "tables written", map[string]any{"run_id": res.RunID, "tables": len(keys)})

	printSummary(cmd.OutOrStdout(), res, keys)
	return nil
}

// loadStored reads all stored history and the capacity registry
func loadStored(ctx context.Context, b *backends) (olympus.Input, error) {
	obs, err := b.history.Load(ctx, time.Unix(0, 0).UTC(), time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		return olympus.Input{}, fmt.Errorf("failed to load history: %w", err)
	}
	capacities, err := hades.Snapshot(ctx, b.registry)
	if err != nil {
		return olympus.Input{}, fmt.Errorf("failed to load capacities: %w", err)
	}
	return olympus.Input{History: domain.GroupBySite(obs), Capacities: capacities}, nil
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&runInput, "input", "i", "", "CSV file with date,site,volume,capacity columns (default: the history store)")
	cmd.Flags().StringVarP(&runOutput, "output", "o", "", "directory for the CSV tables (default: artifacts backend)")
	cmd.Flags().Int("horizon", 0, "forecast horizon in days")
	cmd.Flags().Int("season", 0, "season length in days")
	cmd.Flags().String("on-site-error", "", "abort or exclude when a site fails")
	cmd.Flags().Int("parallelism", 0, "sites processed concurrently")
	cmd.Flags().String("policy", "", "risk policy YAML file")
	cmd.Flags().Int("top-n", 0, "rows in the top_risk table")
	cmd.Flags().IntVar(&runTop, "top", 15, "priorities printed to the console")
}

func init() {
	addRunFlags(runCmd)
	runCmd.Flags().Int("window", 0, "backtest window in days")
	addRunFlags(forecastCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(forecastCmd)
}
