package cmd

import (
	"fmt"
	"path"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tartarus-sandbox/pythia/pkg/clio"
	"github.com/tartarus-sandbox/pythia/pkg/domain"
	"github.com/tartarus-sandbox/pythia/pkg/ingest"
	"github.com/tartarus-sandbox/pythia/pkg/persephone"
	"github.com/tartarus-sandbox/pythia/pkg/persephone/evaluator"
)

var (
	backtestInput  string
	backtestOutput string
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Measure forecast accuracy over the last window days of history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := bindFlags(cmd, map[string]string{
			"window": "backtest.window_days",
			"season": "season_length",
		}); err != nil {
			return err
		}
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		var history map[string][]domain.Observation
		if backtestInput != "" {
			ds, err := ingest.LoadFile(backtestInput)
			if err != nil {
				return err
			}
			history = ds.History()
		} else {
			b, err := openBackends(ctx, cfg)
			if err != nil {
				return err
			}
			defer b.Close()
			in, err := loadStored(ctx, b)
			if err != nil {
				return err
			}
			history = in.History
		}

		engine, err := persephone.NewEngine(cfg.EngineConfig())
		if err != nil {
			return err
		}
		report, err := evaluator.NewBacktester(engine).Run(history, cfg.Backtest.WindowDays)
		if err != nil {
			return err
		}
		logger.Info(ctx, "backtest complete", map[string]any{
			"sites":    len(report.PerSite),
			"excluded": len(report.Exclusions),
			"mae":      report.Overall.MAE,
		})

		store, err := openArtifacts(ctx, cfg, backtestOutput)
		if err != nil {
			return err
		}
		prefix := ""
		if backtestOutput == "" {
			prefix = path.Join("backtests", uuid.New().String())
		}
		keys, err := clio.Publish(ctx, store, prefix, []*clio.Table{
			clio.BacktestSiteTable(report.PerSite),
			clio.BacktestOverallTable(report.Overall),
			clio.ComparisonTable(report.Comparisons),
			clio.ExclusionTable(report.Exclusions),
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		printBacktest(out, report.Overall)
		for _, r := range report.PerSite {
			fmt.Fprintf(out, "  %s: MAE %.3f  MAPE %.2f%%  n=%d\n", r.Scope, r.MAE, r.MAPE, r.N)
		}
		for _, ex := range report.Exclusions {
			fmt.Fprintf(out, "Excluded %s: %s\n", ex.SiteID, ex.Reason)
		}
		for _, k := range keys {
			fmt.Fprintf(out, "  %s\n", k)
		}
		return nil
	},
}

func init() {
	backtestCmd.Flags().StringVarP(&backtestInput, "input", "i", "", "CSV file with date,site,volume,capacity columns (default: the history store)")
	backtestCmd.Flags().StringVarP(&backtestOutput, "output", "o", "", "directory for the CSV tables (default: artifacts backend)")
	backtestCmd.Flags().Int("window", 0, "backtest window in days")
	backtestCmd.Flags().Int("season", 0, "season length in days")
	rootCmd.AddCommand(backtestCmd)
}
