package cmd

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"

	"github.com/tartarus-sandbox/pythia/pkg/domain"
	"github.com/tartarus-sandbox/pythia/pkg/olympus"
)

func printSummary(out io.Writer, res *olympus.Result, keys []string) {
	tiers := map[domain.Tier]int{}
	for _, a := range res.Assessments {
		tiers[a.Tier]++
	}

	fmt.Fprintf(out, "Run %s (policy version %d)\n", res.RunID, res.PolicyVersion)
	fmt.Fprintf(out, "Forecasts: %d  GREEN: %d  YELLOW: %d  RED: %d  Excluded: %d\n",
		len(res.Forecasts), tiers[domain.TierGreen], tiers[domain.TierYellow], tiers[domain.TierRed], len(res.Exclusions))
	if res.Backtest != nil {
		printBacktest(out, res.Backtest.Overall)
	}
	for _, ex := range res.Exclusions {
		fmt.Fprintf(out, "Excluded %s at %s: %s\n", ex.SiteID, ex.Stage, ex.Reason)
	}

	recs := res.Recommendations
	if len(recs) > runTop {
		recs = recs[:runTop]
	}
	if len(recs) > 0 {
		fmt.Fprintln(out, "\nTop priorities:")
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "RANK\tSITE\tDATE\tTIER\tRATIO\tACTION")
		for _, r := range recs {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
				r.PriorityRank, r.SiteID, r.Date.Format(domain.DateLayout), r.Tier, formatRatio(r.Ratio), r.Action)
		}
		w.Flush()
	}

	if len(keys) > 0 {
		fmt.Fprintln(out, "\nTables:")
		for _, k := range keys {
			fmt.Fprintf(out, "  %s\n", k)
		}
	}
}

func printBacktest(out io.Writer, r domain.BacktestResult) {
	fmt.Fprintf(out, "Backtest %s..%s: MAE %.3f  MAPE %.2f%%  RMSE %.3f  coverage %.1f%%  n=%d\n",
		r.Window.Start.Format(domain.DateLayout), r.Window.End.Format(domain.DateLayout),
		r.MAE, r.MAPE, r.RMSE, r.Coverage, r.N)
}

func formatRatio(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.3f", v)
}
