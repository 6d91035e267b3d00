package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tartarus-sandbox/pythia/pkg/config"
	"github.com/tartarus-sandbox/pythia/pkg/hermes"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string

	// vp holds the configuration of the current invocation
	vp *viper.Viper
)

var rootCmd = &cobra.Command{
	Use:   "pythia",
	Short: "Pythia demand forecasting and capacity risk CLI",
	Long: `Forecasts daily per-site demand, compares it to capacity, classifies
the risk and recommends mitigations. Runs once from a CSV file or serves the
same pipeline over HTTP.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig(cmd)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./pythia.yaml or $HOME/.pythia/pythia.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (console, json, slog)")
}

func initConfig(cmd *cobra.Command) error {
	vp = config.New()
	if err := config.ReadFile(vp, cfgFile); err != nil {
		return err
	}
	if logLevel != "" {
		vp.Set("log.level", logLevel)
	}
	if logFormat != "" {
		vp.Set("log.format", logFormat)
	}
	return nil
}

// bindFlags maps command flags onto config keys. Only flags set on the
// command line override the file and environment.
func bindFlags(cmd *cobra.Command, keys map[string]string) error {
	for flag, key := range keys {
		f := cmd.Flags().Lookup(flag)
		if f == nil || !f.Changed {
			continue
		}
		if err := vp.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}

// loadConfig validates the configuration and builds the logger
func loadConfig(cmd *cobra.Command) (*config.Config, hermes.Logger, error) {
	cfg, err := config.Load(vp)
	if err != nil {
		return nil, nil, err
	}
	return cfg, hermes.NewLogger(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format), nil
}
