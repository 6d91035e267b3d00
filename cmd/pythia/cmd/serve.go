package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/tartarus-sandbox/pythia/pkg/hermes"
	"github.com/tartarus-sandbox/pythia/pkg/olympus"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the pipeline over HTTP, with scheduled runs and ingestion",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := bindFlags(cmd, map[string]string{
			"port":     "server.port",
			"schedule": "server.schedule",
		}); err != nil {
			return err
		}
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics := hermes.NewPrometheusMetrics(reg)

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
		artifacts, err := openArtifacts(ctx, cfg, "")
		if err != nil {
			return err
		}

		pipeline, err := newPipeline(cfg, logger, pipelineOptions{
			policies: b.policies,
			auditor:  auditor,
			metrics:  metrics,
			backtest: true,
		})
		if err != nil {
			return err
		}
		svc := &olympus.Service{
			Pipeline:  pipeline,
			History:   b.history,
			Hades:     b.registry,
			Policies:  b.policies,
			Artifacts: artifacts,
			Auditor:   auditor,
			Logger:    logger,
			TopN:      cfg.Risk.TopN,
		}

		if cfg.Server.Schedule != "" {
			scheduler, err := olympus.NewScheduler(ctx, cfg.Server.Schedule, svc, logger)
			if err != nil {
				return err
			}
			scheduler.Start()
			defer scheduler.Stop()
		}

		if cfg.Prometheus.URL != "" {
			ingestor, err := newIngestor(cfg, b.history, logger, metrics)
			if err != nil {
				return err
			}
			go ingestor.Start(ctx)
		}

		server := olympus.NewServer(olympus.ServerConfig{
			Port:     cfg.Server.Port,
			Service:  svc,
			Gatherer: reg,
			APIKey:   cfg.Server.APIKey,
			Logger:   logger,
		})

		errCh := make(chan error, 1)
		go func() {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().Int("port", 0, "HTTP port")
	serveCmd.Flags().String("schedule", "", "cron schedule for pipeline runs")
	rootCmd.AddCommand(serveCmd)
}
