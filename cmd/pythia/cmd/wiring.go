package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tartarus-sandbox/pythia/pkg/cocytus"
	"github.com/tartarus-sandbox/pythia/pkg/config"
	"github.com/tartarus-sandbox/pythia/pkg/erebus"
	"github.com/tartarus-sandbox/pythia/pkg/hades"
	"github.com/tartarus-sandbox/pythia/pkg/hermes"
	"github.com/tartarus-sandbox/pythia/pkg/hermes/audit"
	"github.com/tartarus-sandbox/pythia/pkg/olympus"
	"github.com/tartarus-sandbox/pythia/pkg/persephone"
	"github.com/tartarus-sandbox/pythia/pkg/themis"
)

// backends are the stores selected by store.backend
type backends struct {
	history  persephone.HistoryStore
	registry hades.Registry
	policies themis.Repository
	closers  []io.Closer
}

func openBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	b := &backends{}
	switch cfg.Store.Backend {
	case config.BackendRedis:
		history, err := persephone.NewRedisHistoryStore(cfg.Redis.Addr, cfg.Redis.DB, cfg.Redis.Password)
		if err != nil {
			return nil, err
		}
		b.history = history
		b.closers = append(b.closers, history)

		registry, err := hades.NewRedisRegistry(cfg.Redis.Addr, cfg.Redis.DB, cfg.Redis.Password)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.registry = registry
		b.closers = append(b.closers, registry)

		policies, err := themis.NewRedisRepo(cfg.Redis.Addr, cfg.Redis.DB, cfg.Redis.Password)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.policies = policies
		b.closers = append(b.closers, policies)
	default:
		history, err := persephone.NewLocalHistoryStore(cfg.Store.Dir)
		if err != nil {
			return nil, err
		}
		b.history = history
		registry, err := hades.NewLocalRegistry(cfg.Store.Dir)
		if err != nil {
			return nil, err
		}
		b.registry = registry
		b.policies = themis.NewMemoryRepo()
	}

	if err := seedPolicy(ctx, cfg, b.policies); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *backends) Close() error {
	var errs []error
	for _, c := range b.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// configuredPolicy is risk.policy_file, or the default policy with the
// configured thresholds
func configuredPolicy(cfg *config.Config) (*themis.Policy, error) {
	if cfg.Risk.PolicyFile != "" {
		return themis.LoadPolicyFile(cfg.Risk.PolicyFile)
	}
	p := themis.DefaultPolicy()
	p.Thresholds = cfg.Thresholds()
	return p, nil
}

// seedPolicy stores the configured policy unless one is stored already
func seedPolicy(ctx context.Context, cfg *config.Config, repo themis.Repository) error {
	current, err := repo.GetPolicy(ctx)
	if err != nil {
		return err
	}
	if current.Version > 0 {
		return nil
	}
	p, err := configuredPolicy(cfg)
	if err != nil {
		return err
	}
	p.Version = 0
	return repo.UpsertPolicy(ctx, p)
}

// openArtifacts returns the artifact store. A non-empty dir forces a local
// store rooted there.
func openArtifacts(ctx context.Context, cfg *config.Config, dir string) (erebus.Store, error) {
	if dir != "" {
		return erebus.NewLocalStore(dir)
	}
	if cfg.Artifacts.Backend == config.BackendS3 {
		return erebus.NewS3Store(ctx, cfg.S3Store())
	}
	return erebus.NewLocalStore(cfg.Artifacts.Dir)
}

// openAuditor chains run events into audit.file when one is configured,
// continuing an existing chain.
func openAuditor(cfg *config.Config) (audit.Auditor, io.Closer, error) {
	if cfg.Audit.File == "" {
		return audit.NoopAuditor{}, io.NopCloser(nil), nil
	}

	lastHash, err := lastAuditHash(cfg.Audit.File)
	if err != nil {
		return nil, nil, err
	}
	file, err := audit.NewFileStore(cfg.Audit.File)
	if err != nil {
		return nil, nil, err
	}
	store := audit.NewTamperEvidentStore(file, audit.NewChainManager([]byte(cfg.Audit.Secret)))
	store.Resume(lastHash)
	return audit.NewStandardAuditor(store), file, nil
}

func lastAuditHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	defer f.Close()

	events, err := audit.ReadEvents(f)
	if err != nil {
		return "", fmt.Errorf("failed to read audit log: %w", err)
	}
	if len(events) == 0 {
		return "", nil
	}
	return events[len(events)-1].Hash, nil
}

// pipelineOptions tune a pipeline for one command
type pipelineOptions struct {
	policies themis.Repository
	auditor  audit.Auditor
	metrics  hermes.Metrics
	backtest bool
}

func newPipeline(cfg *config.Config, logger hermes.Logger, opts pipelineOptions) (*olympus.Pipeline, error) {
	engine, err := persephone.NewEngine(cfg.EngineConfig())
	if err != nil {
		return nil, err
	}
	window := 0
	if opts.backtest {
		window = cfg.Backtest.WindowDays
	}
	return olympus.NewPipeline(olympus.PipelineConfig{
		Engine:         engine,
		Policies:       opts.policies,
		HorizonDays:    cfg.HorizonDays,
		BacktestWindow: window,
		OnSiteError:    cfg.OnSiteError,
		Parallelism:    cfg.Parallelism,
		Exclusions:     cocytus.NewLogSink(logger),
		Auditor:        opts.auditor,
		Metrics:        opts.metrics,
		Logger:         logger,
	})
}
