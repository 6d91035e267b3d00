package olympus

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/tartarus-sandbox/pythia/pkg/hermes"
)

// Runner is anything the scheduler can trigger
type Runner interface {
	Run(ctx context.Context) (*Result, error)
}

// Scheduler triggers pipeline runs on a cron schedule
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	log    hermes.Logger
	ctx    context.Context
}

// NewScheduler registers runner on a standard five-field cron spec
// (or a descriptor such as @daily). Overlapping runs are skipped.
func NewScheduler(ctx context.Context, spec string, runner Runner, logger hermes.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = hermes.NewNoopLogger()
	}
	s := &Scheduler{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		runner: runner,
		log:    logger,
		ctx:    ctx,
	}
	if _, err := s.cron.AddFunc(spec, s.runOnce); err != nil {
		return nil, err
	}
	s.log.Info(ctx, "run scheduled", map[string]any{"schedule": spec})
	return s, nil
}

func (s *Scheduler) runOnce() {
	s.log.Debug(s.ctx, "scheduled run starting", nil)
	res, err := s.runner.Run(s.ctx)
	if err != nil {
		s.log.Error(s.ctx, "scheduled run failed", map[string]any{"error": err.Error()})
		return
	}
	s.log.Info(s.ctx, "scheduled run completed", map[string]any{"run_id": res.RunID})
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for a running job
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
