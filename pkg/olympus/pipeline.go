package olympus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tartarus-sandbox/pythia/pkg/clio"
	"github.com/tartarus-sandbox/pythia/pkg/cocytus"
	"github.com/tartarus-sandbox/pythia/pkg/config"
	"github.com/tartarus-sandbox/pythia/pkg/domain"
	"github.com/tartarus-sandbox/pythia/pkg/hermes"
	"github.com/tartarus-sandbox/pythia/pkg/hermes/audit"
	"github.com/tartarus-sandbox/pythia/pkg/persephone"
	"github.com/tartarus-sandbox/pythia/pkg/persephone/evaluator"
	"github.com/tartarus-sandbox/pythia/pkg/themis"
)

// Stage names used in exclusions and metrics
const (
	StageForecast = "forecast"
	StageCapacity = "capacity"
	StageBacktest = evaluator.StageBacktest
	StageClassify = "classify"
)

// Input is the data of one run. History is keyed by site.
type Input struct {
	History    map[string][]domain.Observation
	Capacities map[string]domain.CapacityProfile
}

// Result holds every record produced by a run, ordered by site then date,
// except Recommendations which are in priority order.
type Result struct {
	RunID           string
	PolicyVersion   int64
	Thresholds      themis.Thresholds
	Forecasts       []domain.ForecastRecord
	Overall         []persephone.DailyTotal
	Utilization     []domain.UtilizationRecord
	Assessments     []domain.RiskAssessment
	Recommendations []domain.ActionRecommendation
	Backtest        *evaluator.Report // nil when the backtest is disabled
	Exclusions      []domain.Exclusion
}

// Tables renders the result as flat tables
func (r *Result) Tables(topN int) []*clio.Table {
	tables := []*clio.Table{
		clio.ForecastTable(r.Forecasts),
		clio.OverallForecastTable(r.Overall),
		clio.UtilizationTable(r.Utilization, r.Thresholds),
		clio.RiskTable(r.Assessments),
		clio.RecommendationTable(r.Recommendations),
		clio.TopRiskTable(r.Assessments, topN),
	}
	if r.Backtest != nil {
		tables = append(tables,
			clio.BacktestSiteTable(r.Backtest.PerSite),
			clio.BacktestOverallTable(r.Backtest.Overall),
			clio.ComparisonTable(r.Backtest.Comparisons),
		)
	}
	return append(tables, clio.ExclusionTable(r.Exclusions))
}

// PipelineConfig wires the pipeline. Engine is required; everything else
// has a usable default.
type PipelineConfig struct {
	Engine         *persephone.Engine
	Policies       themis.Repository // nil uses themis.DefaultPolicy
	HorizonDays    int
	BacktestWindow int    // 0 disables the backtest
	OnSiteError    string // config.OnSiteErrorAbort or config.OnSiteErrorExclude
	Parallelism    int
	Exclusions     cocytus.Sink
	Auditor        audit.Auditor
	Metrics        hermes.Metrics
	Logger         hermes.Logger
}

// Pipeline runs forecast, capacity, classification, recommendation and
// backtest over a set of sites.
type Pipeline struct {
	cfg        PipelineConfig
	capacity   *persephone.CapacityEvaluator
	backtester *evaluator.Backtester
	newID      func() string
}

func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Engine == nil {
		return nil, errors.New("forecast engine is required")
	}
	if cfg.HorizonDays < 1 {
		return nil, domain.ErrInvalidHorizon
	}
	if cfg.BacktestWindow < 0 {
		return nil, domain.ErrInvalidWindow
	}
	switch cfg.OnSiteError {
	case "":
		cfg.OnSiteError = config.OnSiteErrorAbort
	case config.OnSiteErrorAbort, config.OnSiteErrorExclude:
	default:
		return nil, fmt.Errorf("unknown on_site_error policy %q", cfg.OnSiteError)
	}
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	if cfg.Exclusions == nil {
		cfg.Exclusions = cocytus.NewMemorySink()
	}
	if cfg.Auditor == nil {
		cfg.Auditor = audit.NoopAuditor{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = hermes.NewNoopMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = hermes.NewNoopLogger()
	}

	return &Pipeline{
		cfg:        cfg,
		capacity:   persephone.NewCapacityEvaluator(),
		backtester: evaluator.NewBacktester(cfg.Engine),
		newID:      func() string { return uuid.New().String() },
	}, nil
}

// siteOutcome is the per-site result of the parallel stages
type siteOutcome struct {
	forecasts   []domain.ForecastRecord
	utilization []domain.UtilizationRecord
	backtest    *evaluator.SiteResult
	err         error
	stage       string
}

type run struct {
	*Pipeline
	id         string
	exclusions []domain.Exclusion
}

// Run executes one pipeline run. Global errors always abort; site-scoped
// errors abort or exclude the site according to OnSiteError.
func (p *Pipeline) Run(ctx context.Context, in Input) (*Result, error) {
	r := &run{Pipeline: p, id: p.newID()}
	start := time.Now()

	p.audit(ctx, &audit.Event{
		RunID:    r.id,
		Action:   audit.ActionRunStarted,
		Metadata: map[string]any{"sites": len(in.History), "horizon_days": p.cfg.HorizonDays},
	})
	p.cfg.Logger.Info(ctx, "run started", map[string]any{"run_id": r.id, "sites": len(in.History)})

	res, err := r.execute(ctx, in)
	outcome := "success"
	event := &audit.Event{RunID: r.id, Action: audit.ActionRunCompleted, Result: audit.ResultSuccess}
	if err != nil {
		outcome = "error"
		event.Result = audit.ResultError
		event.Message = err.Error()
		p.cfg.Logger.Error(ctx, "run failed", map[string]any{"run_id": r.id, "error": err.Error()})
	} else {
		event.Metadata = map[string]any{
			"forecasts":       len(res.Forecasts),
			"recommendations": len(res.Recommendations),
			"exclusions":      len(res.Exclusions),
			"policy_version":  res.PolicyVersion,
		}
		p.cfg.Logger.Info(ctx, "run completed", map[string]any{
			"run_id":     r.id,
			"forecasts":  len(res.Forecasts),
			"exclusions": len(res.Exclusions),
			"duration_s": hermes.Since(start),
		})
	}
	p.audit(ctx, event)
	p.cfg.Metrics.IncCounter(hermes.MetricRuns, 1, hermes.Label{Key: "outcome", Value: outcome})

	return res, err
}

func (r *run) execute(ctx context.Context, in Input) (*Result, error) {
	policy, compiled, err := r.loadPolicy(ctx)
	if err != nil {
		return nil, err
	}

	sites := domain.SiteIDs(in.History)

	stageStart := time.Now()
	outcomes, err := r.parallel(ctx, sites, func(site string) siteOutcome {
		return r.forecastSite(site, in.History[site], in.Capacities)
	})
	if err != nil {
		return nil, err
	}
	r.observeStage(StageForecast, stageStart)

	res := &Result{
		RunID:         r.id,
		PolicyVersion: policy.Version,
		Thresholds:    compiled.Classifier.Thresholds(),
	}
	var active []string
	for i, site := range sites {
		o := outcomes[i]
		if o.err != nil {
			if err := r.siteFailed(ctx, site, o.stage, o.err); err != nil {
				return nil, err
			}
			continue
		}
		active = append(active, site)
		res.Forecasts = append(res.Forecasts, o.forecasts...)
		res.Utilization = append(res.Utilization, o.utilization...)
	}
	r.recordForecastMetrics(res.Forecasts)
	res.Overall = persephone.AggregateByDate(res.Forecasts)

	stageStart = time.Now()
	res.Assessments = compiled.Classifier.Assess(res.Utilization)
	res.Recommendations, err = compiled.Recommender.RecommendBatch(res.Assessments)
	if err != nil {
		return nil, err
	}
	for _, a := range res.Assessments {
		r.cfg.Metrics.IncCounter(hermes.MetricTier, 1, hermes.Label{Key: "tier", Value: string(a.Tier)})
	}
	r.observeStage(StageClassify, stageStart)

	if r.cfg.BacktestWindow > 0 {
		stageStart = time.Now()
		report, err := r.backtest(ctx, active, in.History)
		if err != nil {
			return nil, err
		}
		res.Backtest = report
		r.observeStage(StageBacktest, stageStart)
	}

	res.Exclusions = r.exclusions
	return res, nil
}

func (r *run) loadPolicy(ctx context.Context) (*themis.Policy, *themis.Compiled, error) {
	policy := themis.DefaultPolicy()
	if r.cfg.Policies != nil {
		stored, err := r.cfg.Policies.GetPolicy(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load risk policy: %w", err)
		}
		policy = stored
	}
	compiled, err := policy.Compile()
	if err != nil {
		return nil, nil, err
	}
	return policy, compiled, nil
}

// parallel runs fn for every site with bounded concurrency and returns the
// outcomes in site order
func (r *run) parallel(ctx context.Context, sites []string, fn func(site string) siteOutcome) ([]siteOutcome, error) {
	outcomes := make([]siteOutcome, len(sites))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Parallelism)
	for i, site := range sites {
		i, site := i, site
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = fn(site)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (r *run) forecastSite(site string, history []domain.Observation, capacities map[string]domain.CapacityProfile) siteOutcome {
	forecasts, err := r.cfg.Engine.Forecast(history, r.cfg.HorizonDays)
	if err != nil {
		return siteOutcome{err: err, stage: StageForecast}
	}
	utilization, err := r.capacity.Evaluate(persephone.DemandFromForecasts(forecasts), capacities)
	if err != nil {
		return siteOutcome{err: err, stage: StageCapacity}
	}
	return siteOutcome{forecasts: forecasts, utilization: utilization}
}

func (r *run) backtest(ctx context.Context, sites []string, history map[string][]domain.Observation) (*evaluator.Report, error) {
	outcomes, err := r.parallel(ctx, sites, func(site string) siteOutcome {
		res, err := r.backtester.RunSite(site, history[site], r.cfg.BacktestWindow)
		return siteOutcome{backtest: res, err: err, stage: StageBacktest}
	})
	if err != nil {
		return nil, err
	}

	var results []evaluator.SiteResult
	var excluded []domain.Exclusion
	for i, site := range sites {
		o := outcomes[i]
		if o.err != nil {
			var ih *domain.InsufficientHistoryError
			if !errors.As(o.err, &ih) {
				return nil, o.err
			}
			ex := domain.Exclusion{SiteID: site, Stage: StageBacktest, Reason: o.err.Error()}
			if err := r.exclude(ctx, ex); err != nil {
				return nil, err
			}
			excluded = append(excluded, ex)
			continue
		}
		results = append(results, *o.backtest)
	}

	report, err := evaluator.Aggregate(results, excluded)
	if err != nil {
		return nil, fmt.Errorf("%w (%d sites excluded)", err, len(excluded))
	}
	r.cfg.Metrics.SetGauge(hermes.MetricBacktestMAE, report.Overall.MAE)
	r.cfg.Metrics.SetGauge(hermes.MetricBacktestMAPE, report.Overall.MAPE)
	return report, nil
}

// siteFailed applies the on_site_error policy to a failed site
func (r *run) siteFailed(ctx context.Context, site, stage string, err error) error {
	if _, scoped := domain.SiteOf(err); !scoped || r.cfg.OnSiteError != config.OnSiteErrorExclude {
		return err
	}
	return r.exclude(ctx, domain.Exclusion{SiteID: site, Stage: stage, Reason: err.Error()})
}

func (r *run) exclude(ctx context.Context, ex domain.Exclusion) error {
	r.exclusions = append(r.exclusions, ex)
	r.cfg.Metrics.IncCounter(hermes.MetricExclusions, 1, hermes.Label{Key: "stage", Value: ex.Stage})
	r.audit(ctx, &audit.Event{
		RunID:   r.id,
		Action:  audit.ActionSiteExcluded,
		SiteID:  ex.SiteID,
		Stage:   ex.Stage,
		Message: ex.Reason,
	})
	if err := r.cfg.Exclusions.Write(ctx, &cocytus.Record{RunID: r.id, Exclusion: ex}); err != nil {
		return fmt.Errorf("failed to record exclusion of site %s: %w", ex.SiteID, err)
	}
	return nil
}

func (r *run) recordForecastMetrics(forecasts []domain.ForecastRecord) {
	r.cfg.Metrics.IncCounter(hermes.MetricForecasts, float64(len(forecasts)))
	for _, f := range forecasts {
		if f.Method != domain.MethodSeasonal {
			r.cfg.Metrics.IncCounter(hermes.MetricFallbackForecasts, 1, hermes.Label{Key: "method", Value: string(f.Method)})
		}
	}
}

func (r *run) observeStage(stage string, start time.Time) {
	r.cfg.Metrics.ObserveHistogram(hermes.MetricStageDuration, hermes.Since(start), hermes.Label{Key: "stage", Value: stage})
}

func (p *Pipeline) audit(ctx context.Context, event *audit.Event) {
	if err := p.cfg.Auditor.Record(ctx, event); err != nil {
		p.cfg.Logger.Error(ctx, "failed to record audit event", map[string]any{
			"action": string(event.Action),
			"error":  err.Error(),
		})
	}
}
