package olympus

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/tartarus-sandbox/pythia/pkg/clio"
	"github.com/tartarus-sandbox/pythia/pkg/domain"
	"github.com/tartarus-sandbox/pythia/pkg/erebus"
	"github.com/tartarus-sandbox/pythia/pkg/hades"
	"github.com/tartarus-sandbox/pythia/pkg/hermes"
	"github.com/tartarus-sandbox/pythia/pkg/hermes/audit"
	"github.com/tartarus-sandbox/pythia/pkg/persephone"
	"github.com/tartarus-sandbox/pythia/pkg/themis"
)

// ErrNoRun is returned before the first successful run
var ErrNoRun = errors.New("no completed run yet")

// ErrUnknownTable is returned for a table name a run does not produce
var ErrUnknownTable = errors.New("unknown table")

// Service is Olympus: the front door that owns the stores and runs the
// pipeline over their current contents.
type Service struct {
	Pipeline  *Pipeline
	History   persephone.HistoryStore
	Hades     hades.Registry
	Policies  themis.Repository
	Artifacts erebus.Store // optional
	Auditor   audit.Auditor
	Logger    hermes.Logger
	TopN      int

	mu     sync.RWMutex
	latest *Result
}

// allTime bounds history loads
var (
	historyStart = time.Unix(0, 0).UTC()
	historyEnd   = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
)

func (s *Service) logger() hermes.Logger {
	if s.Logger == nil {
		return hermes.NewNoopLogger()
	}
	return s.Logger
}

func (s *Service) auditor() audit.Auditor {
	if s.Auditor == nil {
		return audit.NoopAuditor{}
	}
	return s.Auditor
}

// Run executes the pipeline over the stored history and capacities,
// publishes the tables and remembers the result as the latest run.
func (s *Service) Run(ctx context.Context) (*Result, error) {
	obs, err := s.History.Load(ctx, historyStart, historyEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	capacities, err := hades.Snapshot(ctx, s.Hades)
	if err != nil {
		return nil, fmt.Errorf("failed to load capacities: %w", err)
	}

	res, err := s.Pipeline.Run(ctx, Input{History: domain.GroupBySite(obs), Capacities: capacities})
	if err != nil {
		return nil, err
	}

	if s.Artifacts != nil {
		keys, err := clio.Publish(ctx, s.Artifacts, path.Join("runs", res.RunID), res.Tables(s.TopN))
		if err != nil {
			return nil, err
		}
		s.logger().Info(ctx, "published run tables", map[string]any{"run_id": res.RunID, "tables": len(keys)})
	}

	s.mu.Lock()
	s.latest = res
	s.mu.Unlock()
	return res, nil
}

// Latest returns the most recent successful run
func (s *Service) Latest() (*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return nil, ErrNoRun
	}
	return s.latest, nil
}

// LatestTable renders one table of the most recent run
func (s *Service) LatestTable(name string) (*clio.Table, error) {
	res, err := s.Latest()
	if err != nil {
		return nil, err
	}
	for _, t := range res.Tables(s.TopN) {
		if t.Name == name {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTable, name)
}

// Ingest validates and upserts observations into the history store.
// Dates are truncated to the day on a copy; obs is left untouched.
func (s *Service) Ingest(ctx context.Context, obs []domain.Observation) error {
	seen := make(map[string]map[time.Time]struct{})
	normalized := make([]domain.Observation, len(obs))
	for i, o := range obs {
		if o.SiteID == "" {
			return badRequest(fmt.Sprintf("observation %d: empty site", i))
		}
		o.Date = domain.Day(o.Date)
		normalized[i] = o
		if o.Volume < 0 {
			return &domain.NegativeVolumeError{SiteID: o.SiteID, Date: o.Date, Volume: o.Volume}
		}
		if seen[o.SiteID] == nil {
			seen[o.SiteID] = make(map[time.Time]struct{})
		}
		if _, dup := seen[o.SiteID][o.Date]; dup {
			return &domain.DuplicateObservationError{SiteID: o.SiteID, Date: o.Date}
		}
		seen[o.SiteID][o.Date] = struct{}{}
	}

	if err := s.History.Save(ctx, normalized); err != nil {
		return fmt.Errorf("failed to save observations: %w", err)
	}
	s.record(ctx, &audit.Event{
		Action:   audit.ActionIngested,
		Metadata: map[string]any{"observations": len(obs), "sites": len(seen)},
	})
	return nil
}

// PutCapacity stores a site's capacity profile
func (s *Service) PutCapacity(ctx context.Context, profile domain.CapacityProfile) error {
	if err := s.Hades.Put(ctx, profile); err != nil {
		return err
	}
	s.record(ctx, &audit.Event{
		Action:   audit.ActionCapacityUpdated,
		SiteID:   profile.SiteID,
		Metadata: map[string]any{"capacity": profile.Capacity},
	})
	return nil
}

// Sites lists the capacity profiles
func (s *Service) Sites(ctx context.Context) ([]domain.CapacityProfile, error) {
	return s.Hades.List(ctx)
}

func (s *Service) Policy(ctx context.Context) (*themis.Policy, error) {
	return s.Policies.GetPolicy(ctx)
}

// UpdatePolicy stores p if its version matches the stored one
func (s *Service) UpdatePolicy(ctx context.Context, p *themis.Policy, actor string) error {
	if err := s.Policies.UpsertPolicy(ctx, p); err != nil {
		return err
	}
	s.record(ctx, &audit.Event{
		Action:   audit.ActionPolicyUpdated,
		Actor:    actor,
		Metadata: map[string]any{"version": p.Version},
	})
	return nil
}

func (s *Service) record(ctx context.Context, event *audit.Event) {
	if err := s.auditor().Record(ctx, event); err != nil {
		s.logger().Error(ctx, "failed to record audit event", map[string]any{
			"action": string(event.Action),
			"error":  err.Error(),
		})
	}
}
