package cocytus

import (
	"context"
	"sync"

	"github.com/tartarus-sandbox/pythia/pkg/domain"
)

// Record captures a site dropped from one stage of a run.
type Record struct {
	RunID     string           `json:"run_id"`
	Exclusion domain.Exclusion `json:"exclusion"`
}

// Sink receives exclusions so they are never dropped silently.
type Sink interface {
	Write(ctx context.Context, rec *Record) error
}

// MemorySink keeps records in memory, in arrival order.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Write(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, *rec)
	return nil
}

// Records returns a copy of everything written so far.
func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// MultiSink fans a record out to every sink, stopping at the first error.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, rec *Record) error {
	for _, s := range m {
		if err := s.Write(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}
