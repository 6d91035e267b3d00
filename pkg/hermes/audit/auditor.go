package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Auditor records audit events.
type Auditor interface {
	Record(ctx context.Context, event *Event) error
}

// StandardAuditor fills in ids and timestamps and writes to a Store.
type StandardAuditor struct {
	store Store
	now   func() time.Time
}

// NewStandardAuditor creates a new StandardAuditor.
func NewStandardAuditor(store Store) *StandardAuditor {
	return &StandardAuditor{
		store: store,
		now:   time.Now,
	}
}

// Record records the audit event.
func (a *StandardAuditor) Record(ctx context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = a.now().UTC()
	}
	if event.Result == "" {
		event.Result = ResultSuccess
	}

	if err := a.store.Write(ctx, event); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	return nil
}

// NoopAuditor discards events.
type NoopAuditor struct{}

func (NoopAuditor) Record(ctx context.Context, event *Event) error { return nil }
