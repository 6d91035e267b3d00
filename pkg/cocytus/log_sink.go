package cocytus

import (
	"context"

	"github.com/tartarus-sandbox/pythia/pkg/hermes"
)

// LogSink logs exclusions at ERROR level.
type LogSink struct {
	logger hermes.Logger
}

// NewLogSink creates a new LogSink.
func NewLogSink(logger hermes.Logger) *LogSink {
	return &LogSink{
		logger: logger,
	}
}

func (s *LogSink) Write(ctx context.Context, rec *Record) error {
	s.logger.Error(ctx, "site excluded", map[string]any{
		"run_id": rec.RunID,
		"site":   rec.Exclusion.SiteID,
		"stage":  rec.Exclusion.Stage,
		"reason": rec.Exclusion.Reason,
	})
	return nil
}
