package hermes

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Log formats accepted by NewLogger
const (
	FormatConsole = "console"
	FormatJSON    = "json"
	FormatSlog    = "slog"
)

// NewLogger builds a logger writing to w. console and json go through
// zerolog; slog selects the standard library JSON handler.
func NewLogger(w io.Writer, level, format string) Logger {
	if w == nil {
		w = os.Stderr
	}
	switch strings.ToLower(format) {
	case FormatSlog:
		return NewSlogAdapter(w, level)
	case FormatJSON:
		return NewZerologAdapter(w, level, false)
	default:
		return NewZerologAdapter(w, level, true)
	}
}

type ZerologAdapter struct {
	logger zerolog.Logger
}

func NewZerologAdapter(w io.Writer, level string, pretty bool) *ZerologAdapter {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	out := w
	if pretty {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}

	return &ZerologAdapter{
		logger: zerolog.New(out).Level(lvl).With().Timestamp().Logger(),
	}
}

func (l *ZerologAdapter) Debug(ctx context.Context, msg string, fields map[string]any) {
	l.logger.Debug().Fields(fields).Msg(msg)
}

func (l *ZerologAdapter) Info(ctx context.Context, msg string, fields map[string]any) {
	l.logger.Info().Fields(fields).Msg(msg)
}

func (l *ZerologAdapter) Error(ctx context.Context, msg string, fields map[string]any) {
	l.logger.Error().Fields(fields).Msg(msg)
}

type SlogAdapter struct {
	logger *slog.Logger
}

func NewSlogAdapter(w io.Writer, level string) *SlogAdapter {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return &SlogAdapter{
		logger: slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})),
	}
}

// sortedArgs flattens fields in key order so output is stable
func sortedArgs(fields map[string]any) []any {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, 0, len(fields)*2)
	for _, k := range keys {
		args = append(args, k, fields[k])
	}
	return args
}

func (l *SlogAdapter) Debug(ctx context.Context, msg string, fields map[string]any) {
	l.logger.DebugContext(ctx, msg, sortedArgs(fields)...)
}

func (l *SlogAdapter) Info(ctx context.Context, msg string, fields map[string]any) {
	l.logger.InfoContext(ctx, msg, sortedArgs(fields)...)
}

func (l *SlogAdapter) Error(ctx context.Context, msg string, fields map[string]any) {
	l.logger.ErrorContext(ctx, msg, sortedArgs(fields)...)
}

type NoopLogger struct{}

func NewNoopLogger() *NoopLogger {
	return &NoopLogger{}
}

func (l *NoopLogger) Debug(ctx context.Context, msg string, fields map[string]any) {}
func (l *NoopLogger) Info(ctx context.Context, msg string, fields map[string]any)  {}
func (l *NoopLogger) Error(ctx context.Context, msg string, fields map[string]any) {}

type NoopMetrics struct{}

func NewNoopMetrics() *NoopMetrics {
	return &NoopMetrics{}
}

func (m *NoopMetrics) IncCounter(name string, value float64, labels ...Label)       {}
func (m *NoopMetrics) ObserveHistogram(name string, value float64, labels ...Label) {}
func (m *NoopMetrics) SetGauge(name string, value float64, labels ...Label)         {}

// Since reports the seconds elapsed from start, for duration histograms
func Since(start time.Time) float64 {
	return time.Since(start).Seconds()
}
