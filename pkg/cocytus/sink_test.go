package cocytus

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tartarus-sandbox/pythia/pkg/domain"
	"github.com/tartarus-sandbox/pythia/pkg/hermes"
)

type failingSink struct{}

func (failingSink) Write(ctx context.Context, rec *Record) error { return errors.New("disk full") }

func TestMultiSink(t *testing.T) {
	var buf bytes.Buffer
	mem := NewMemorySink()
	sink := MultiSink{NewLogSink(hermes.NewLogger(&buf, "info", hermes.FormatJSON)), mem}

	rec := &Record{RunID: "r1", Exclusion: domain.Exclusion{SiteID: "S4", Stage: "forecast", Reason: "insufficient history"}}
	require.NoError(t, sink.Write(context.Background(), rec))

	assert.Len(t, mem.Records(), 1)
	assert.Equal(t, "S4", mem.Records()[0].Exclusion.SiteID)
	assert.Contains(t, buf.String(), `"site":"S4"`)
	assert.Contains(t, buf.String(), "site excluded")
}

func TestMultiSink_StopsOnError(t *testing.T) {
	mem := NewMemorySink()
	err := MultiSink{failingSink{}, mem}.Write(context.Background(), &Record{})
	assert.Error(t, err)
	assert.Empty(t, mem.Records())
}
