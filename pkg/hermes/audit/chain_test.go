package audit

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainManager_ComputeHash(t *testing.T) {
	cm := NewChainManager([]byte("secret"))
	event := &Event{
		ID:        "1",
		RunID:     "run-1",
		Timestamp: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		Action:    ActionRunStarted,
		Result:    ResultSuccess,
	}

	hash1, err := cm.ComputeHash(event)
	require.NoError(t, err)
	assert.NotEmpty(t, hash1)

	hash2, err := cm.ComputeHash(event)
	require.NoError(t, err)
	assert.Equal(t, hash1, hash2)

	event.Result = ResultError
	hash3, err := cm.ComputeHash(event)
	require.NoError(t, err)
	assert.NotEqual(t, hash1, hash3)
}

func TestChainManager_VerifyChain(t *testing.T) {
	cm := NewChainManager([]byte("secret"))

	event1 := Event{ID: "1", Timestamp: time.Now(), Action: ActionRunStarted}
	hash1, err := cm.ComputeHash(&event1)
	require.NoError(t, err)
	event1.Hash = hash1

	event2 := Event{ID: "2", Timestamp: time.Now(), Action: ActionSiteExcluded, SiteID: "S9", PreviousHash: hash1}
	hash2, err := cm.ComputeHash(&event2)
	require.NoError(t, err)
	event2.Hash = hash2

	events := []Event{event1, event2}
	assert.NoError(t, cm.VerifyChain(events))

	events[0].Hash = "tampered"
	err = cm.VerifyChain(events)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hash mismatch")

	// A re-signed event with a forged link fails the link check
	events[0].Hash = hash1
	events[1].PreviousHash = "tampered"
	events[1].Hash, _ = cm.ComputeHash(&events[1])

	err = cm.VerifyChain(events)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chain broken")
}

func TestTamperEvidentStore_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	cm := NewChainManager([]byte("k"))
	auditor := NewStandardAuditor(NewTamperEvidentStore(NewLogStore(&buf), cm))
	ctx := context.Background()

	require.NoError(t, auditor.Record(ctx, &Event{RunID: "r", Action: ActionRunStarted}))
	require.NoError(t, auditor.Record(ctx, &Event{RunID: "r", Action: ActionSiteExcluded, SiteID: "S2",
		Metadata: map[string]any{"required": 63}}))
	require.NoError(t, auditor.Record(ctx, &Event{RunID: "r", Action: ActionRunCompleted}))

	events, err := ReadEvents(&buf)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.NotEmpty(t, events[0].ID)
	assert.Equal(t, ResultSuccess, events[0].Result)
	assert.Equal(t, events[0].Hash, events[1].PreviousHash)
	assert.NoError(t, cm.VerifyChain(events))

	events[1].SiteID = "S3"
	assert.Error(t, cm.VerifyChain(events))
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	auditor := NewStandardAuditor(store)
	require.NoError(t, auditor.Record(context.Background(), &Event{Action: ActionPolicyUpdated}))

	events := store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, ActionPolicyUpdated, events[0].Action)
	assert.False(t, events[0].Timestamp.IsZero())
}
