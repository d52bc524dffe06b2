package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/deadletter"
	"relay/pkg/models"
)

func TestDeadLetterRepository_Roundtrip(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)

	ctx := context.Background()
	repo := deadletter.NewRepository(infra.PostgresDB)

	event := models.InboundEvent{
		ID:        "msg-1",
		Source:    "blob:raw/a.json",
		EventType: "created",
		Parameters: map[string]interface{}{
			"url": "https://acct.blob.core.windows.net/c/raw/a.json",
		},
	}

	entry := deadletter.NewEntry(event, "retry budget exhausted", 3)
	require.NoError(t, repo.Insert(ctx, entry))
	assert.NotZero(t, entry.ID)

	entries, err := repo.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got := entries[0]
	assert.Equal(t, "msg-1", got.Event.ID)
	assert.Equal(t, "blob:raw/a.json", got.Event.Source)
	assert.Equal(t, "retry budget exhausted", got.FailureReason)
	assert.Equal(t, 3, got.AttemptCount)

	require.NoError(t, repo.Delete(ctx, got.ID))

	entries, err = repo.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDeadLetterRepository_RecordAttempt(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)

	ctx := context.Background()
	repo := deadletter.NewRepository(infra.PostgresDB)

	entry := deadletter.NewEntry(models.InboundEvent{ID: "msg-1"}, "boom", 1)
	require.NoError(t, repo.Insert(ctx, entry))

	require.NoError(t, repo.RecordAttempt(ctx, entry.ID))
	require.NoError(t, repo.RecordAttempt(ctx, entry.ID))

	entries, err := repo.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 2, entries[0].ReplayCount)
	assert.Equal(t, 1, entries[0].AttemptCount)

	err = repo.RecordAttempt(ctx, 99999)
	require.Error(t, err)
}

func TestDeadLetterRepository_ListOrdersOldestFirst(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, true, false, false)

	ctx := context.Background()
	repo := deadletter.NewRepository(infra.PostgresDB)

	for _, id := range []string{"msg-1", "msg-2", "msg-3"} {
		require.NoError(t, repo.Insert(ctx, deadletter.NewEntry(models.InboundEvent{ID: id}, "boom", 0)))
	}

	entries, err := repo.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "msg-1", entries[0].Event.ID)
	assert.Equal(t, "msg-2", entries[1].Event.ID)
}
