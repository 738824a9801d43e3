package bootstrap

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missionlog/pkg/models"
	"missionlog/pkg/search"
	"missionlog/pkg/store"
)

func openTestStore(t *testing.T) {
	t.Helper()
	require.NoError(t, store.Open(t.TempDir()))
	t.Cleanup(func() { _ = store.Close() })
}

func putRecord(t *testing.T, id, title string) {
	t.Helper()
	_, _, err := store.AppendRecordWithOutbox(models.Record{
		ID:        id,
		Title:     title,
		CreatedAt: time.Now().UTC().UnixNano(),
	})
	require.NoError(t, err)
}

func TestRunPersistsVersionOnce(t *testing.T) {
	openTestStore(t)

	invoked, err := Run(context.Background(), "1.2.3")
	require.NoError(t, err)
	assert.True(t, invoked)
	assert.Equal(t, "1.2.3", StoredVersion())

	invoked, err = Run(context.Background(), "1.2.3")
	require.NoError(t, err)
	assert.False(t, invoked, "same version must be a no-op")

	invoked, err = Run(context.Background(), "1.3.0")
	require.NoError(t, err)
	assert.True(t, invoked)
	assert.Equal(t, "1.3.0", StoredVersion())

	// the in-progress marker never survives a clean run
	_, err = store.GetKey("system:migration_in_progress")
	assert.True(t, store.IsNotFound(err))
}

func TestEnsureIndexEpochEnqueuesRebuild(t *testing.T) {
	openTestStore(t)
	putRecord(t, "rec-1", "alpha")
	putRecord(t, "rec-2", "beta")

	// fresh store: no epoch marker, so the first boot rebuilds
	rebuilt, err := EnsureIndexEpoch(context.Background())
	require.NoError(t, err)
	assert.True(t, rebuilt)

	v, err := store.GetKey("system:index_epoch")
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(search.IndexEpoch), v)

	// two submissions plus two rebuild entries
	pending, err := store.CountOutbox(models.OutboxPending)
	require.NoError(t, err)
	assert.Equal(t, 4, pending)

	rebuilt, err = EnsureIndexEpoch(context.Background())
	require.NoError(t, err)
	assert.False(t, rebuilt, "matching epoch must not enqueue again")
}

func TestWarmMemoryIndex(t *testing.T) {
	openTestStore(t)
	putRecord(t, "rec-1", "night patrol")
	putRecord(t, "rec-2", "supply run")

	eng := search.NewMemory()
	n, err := WarmMemoryIndex(context.Background(), eng)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, eng.Len())

	hits, err := eng.Query(context.Background(), "patrol", 10, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "rec-1", hits[0].ID)

	// warm docs are versionless, so replayed outbox seqs still apply
	err = eng.Upsert(context.Background(), search.Document{ID: "rec-1", Title: "renamed patrol", Seq: 1})
	require.NoError(t, err)
	hits, err = eng.Query(context.Background(), "renamed", 10, 0)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}
