package query

import (
	"context"
	"errors"
	"fmt"
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

func putRecord(t *testing.T, id, title, desc string, tags ...string) {
	t.Helper()
	_, _, err := store.AppendRecordWithOutbox(models.Record{
		ID: id, Title: title, Description: desc, Tags: tags,
	})
	require.NoError(t, err)
}

type slowEngine struct {
	delay time.Duration
	err   error
}

func (s slowEngine) Upsert(context.Context, search.Document) error     { return s.err }
func (s slowEngine) Delete(context.Context, string, uint64) error      { return s.err }
func (s slowEngine) Ready(context.Context) error                       { return s.err }
func (s slowEngine) Query(context.Context, string, int, int) ([]search.Hit, error) {
	// deliberately ignores cancellation, like a wedged backend
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return nil, s.err
	}
	return []search.Hit{{ID: "late"}}, nil
}

func TestSearchHealthyEngine(t *testing.T) {
	eng := search.NewMemory()
	require.NoError(t, eng.Upsert(context.Background(), search.Document{
		ID: "r1", Title: "Night Patrol", Description: "around sector4", Seq: 1,
	}))
	svc := New(eng, 0, 0)

	res, err := svc.Search(context.Background(), "sector4", 10, 0)
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "r1", res.Items[0].ID)
	assert.Greater(t, res.Items[0].Score, 0.0)
}

func TestSearchEmptyQuery(t *testing.T) {
	svc := New(search.NewMemory(), 0, 0)

	res, err := svc.Search(context.Background(), "   ", 10, 0)
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	assert.NotNil(t, res.Items)
	assert.Empty(t, res.Items)
}

func TestSearchNoMatchesIsNotDegraded(t *testing.T) {
	svc := New(search.NewMemory(), 0, 0)

	res, err := svc.Search(context.Background(), "nothing-here", 10, 0)
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	assert.Empty(t, res.Items)
}

func TestSearchFallbackOnEngineError(t *testing.T) {
	openTestStore(t)
	putRecord(t, "r1", "Night Patrol", "a sweep around sector4", "patrol")
	putRecord(t, "r2", "Supply run", "boring cargo work")

	svc := New(slowEngine{err: errors.New("engine down")}, 0, 0)

	res, err := svc.Search(context.Background(), "sector4", 10, 0)
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "r1", res.Items[0].ID)
	assert.Zero(t, res.Items[0].Score)
	assert.Equal(t, "a sweep around sector4", res.Items[0].Snippet)
}

func TestSearchFallbackMatchesTagsAndTitle(t *testing.T) {
	openTestStore(t)
	putRecord(t, "r1", "Alpha shift", "", "night-watch")
	putRecord(t, "r2", "Beta shift", "")

	svc := New(slowEngine{err: errors.New("down")}, 0, 0)

	res, err := svc.Search(context.Background(), "night-watch", 10, 0)
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "r1", res.Items[0].ID)

	res, err = svc.Search(context.Background(), "BETA", 10, 0)
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "r2", res.Items[0].ID)
}

func TestSearchFallbackTimeoutBounded(t *testing.T) {
	openTestStore(t)
	putRecord(t, "r1", "Night Patrol", "around sector4")

	svc := New(slowEngine{delay: 500 * time.Millisecond}, 30*time.Millisecond, 0)

	start := time.Now()
	res, err := svc.Search(context.Background(), "sector4", 10, 0)
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	require.Len(t, res.Items, 1)
	assert.Less(t, elapsed, 400*time.Millisecond, "the slow engine call must be abandoned")
}

func TestSearchFallbackScanBound(t *testing.T) {
	openTestStore(t)
	for i := 0; i < 6; i++ {
		putRecord(t, fmt.Sprintf("r%d", i), "same title", "shared text")
	}

	svc := New(slowEngine{err: errors.New("down")}, 0, 3)

	res, err := svc.Search(context.Background(), "shared", 10, 0)
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Len(t, res.Items, 3, "only scan_limit records may be examined")
}

func TestSearchFallbackOffsetAndLimit(t *testing.T) {
	openTestStore(t)
	for i := 0; i < 5; i++ {
		putRecord(t, fmt.Sprintf("r%d", i), "same title", "shared text")
	}

	svc := New(slowEngine{err: errors.New("down")}, 0, 0)

	res, err := svc.Search(context.Background(), "shared", 2, 0)
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)

	res, err = svc.Search(context.Background(), "shared", 10, 3)
	require.NoError(t, err)
	assert.Len(t, res.Items, 2, "offset skips matches")
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, ClampLimit(0))
	assert.Equal(t, DefaultLimit, ClampLimit(-4))
	assert.Equal(t, 7, ClampLimit(7))
	assert.Equal(t, MaxLimit, ClampLimit(MaxLimit))
	assert.Equal(t, MaxLimit, ClampLimit(MaxLimit+1))
}
