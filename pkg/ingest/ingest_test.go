package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missionlog/pkg/models"
	"missionlog/pkg/search"
	"missionlog/pkg/store"
	"missionlog/pkg/validation"
)

func openTestStore(t *testing.T) {
	t.Helper()
	require.NoError(t, store.Open(t.TempDir()))
	t.Cleanup(func() { _ = store.Close() })
}

type downEngine struct{}

func (downEngine) Upsert(context.Context, search.Document) error {
	return errors.New("engine unreachable")
}
func (downEngine) Delete(context.Context, string, uint64) error {
	return errors.New("engine unreachable")
}
func (downEngine) Query(context.Context, string, int, int) ([]search.Hit, error) {
	return nil, errors.New("engine unreachable")
}
func (downEngine) Ready(context.Context) error { return errors.New("engine unreachable") }

type countNudge struct{ n int }

func (c *countNudge) Nudge() { c.n++ }

func TestSubmitDurableRoundTrip(t *testing.T) {
	openTestStore(t)
	svc := New(nil, nil, 0)

	rec, err := svc.Submit(context.Background(), SubmitInput{
		Title:       "  Night Patrol  ",
		Description: " around sector4 ",
		Tags:        []string{" Patrol", "URGENT ", "patrol", ""},
	})
	require.NoError(t, err)
	assert.Equal(t, "Night Patrol", rec.Title)
	assert.Equal(t, "around sector4", rec.Description)
	assert.Equal(t, []string{"patrol", "urgent"}, rec.Tags)
	assert.NotEmpty(t, rec.ID)
	assert.NotZero(t, rec.CreatedAt)

	raw, err := store.GetRecord(rec.ID)
	require.NoError(t, err)
	var stored models.Record
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	assert.Equal(t, rec, stored)

	pending, err := store.CountOutbox(models.OutboxPending)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestSubmitRejectsEmptyTitle(t *testing.T) {
	openTestStore(t)
	svc := New(nil, nil, 0)

	_, err := svc.Submit(context.Background(), SubmitInput{Title: "   "})
	require.Error(t, err)
	assert.True(t, validation.IsValidation(err))

	var ve *validation.Error
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "title", ve.Field)

	// nothing may leak into the store on rejection
	count, err := store.CountRecords()
	require.NoError(t, err)
	assert.Zero(t, count)
	pending, err := store.CountOutbox("")
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestSubmitPushesImmediately(t *testing.T) {
	openTestStore(t)
	eng := search.NewMemory()
	svc := New(eng, nil, 0)

	rec, err := svc.Submit(context.Background(), SubmitInput{Title: "Night Patrol", Tags: []string{"sector4"}})
	require.NoError(t, err)

	// searchable before any outbox drain ran
	hits, err := eng.Query(context.Background(), "sector4", 10, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, rec.ID, hits[0].ID)
}

func TestSubmitSurvivesEnginePushFailure(t *testing.T) {
	openTestStore(t)
	nudge := &countNudge{}
	svc := New(downEngine{}, nudge, 0)

	rec, err := svc.Submit(context.Background(), SubmitInput{Title: "Still accepted"})
	require.NoError(t, err)

	has, err := store.HasRecord(rec.ID)
	require.NoError(t, err)
	assert.True(t, has)

	// the outbox keeps the work and the indexer got poked regardless
	pending, err := store.CountOutbox(models.OutboxPending)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
	assert.Equal(t, 1, nudge.n)
}

func TestSubmitUpsertKeepsCreationTime(t *testing.T) {
	openTestStore(t)
	svc := New(nil, nil, 0)

	first, err := svc.Submit(context.Background(), SubmitInput{Title: "one"})
	require.NoError(t, err)

	// same ID path is exercised through the store directly since Submit
	// always mints fresh IDs
	again, _, err := store.AppendRecordWithOutbox(models.Record{ID: first.ID, Title: "two"})
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt, again.CreatedAt)
}
