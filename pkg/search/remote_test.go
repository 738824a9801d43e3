package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRemote(t *testing.T, handler http.HandlerFunc) *Remote {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewRemote(srv.URL, "testidx", 2*time.Second)
}

func TestRemoteUpsertRequestShape(t *testing.T) {
	var gotMethod, gotPath, gotQuery string
	var gotBody map[string]any
	r := newTestRemote(t, func(w http.ResponseWriter, req *http.Request) {
		gotMethod = req.Method
		gotPath = req.URL.Path
		gotQuery = req.URL.RawQuery
		body, _ := io.ReadAll(req.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.WriteHeader(http.StatusCreated)
	})

	err := r.Upsert(context.Background(), Document{
		ID: "rec-1", Title: "Night Patrol", Description: "around sector4",
		Tags: []string{"patrol"}, CreatedAt: 42, Seq: 17,
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/testidx/_doc/rec-1", gotPath)
	assert.Equal(t, "version_type=external&version=17&refresh=true", gotQuery)
	assert.Equal(t, "Night Patrol", gotBody["title"])
	assert.Equal(t, "rec-1", gotBody["id"])
	_, hasSeq := gotBody["seq"]
	assert.False(t, hasSeq, "seq travels as the external version, not in the body")
}

func TestRemoteUpsertConflictIsSuccess(t *testing.T) {
	r := newTestRemote(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	err := r.Upsert(context.Background(), Document{ID: "rec-1", Title: "x", Seq: 3})
	assert.NoError(t, err)
}

func TestRemoteErrorTaxonomy(t *testing.T) {
	r := newTestRemote(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	err := r.Upsert(context.Background(), Document{ID: "rec-1", Title: "x", Seq: 1})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.False(t, IsPermanent(err))

	r = newTestRemote(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	err = r.Upsert(context.Background(), Document{ID: "rec-1", Title: "x", Seq: 1})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))

	r = newTestRemote(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	err = r.Upsert(context.Background(), Document{ID: "rec-1", Title: "x", Seq: 1})
	require.Error(t, err)
	assert.True(t, IsTransient(err))

	// unreachable backend
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	dead := NewRemote(srv.URL, "testidx", 500*time.Millisecond)
	srv.Close()
	err = dead.Upsert(context.Background(), Document{ID: "rec-1", Title: "x", Seq: 1})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestRemoteDeleteTolerant(t *testing.T) {
	var gotPath string
	r := newTestRemote(t, func(w http.ResponseWriter, req *http.Request) {
		gotPath = req.URL.Path
		w.WriteHeader(http.StatusNotFound)
	})
	require.NoError(t, r.Delete(context.Background(), "gone", 9))
	assert.Equal(t, "/testidx/_doc/gone", gotPath)

	r = newTestRemote(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	require.NoError(t, r.Delete(context.Background(), "stale", 2))
}

func TestRemoteQuery(t *testing.T) {
	var gotBody map[string]any
	r := newTestRemote(t, func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/testidx/_search", req.URL.Path)
		body, _ := io.ReadAll(req.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"hits": {"hits": [
				{"_id": "a", "_score": 2.5,
				 "_source": {"id": "a", "title": "Night Patrol", "description": "around sector4"},
				 "highlight": {"description": ["around <em>sector4</em>"]}},
				{"_id": "b", "_score": 1.0,
				 "_source": {"id": "b", "title": "Other", "description": "plain text"}}
			]}
		}`))
	})

	hits, err := r.Query(context.Background(), "sector4", 5, 0)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)
	assert.Equal(t, 2.5, hits[0].Score)
	assert.Equal(t, "around <em>sector4</em>", hits[0].Snippet)
	assert.Equal(t, "plain text", hits[1].Snippet)

	query := gotBody["query"].(map[string]any)["multi_match"].(map[string]any)
	assert.Equal(t, "sector4", query["query"])
	assert.ElementsMatch(t, []any{"title^2", "description", "tags^2"}, query["fields"])
	assert.Equal(t, float64(5), gotBody["size"])
	assert.Equal(t, float64(0), gotBody["from"])
}

func TestRemoteQueryEmptyText(t *testing.T) {
	r := newTestRemote(t, func(w http.ResponseWriter, _ *http.Request) {
		t.Error("no request expected for an empty query")
	})
	hits, err := r.Query(context.Background(), "  ", 5, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestRemoteEnsureIndex(t *testing.T) {
	var puts int
	exists := false
	r := newTestRemote(t, func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodHead:
			if exists {
				w.WriteHeader(http.StatusOK)
			} else {
				w.WriteHeader(http.StatusNotFound)
			}
		case http.MethodPut:
			assert.Equal(t, "/testidx", req.URL.Path)
			body, _ := io.ReadAll(req.Body)
			assert.Contains(t, string(body), `"mappings"`)
			puts++
			exists = true
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	require.NoError(t, r.EnsureIndex(context.Background()))
	require.NoError(t, r.EnsureIndex(context.Background()))
	assert.Equal(t, 1, puts, "index is only created once")

	require.NoError(t, r.Ready(context.Background()))
}
