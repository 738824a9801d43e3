package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missionlog/pkg/config"
	"missionlog/pkg/indexer"
	"missionlog/pkg/ingest"
	"missionlog/pkg/models"
	"missionlog/pkg/query"
	"missionlog/pkg/search"
	"missionlog/pkg/store"
)

type downEngine struct{}

func (downEngine) Upsert(context.Context, search.Document) error {
	return fmt.Errorf("%w: backend down", search.ErrTransient)
}
func (downEngine) Delete(context.Context, string, uint64) error {
	return fmt.Errorf("%w: backend down", search.ErrTransient)
}
func (downEngine) Query(context.Context, string, int, int) ([]search.Hit, error) {
	return nil, fmt.Errorf("%w: backend down", search.ErrTransient)
}
func (downEngine) Ready(context.Context) error {
	return fmt.Errorf("%w: backend down", search.ErrTransient)
}

func newTestHandler(t *testing.T, engine search.Engine) (http.Handler, *indexer.Indexer) {
	t.Helper()
	require.NoError(t, store.Open(t.TempDir()))
	t.Cleanup(func() { _ = store.Close() })

	ix := indexer.New(indexer.Config{MaxAttempts: 1}, engine)
	d := Deps{
		Ingest:  ingest.New(engine, ix, 0),
		Query:   query.New(engine, 0, 0),
		Engine:  engine,
		Indexer: ix,
		Version: "test",
	}
	return Handler(d), ix
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body == "" {
		rd = bytes.NewReader(nil)
	} else {
		rd = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w, out
}

func TestCreateAndGetRecord(t *testing.T) {
	h, _ := newTestHandler(t, search.NewMemory())

	w, out := doJSON(t, h, http.MethodPost, "/v1/records",
		`{"title":"  Night Patrol ","description":"around sector4","tags":["Patrol","patrol"]}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "Night Patrol", out["title"])
	assert.Equal(t, []any{"patrol"}, out["tags"])
	id := out["id"].(string)
	require.NotEmpty(t, id)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	w, out = doJSON(t, h, http.MethodGet, "/v1/records/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Night Patrol", out["title"])

	w, _ = doJSON(t, h, http.MethodGet, "/v1/records/rec-does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateRecordValidation(t *testing.T) {
	h, _ := newTestHandler(t, search.NewMemory())

	w, out := doJSON(t, h, http.MethodPost, "/v1/records", `{"title":"   "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, out["error"], "title")

	w, out = doJSON(t, h, http.MethodPost, "/v1/records", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid json", out["error"])

	count, err := store.CountRecords()
	require.NoError(t, err)
	assert.Zero(t, count, "rejected submissions must not touch the store")
}

func TestCreateRecordBodyLimit(t *testing.T) {
	require.NoError(t, store.Open(t.TempDir()))
	t.Cleanup(func() { _ = store.Close() })

	eng := search.NewMemory()
	h := Handler(Deps{
		Ingest:          ingest.New(eng, nil, 0),
		Query:           query.New(eng, 0, 0),
		Engine:          eng,
		MaxRequestBytes: 64,
	})

	big := `{"title":"` + strings.Repeat("x", 200) + `"}`
	w, out := doJSON(t, h, http.MethodPost, "/v1/records", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "request body too large", out["error"])
}

func TestListRecordsNewestFirst(t *testing.T) {
	h, _ := newTestHandler(t, search.NewMemory())

	for _, title := range []string{"first", "second", "third"} {
		w, _ := doJSON(t, h, http.MethodPost, "/v1/records", `{"title":"`+title+`"}`)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w, _ := doJSON(t, h, http.MethodGet, "/v1/records?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Records []models.Record `json:"records"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Records, 2)
	assert.Equal(t, "third", resp.Records[0].Title)
	assert.Equal(t, "second", resp.Records[1].Title)
}

func TestSearchEndpoint(t *testing.T) {
	h, ix := newTestHandler(t, search.NewMemory())

	w, _ := doJSON(t, h, http.MethodPost, "/v1/records",
		`{"title":"Night Patrol","description":"a sweep around sector4"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	_, err := ix.DrainOnce(context.Background())
	require.NoError(t, err)

	w, _ = doJSON(t, h, http.MethodGet, "/v1/search?q=sector4", "")
	require.Equal(t, http.StatusOK, w.Code)
	var res query.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.False(t, res.Degraded)
	require.Len(t, res.Items, 1)
	assert.Contains(t, res.Items[0].Snippet, "<em>sector4</em>")

	// empty query is a valid empty result
	w, _ = doJSON(t, h, http.MethodGet, "/v1/search?q=", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Empty(t, res.Items)
	assert.False(t, res.Degraded)
}

func TestSearchDegradedFallback(t *testing.T) {
	h, _ := newTestHandler(t, downEngine{})

	w, _ := doJSON(t, h, http.MethodPost, "/v1/records",
		`{"title":"Night Patrol","description":"a sweep around sector4"}`)
	require.Equal(t, http.StatusCreated, w.Code, "submission survives a dead engine")

	w, _ = doJSON(t, h, http.MethodGet, "/v1/search?q=sector4", "")
	require.Equal(t, http.StatusOK, w.Code)
	var res query.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res.Degraded)
	require.Len(t, res.Items, 1)
}

func TestAdminStatsAndOutbox(t *testing.T) {
	h, ix := newTestHandler(t, search.NewMemory())

	w, _ := doJSON(t, h, http.MethodPost, "/v1/records", `{"title":"one"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	_, err := ix.DrainOnce(context.Background())
	require.NoError(t, err)

	w, out := doJSON(t, h, http.MethodGet, "/v1/admin/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), out["records"])
	assert.Equal(t, true, out["engine_ready"])
	outbox := out["outbox"].(map[string]any)
	assert.Equal(t, float64(1), outbox["acknowledged"])
	assert.Equal(t, float64(0), outbox["pending"])

	w, out = doJSON(t, h, http.MethodGet, "/v1/admin/outbox?status=acknowledged", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, out["entries"], 1)

	w, _ = doJSON(t, h, http.MethodGet, "/v1/admin/outbox?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, out = doJSON(t, h, http.MethodGet, "/v1/admin/keys?prefix=rec:", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, out["keys"], 1)
}

func TestAdminRetryOutbox(t *testing.T) {
	h, ix := newTestHandler(t, downEngine{})

	w, _ := doJSON(t, h, http.MethodPost, "/v1/records", `{"title":"doomed"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	// MaxAttempts is 1, one failed drain parks the entry terminally
	_, err := ix.DrainOnce(context.Background())
	require.NoError(t, err)
	failed, err := store.ListOutbox(models.OutboxFailed, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	seq := failed[0].Seq

	w, out := doJSON(t, h, http.MethodPost, fmt.Sprintf("/v1/admin/outbox/%d/retry", seq), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pending", out["status"])

	// retrying a pending entry conflicts
	w, _ = doJSON(t, h, http.MethodPost, fmt.Sprintf("/v1/admin/outbox/%d/retry", seq), "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = doJSON(t, h, http.MethodPost, "/v1/admin/outbox/99999/retry", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = doJSON(t, h, http.MethodPost, "/v1/admin/outbox/xyz/retry", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminRebuildIndex(t *testing.T) {
	eng := search.NewMemory()
	h, ix := newTestHandler(t, eng)

	for i := 0; i < 3; i++ {
		w, _ := doJSON(t, h, http.MethodPost, "/v1/records", fmt.Sprintf(`{"title":"entry %d"}`, i))
		require.Equal(t, http.StatusCreated, w.Code)
	}
	_, err := ix.DrainOnce(context.Background())
	require.NoError(t, err)

	w, out := doJSON(t, h, http.MethodPost, "/v1/admin/index/rebuild", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), out["enqueued"])
	assert.Equal(t, float64(3), out["applied"])
	assert.Equal(t, 3, eng.Len())
}

func TestHealthAndReady(t *testing.T) {
	h, _ := newTestHandler(t, search.NewMemory())

	w, out := doJSON(t, h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", out["status"])

	w, out = doJSON(t, h, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "test", out["version"])
}

func TestReadyzReportsDeadEngine(t *testing.T) {
	h, _ := newTestHandler(t, downEngine{})

	w, _ := doJSON(t, h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRequestIDEchoed(t *testing.T) {
	h, _ := newTestHandler(t, search.NewMemory())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "fixed-id-123")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "fixed-id-123", w.Header().Get(RequestIDHeader))
}

func TestRateLimitExceeded(t *testing.T) {
	require.NoError(t, store.Open(t.TempDir()))
	t.Cleanup(func() { _ = store.Close() })

	eng := search.NewMemory()
	sec := config.SecurityConfig{}
	sec.RateLimit.RPS = 1
	sec.RateLimit.Burst = 1
	h := Handler(Deps{
		Ingest: ingest.New(eng, nil, 0),
		Query:  query.New(eng, 0, 0),
		Engine: eng,
		Sec:    sec,
	})

	w, _ := doJSON(t, h, http.MethodGet, "/v1/records", "")
	require.Equal(t, http.StatusOK, w.Code)

	w, out := doJSON(t, h, http.MethodGet, "/v1/records", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate limit exceeded", out["error"])

	// probes stay exempt
	w, _ = doJSON(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
