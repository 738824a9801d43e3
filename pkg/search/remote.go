package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/bytebufferpool"
	"github.com/valyala/fasthttp"

	"missionlog/pkg/logger"
)

// indexMappings is the schema pushed when the index does not exist yet.
// Tags are keywords so exact tag matches rank without analysis.
const indexMappings = `{"mappings":{"properties":{"title":{"type":"text"},"description":{"type":"text"},"tags":{"type":"keyword"},"created_at":{"type":"long"}}}}`

const defaultRemoteTimeout = 5 * time.Second

// Remote talks to an OpenSearch-compatible backend over HTTP. Writes use
// external versioning with the outbox seq so replays and races resolve to
// the newest document regardless of arrival order.
type Remote struct {
	endpoint string
	index    string
	timeout  time.Duration
	client   *fasthttp.Client
}

var _ Engine = (*Remote)(nil)

// NewRemote builds a client for the backend at endpoint. The index name
// falls back to DefaultIndex and the per-request timeout to 5s.
func NewRemote(endpoint, index string, timeout time.Duration) *Remote {
	if index == "" {
		index = DefaultIndex
	}
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	return &Remote{
		endpoint: strings.TrimRight(endpoint, "/"),
		index:    index,
		timeout:  timeout,
		client:   &fasthttp.Client{Name: "missionlog"},
	}
}

// EnsureIndex creates the index with its mappings when missing. Safe to
// call on every startup.
func (r *Remote) EnsureIndex(_ context.Context) error {
	uri := r.endpoint + "/" + r.index
	status, body, err := r.do(fasthttp.MethodHead, uri, nil)
	if err != nil {
		return err
	}
	if status == fasthttp.StatusOK {
		return nil
	}
	if status != fasthttp.StatusNotFound {
		return classify(status, body, "head index")
	}
	status, body, err = r.do(fasthttp.MethodPut, uri, []byte(indexMappings))
	if err != nil {
		return err
	}
	if err := classify(status, body, "create index"); err != nil {
		return err
	}
	logger.Info("search_index_created", "index", r.index, "endpoint", r.endpoint)
	return nil
}

// Upsert writes the document at its outbox seq. A version conflict means
// a newer write already landed and counts as success.
func (r *Remote) Upsert(_ context.Context, doc Document) error {
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)
	if err := json.NewEncoder(bb).Encode(doc); err != nil {
		return fmt.Errorf("%w: encode document %s: %v", ErrPermanent, doc.ID, err)
	}

	uri := fmt.Sprintf("%s/%s/_doc/%s?version_type=external&version=%d&refresh=true",
		r.endpoint, r.index, doc.ID, doc.Seq)
	status, body, err := r.do(fasthttp.MethodPut, uri, bb.B)
	if err != nil {
		return err
	}
	if status == fasthttp.StatusConflict {
		logger.Debug("search_version_conflict", "id", doc.ID, "seq", doc.Seq)
		return nil
	}
	return classify(status, body, "upsert "+doc.ID)
}

// Delete removes the document at seq. Absent documents and version
// conflicts both count as success.
func (r *Remote) Delete(_ context.Context, id string, seq uint64) error {
	uri := fmt.Sprintf("%s/%s/_doc/%s?version_type=external&version=%d&refresh=true",
		r.endpoint, r.index, id, seq)
	status, body, err := r.do(fasthttp.MethodDelete, uri, nil)
	if err != nil {
		return err
	}
	if status == fasthttp.StatusNotFound || status == fasthttp.StatusConflict {
		return nil
	}
	return classify(status, body, "delete "+id)
}

// Query runs a multi_match over the weighted fields with description
// highlighting and maps the response hits.
func (r *Remote) Query(_ context.Context, text string, limit, offset int) ([]Hit, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if offset < 0 {
		offset = 0
	}
	body := map[string]any{
		"from": offset,
		"size": limit,
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":  text,
				"fields": []string{"title^2", "description", "tags^2"},
			},
		},
		"highlight": map[string]any{
			"pre_tags":  []string{"<em>"},
			"post_tags": []string{"</em>"},
			"fields":    map[string]any{"description": map[string]any{}},
		},
	}
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)
	if err := json.NewEncoder(bb).Encode(body); err != nil {
		return nil, fmt.Errorf("%w: encode query: %v", ErrPermanent, err)
	}

	status, resp, err := r.do(fasthttp.MethodPost, r.endpoint+"/"+r.index+"/_search", bb.B)
	if err != nil {
		return nil, err
	}
	if err := classify(status, resp, "search"); err != nil {
		return nil, err
	}

	var out struct {
		Hits struct {
			Hits []struct {
				ID        string              `json:"_id"`
				Score     float64             `json:"_score"`
				Source    Document            `json:"_source"`
				Highlight map[string][]string `json:"highlight"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		return nil, fmt.Errorf("%w: decode search response: %v", ErrTransient, err)
	}

	hits := make([]Hit, 0, len(out.Hits.Hits))
	for _, h := range out.Hits.Hits {
		snippet := ""
		if hl := h.Highlight["description"]; len(hl) > 0 {
			snippet = hl[0]
		} else if h.Source.Description != "" {
			snippet = clipRunes(h.Source.Description, 0, snippetWindow, false)
		}
		hits = append(hits, Hit{ID: h.ID, Score: h.Score, Snippet: snippet})
	}
	return hits, nil
}

// Ready probes the index so readiness reflects both backend reachability
// and index existence.
func (r *Remote) Ready(_ context.Context) error {
	status, body, err := r.do(fasthttp.MethodHead, r.endpoint+"/"+r.index, nil)
	if err != nil {
		return err
	}
	return classify(status, body, "head index")
}

// do runs one request with the configured timeout. Network and timeout
// failures come back as transient.
func (r *Remote) do(method, uri string, body []byte) (int, []byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(uri)
	req.Header.SetMethod(method)
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBodyRaw(body)
	}
	if err := r.client.DoTimeout(req, resp, r.timeout); err != nil {
		return 0, nil, fmt.Errorf("%w: %s %s: %v", ErrTransient, method, uri, err)
	}
	out := append([]byte(nil), resp.Body()...)
	return resp.StatusCode(), out, nil
}

// classify maps a response status onto the engine error taxonomy: 2xx is
// success, 429 and 5xx are transient, everything else is permanent.
func classify(status int, body []byte, op string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == fasthttp.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%w: %s: status %d: %s", ErrTransient, op, status, truncateBody(body))
	default:
		return fmt.Errorf("%w: %s: status %d: %s", ErrPermanent, op, status, truncateBody(body))
	}
}

func truncateBody(body []byte) string {
	const max = 256
	if len(body) > max {
		body = body[:max]
	}
	return string(body)
}
