// Package query serves searches with a degraded fallback: when the
// engine cannot answer inside the deadline the store is scanned directly,
// so reads stay available while the index is down.
package query

import (
	"context"
	"strings"
	"time"

	"missionlog/pkg/logger"
	"missionlog/pkg/models"
	"missionlog/pkg/search"
	"missionlog/pkg/store"
	"missionlog/pkg/telemetry"
)

const (
	defaultTimeout   = 800 * time.Millisecond
	defaultScanLimit = 500

	// limit bounds exposed to the HTTP layer
	DefaultLimit = 10
	MaxLimit     = 100
)

// Result is a query answer. Degraded means the hits came from the
// fallback store scan, unranked, rather than the index.
type Result struct {
	Items    []search.Hit `json:"items"`
	Degraded bool         `json:"degraded"`
}

// Service answers search queries.
type Service struct {
	engine    search.Engine
	timeout   time.Duration
	scanLimit int
}

// New builds the query service. Zero timeout and scanLimit fall back to
// 800ms and 500 records.
func New(engine search.Engine, timeout time.Duration, scanLimit int) *Service {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if scanLimit <= 0 {
		scanLimit = defaultScanLimit
	}
	return &Service{engine: engine, timeout: timeout, scanLimit: scanLimit}
}

// ClampLimit normalizes a caller-supplied limit into [1, MaxLimit].
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Search runs the engine query under the service deadline and falls back
// to a bounded store scan when the engine fails or times out.
func (s *Service) Search(ctx context.Context, text string, limit, offset int) (Result, error) {
	tr := telemetry.Track("query.search")
	defer tr.Finish()

	telemetry.Queries.Inc()
	limit = ClampLimit(limit)
	if offset < 0 {
		offset = 0
	}
	if strings.TrimSpace(text) == "" {
		return Result{Items: []search.Hit{}}, nil
	}

	hits, err := s.queryEngine(ctx, text, limit, offset)
	tr.Mark("engine")
	if err == nil {
		if hits == nil {
			hits = []search.Hit{}
		}
		return Result{Items: hits}, nil
	}

	logger.Warn("search_degraded", "error", err, "query_len", len(text))
	telemetry.QueriesDegraded.Inc()

	items, scanErr := s.scanFallback(text, limit, offset)
	tr.Mark("fallback")
	if scanErr != nil {
		return Result{}, scanErr
	}
	return Result{Items: items, Degraded: true}, nil
}

// queryEngine bounds the engine call with the service timeout. A call
// that outlives the deadline is abandoned; its late result is discarded.
func (s *Service) queryEngine(ctx context.Context, text string, limit, offset int) ([]search.Hit, error) {
	if s.engine == nil {
		return nil, search.ErrTransient
	}
	qctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type answer struct {
		hits []search.Hit
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		hits, err := s.engine.Query(qctx, text, limit, offset)
		ch <- answer{hits: hits, err: err}
	}()

	select {
	case a := <-ch:
		return a.hits, a.err
	case <-qctx.Done():
		return nil, qctx.Err()
	}
}

// scanFallback is the availability net: a case-insensitive substring
// match over at most scanLimit records, newest unranked.
func (s *Service) scanFallback(text string, limit, offset int) ([]search.Hit, error) {
	needle := strings.ToLower(strings.TrimSpace(text))

	matched := 0
	items := []search.Hit{}
	err := store.ScanRecords(s.scanLimit, func(rec models.Record) bool {
		if !recordMatches(rec, needle) {
			return true
		}
		matched++
		if matched <= offset {
			return true
		}
		items = append(items, search.Hit{
			ID:      rec.ID,
			Snippet: search.MakeSnippet(rec.Description, nil),
		})
		return len(items) < limit
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func recordMatches(rec models.Record, needle string) bool {
	if strings.Contains(strings.ToLower(rec.Title), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(rec.Description), needle) {
		return true
	}
	for _, tag := range rec.Tags {
		if strings.Contains(tag, needle) {
			return true
		}
	}
	return false
}
