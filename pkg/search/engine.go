// Package search defines the index engine contract and its two
// implementations: an embedded in-memory BM25 index used when no external
// backend is configured, and a client for an OpenSearch-compatible HTTP
// backend. Both apply writes idempotently and last-writer-wins by Seq.
package search

import (
	"context"
	"errors"

	"missionlog/pkg/models"
)

// DefaultIndex is the index name used when none is configured.
const DefaultIndex = "missionlog-records"

// IndexEpoch versions the index schema. Bump it when mappings, analysis
// or document shape change; boots that see an older stored epoch enqueue
// a full rebuild from the store.
const IndexEpoch = 1

// Engine failures are classified so the indexer knows whether to retry.
// Transient failures are retried with backoff; permanent ones park the
// outbox entry immediately.
var (
	ErrTransient = errors.New("search: transient failure")
	ErrPermanent = errors.New("search: permanent failure")
)

// IsTransient reports whether err is a retryable engine failure.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }

// IsPermanent reports whether err is a non-retryable engine failure.
func IsPermanent(err error) bool { return errors.Is(err, ErrPermanent) }

// Document is the indexed projection of a record. Seq is the outbox
// sequence of the write that produced it and acts as the document's
// external version: the index keeps whichever version is newest.
type Document struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	CreatedAt   int64    `json:"created_at"`
	Seq         uint64   `json:"-"`
}

// DocumentFromRecord projects a stored record into its indexed form.
func DocumentFromRecord(rec models.Record, seq uint64) Document {
	return Document{
		ID:          rec.ID,
		Title:       rec.Title,
		Description: rec.Description,
		Tags:        rec.Tags,
		CreatedAt:   rec.CreatedAt,
		Seq:         seq,
	}
}

// Hit is one ranked query result.
type Hit struct {
	ID      string  `json:"id"`
	Score   float64 `json:"score"`
	Snippet string  `json:"snippet,omitempty"`
}

// Engine indexes documents and serves ranked queries.
type Engine interface {
	// Upsert adds or replaces a document. A document older than the one
	// already indexed for the same ID is dropped without error.
	Upsert(ctx context.Context, doc Document) error
	// Delete removes a document. Deleting an absent document is not an
	// error, and the seq is remembered so a late stale upsert cannot
	// resurrect it.
	Delete(ctx context.Context, id string, seq uint64) error
	// Query returns up to limit hits ranked by relevance, skipping the
	// first offset. An empty query returns no hits.
	Query(ctx context.Context, text string, limit, offset int) ([]Hit, error)
	// Ready reports whether the engine can serve queries now.
	Ready(ctx context.Context) error
}
