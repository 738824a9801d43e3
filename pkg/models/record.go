package models

// Record is the canonical persisted submission. Records are upserted by
// ID with their creation time preserved, and the search index holds only
// a derived projection of them.
type Record struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	// Tags are normalized at ingestion: trimmed, lower-cased, deduplicated
	// and stored sorted so equality checks are stable.
	Tags []string `json:"tags,omitempty"`
	// Created timestamp (ns, UTC)
	CreatedAt int64 `json:"created_at"`
}
