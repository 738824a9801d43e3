package models

// Outbox operation kinds. Delete is reserved for the future update/delete
// extension; the pipeline applies it end to end but no public endpoint
// emits it yet.
const (
	OpIndex  = "index"
	OpDelete = "delete"
)

// Outbox entry statuses.
const (
	OutboxPending      = "pending"
	OutboxAcknowledged = "acknowledged"
	OutboxFailed       = "failed"
)

// OutboxEntry records one pending index operation. It is written in the
// same batch as its Record and mutated only by the indexer (and the admin
// requeue path). Seq is assigned by the store and orders application per
// record id.
type OutboxEntry struct {
	Seq      uint64 `json:"seq"`
	RecordID string `json:"record_id"`
	Op       string `json:"op"`
	Status   string `json:"status"`

	AttemptCount int `json:"attempt_count,omitempty"`
	// Timestamps (ns, UTC)
	EnqueuedAt    int64 `json:"enqueued_at"`
	LastAttemptAt int64 `json:"last_attempt_at,omitempty"`
	// NextAttemptAt gates retry scheduling; the indexer skips entries whose
	// backoff window has not elapsed.
	NextAttemptAt int64  `json:"next_attempt_at,omitempty"`
	AckedAt       int64  `json:"acked_at,omitempty"`
	LastError     string `json:"last_error,omitempty"`
}

// Terminal reports whether the entry will never be retried automatically.
func (e OutboxEntry) Terminal() bool { return e.Status == OutboxFailed }
