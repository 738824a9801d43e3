package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"missionlog/pkg/logger"
	"missionlog/pkg/models"
	"missionlog/pkg/telemetry"
)

// ErrNotFailed is returned when a requeue targets an outbox entry that is
// not in the failed state.
var ErrNotFailed = errors.New("outbox entry not in failed state")

// maxStoredError caps how much of an attempt error is persisted with the
// outbox entry.
const maxStoredError = 1024

// AppendRecordWithOutbox persists rec and enqueues an index operation for
// it in a single atomic batch. If a record with the same ID exists its
// original creation time is preserved, so resubmitting is an idempotent
// upsert. Returns the stored record and its outbox sequence.
func AppendRecordWithOutbox(rec models.Record) (models.Record, uint64, error) {
	tr := telemetry.Track("store.append_record")
	defer tr.Finish()

	if db == nil {
		return rec, 0, fmt.Errorf("%w: pebble not opened; call store.Open first", ErrUnavailable)
	}
	if rec.ID == "" {
		return rec, 0, fmt.Errorf("record id missing")
	}

	now := time.Now().UTC().UnixNano()
	if prev, err := GetRecord(rec.ID); err == nil {
		var old models.Record
		if json.Unmarshal([]byte(prev), &old) == nil && old.CreatedAt != 0 {
			rec.CreatedAt = old.CreatedAt
		}
	} else if !IsNotFound(err) {
		return rec, 0, err
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = now
	}
	tr.Mark("load_prev")

	data, err := json.Marshal(rec)
	if err != nil {
		return rec, 0, fmt.Errorf("failed to marshal record: %w", err)
	}

	seq := atomic.AddUint64(&outboxSeq, 1)
	entry := models.OutboxEntry{
		Seq:        seq,
		RecordID:   rec.ID,
		Op:         models.OpIndex,
		Status:     models.OutboxPending,
		EnqueuedAt: now,
	}
	entryData, err := json.Marshal(entry)
	if err != nil {
		return rec, 0, fmt.Errorf("failed to marshal outbox entry: %w", err)
	}

	batch := new(pebble.Batch)
	_ = batch.Set([]byte(GenRecordKey(rec.ID)), data, pebble.Sync)
	_ = batch.Set([]byte(GenCreatedKey(rec.CreatedAt, rec.ID)), data, pebble.Sync)
	_ = batch.Set([]byte(GenOutboxKey(seq)), entryData, pebble.Sync)
	if err := ApplyBatch(batch, true); err != nil {
		logger.Error("append_record_failed", "id", rec.ID, "seq", seq, "error", err)
		return rec, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	tr.Mark("apply")
	logger.Info("record_committed", "id", rec.ID, "seq", seq)
	return rec, seq, nil
}

// DeleteRecordWithOutbox removes a record and enqueues a delete operation
// for the search index in one atomic batch. Returns pebble.ErrNotFound
// when no such record exists.
func DeleteRecordWithOutbox(id string) (uint64, error) {
	tr := telemetry.Track("store.delete_record")
	defer tr.Finish()

	if db == nil {
		return 0, fmt.Errorf("%w: pebble not opened; call store.Open first", ErrUnavailable)
	}
	stored, err := GetRecord(id)
	if err != nil {
		return 0, err
	}
	var rec models.Record
	if err := json.Unmarshal([]byte(stored), &rec); err != nil {
		return 0, fmt.Errorf("invalid stored record %s: %w", id, err)
	}

	seq := atomic.AddUint64(&outboxSeq, 1)
	entry := models.OutboxEntry{
		Seq:        seq,
		RecordID:   id,
		Op:         models.OpDelete,
		Status:     models.OutboxPending,
		EnqueuedAt: time.Now().UTC().UnixNano(),
	}
	entryData, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal outbox entry: %w", err)
	}

	batch := new(pebble.Batch)
	_ = batch.Delete([]byte(GenRecordKey(id)), pebble.Sync)
	_ = batch.Delete([]byte(GenCreatedKey(rec.CreatedAt, id)), pebble.Sync)
	_ = batch.Set([]byte(GenOutboxKey(seq)), entryData, pebble.Sync)
	if err := ApplyBatch(batch, true); err != nil {
		logger.Error("delete_record_failed", "id", id, "seq", seq, "error", err)
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	logger.Info("record_deleted", "id", id, "seq", seq)
	return seq, nil
}

// PeekPendingOutbox returns up to limit pending entries that are due at
// now, in sequence order. When an entry is not yet due, later entries for
// the same record are held back too, so per-record ordering survives
// backoff. Terminally failed entries do not hold back newer work for
// their record; external versioning keeps the index converged.
func PeekPendingOutbox(limit int, now int64) ([]models.OutboxEntry, error) {
	tr := telemetry.Track("store.peek_outbox")
	defer tr.Finish()

	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(OutboxPrefix),
		UpperBound: nextPrefix([]byte(OutboxPrefix)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []models.OutboxEntry
	blocked := make(map[string]bool)
	for iter.First(); iter.Valid(); iter.Next() {
		var e models.OutboxEntry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			logger.Warn("outbox_bad_entry", "key", string(iter.Key()), "error", err)
			continue
		}
		if e.Status != models.OutboxPending {
			continue
		}
		if blocked[e.RecordID] {
			continue
		}
		if e.NextAttemptAt > now {
			blocked[e.RecordID] = true
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, iter.Error()
}

// MarkOutboxAcknowledged marks the entry as applied to the search index.
func MarkOutboxAcknowledged(seq uint64) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	e, err := loadOutboxEntry(seq)
	if err != nil {
		return err
	}
	e.Status = models.OutboxAcknowledged
	e.AckedAt = time.Now().UTC().UnixNano()
	if err := saveOutboxEntry(e); err != nil {
		return err
	}
	logger.Debug("outbox_acked", "seq", seq, "id", e.RecordID)
	return nil
}

// MarkOutboxFailed records a failed attempt. Non-terminal failures stay
// pending and become due again at nextAttemptAt; terminal failures park
// the entry in the failed state until an operator requeues it.
func MarkOutboxFailed(seq uint64, attemptErr string, nextAttemptAt int64, terminal bool) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	e, err := loadOutboxEntry(seq)
	if err != nil {
		return err
	}
	now := time.Now().UTC().UnixNano()
	e.AttemptCount++
	e.LastAttemptAt = now
	e.NextAttemptAt = nextAttemptAt
	if len(attemptErr) > maxStoredError {
		attemptErr = attemptErr[:maxStoredError]
	}
	e.LastError = attemptErr
	if terminal {
		e.Status = models.OutboxFailed
		logger.Error("outbox_entry_failed", "seq", seq, "id", e.RecordID, "attempts", e.AttemptCount, "error", attemptErr)
	} else {
		logger.Warn("outbox_attempt_failed", "seq", seq, "id", e.RecordID, "attempts", e.AttemptCount, "error", attemptErr)
	}
	return saveOutboxEntry(e)
}

// RequeueOutbox resets a failed entry to pending with a clean attempt
// budget so the drain loop picks it up again.
func RequeueOutbox(seq uint64) (models.OutboxEntry, error) {
	if db == nil {
		return models.OutboxEntry{}, fmt.Errorf("pebble not opened; call store.Open first")
	}
	e, err := loadOutboxEntry(seq)
	if err != nil {
		return models.OutboxEntry{}, err
	}
	if e.Status != models.OutboxFailed {
		return e, ErrNotFailed
	}
	e.Status = models.OutboxPending
	e.AttemptCount = 0
	e.NextAttemptAt = 0
	if err := saveOutboxEntry(e); err != nil {
		return e, err
	}
	logger.Info("outbox_requeued", "seq", seq, "id", e.RecordID)
	return e, nil
}

// ListOutbox returns outbox entries in sequence order, optionally
// filtered by status. A non-positive limit returns everything.
func ListOutbox(status string, limit int) ([]models.OutboxEntry, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(OutboxPrefix),
		UpperBound: nextPrefix([]byte(OutboxPrefix)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.OutboxEntry
	for iter.First(); iter.Valid(); iter.Next() {
		var e models.OutboxEntry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			continue
		}
		if status != "" && e.Status != status {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, iter.Error()
}

// CountOutbox counts outbox entries, optionally filtered by status.
func CountOutbox(status string) (int, error) {
	entries, err := ListOutbox(status, 0)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// PurgeAcknowledgedOutbox deletes acknowledged entries whose ack time is
// before cutoff, up to max entries per call. Returns how many were
// removed.
func PurgeAcknowledgedOutbox(cutoff int64, max int) (int, error) {
	tr := telemetry.Track("store.purge_outbox")
	defer tr.Finish()

	if db == nil {
		return 0, fmt.Errorf("pebble not opened; call store.Open first")
	}
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(OutboxPrefix),
		UpperBound: nextPrefix([]byte(OutboxPrefix)),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	batch := new(pebble.Batch)
	removed := 0
	for iter.First(); iter.Valid(); iter.Next() {
		var e models.OutboxEntry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			continue
		}
		if e.Status != models.OutboxAcknowledged || e.AckedAt >= cutoff {
			continue
		}
		k := append([]byte(nil), iter.Key()...)
		_ = batch.Delete(k, pebble.Sync)
		removed++
		if max > 0 && removed >= max {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return 0, err
	}
	if removed == 0 {
		return 0, nil
	}
	if err := ApplyBatch(batch, true); err != nil {
		logger.Error("purge_outbox_failed", "error", err)
		return 0, err
	}
	logger.Info("outbox_purged", "removed", removed)
	return removed, nil
}

// EnqueueIndexAll writes a fresh pending index entry for every stored
// record, in insertion batches of batchSize. Each entry takes a new seq,
// so replaying them through the indexer overwrites whatever the index
// currently holds. Used by the startup epoch rebuild and the admin
// reindex endpoint.
func EnqueueIndexAll(batchSize int) (int, error) {
	tr := telemetry.Track("store.enqueue_index_all")
	defer tr.Finish()

	if db == nil {
		return 0, fmt.Errorf("pebble not opened; call store.Open first")
	}
	if batchSize <= 0 {
		batchSize = 256
	}
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(RecordPrefix),
		UpperBound: nextPrefix([]byte(RecordPrefix)),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	now := time.Now().UnixNano()
	batch := new(pebble.Batch)
	enqueued := 0
	flush := func() error {
		if batch.Empty() {
			return nil
		}
		if err := ApplyBatch(batch, true); err != nil {
			return err
		}
		batch = new(pebble.Batch)
		return nil
	}
	for iter.First(); iter.Valid(); iter.Next() {
		id, perr := ParseRecordKey(string(iter.Key()))
		if perr != nil {
			continue
		}
		seq := atomic.AddUint64(&outboxSeq, 1)
		entry := models.OutboxEntry{
			Seq:        seq,
			RecordID:   id,
			Op:         models.OpIndex,
			Status:     models.OutboxPending,
			EnqueuedAt: now,
		}
		data, merr := json.Marshal(entry)
		if merr != nil {
			return enqueued, fmt.Errorf("failed to marshal outbox entry: %w", merr)
		}
		_ = batch.Set([]byte(GenOutboxKey(seq)), data, pebble.Sync)
		enqueued++
		if enqueued%batchSize == 0 {
			if err := flush(); err != nil {
				return enqueued, err
			}
		}
	}
	if err := iter.Error(); err != nil {
		return enqueued, err
	}
	if err := flush(); err != nil {
		return enqueued, err
	}
	logger.Info("outbox_reindex_enqueued", "records", enqueued)
	return enqueued, nil
}

func loadOutboxEntry(seq uint64) (models.OutboxEntry, error) {
	var e models.OutboxEntry
	v, closer, err := db.Get([]byte(GenOutboxKey(seq)))
	if err != nil {
		return e, err
	}
	if closer != nil {
		defer closer.Close()
	}
	if err := json.Unmarshal(v, &e); err != nil {
		return e, fmt.Errorf("invalid outbox entry %d: %w", seq, err)
	}
	return e, nil
}

func saveOutboxEntry(e models.OutboxEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal outbox entry: %w", err)
	}
	return db.Set([]byte(GenOutboxKey(e.Seq)), data, pebble.Sync)
}
