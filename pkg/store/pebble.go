// Package store owns the Pebble database: record storage, the
// creation-time index and the index outbox. All writes that must survive
// a crash go through atomic batches applied with sync.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/pebble"

	"missionlog/pkg/logger"
	"missionlog/pkg/models"
	"missionlog/pkg/telemetry"
)

var db *pebble.DB
var dbPath string

// ErrUnavailable marks write failures callers should surface as a
// temporary outage (HTTP 503): the store is closed or a commit did not
// land. Compare with errors.Is.
var ErrUnavailable = errors.New("store unavailable")

// outboxSeq is the last assigned outbox sequence. It is recovered from the
// highest existing outbox key at Open and advanced atomically on every
// committed submission, so sequences stay monotonic across restarts.
var outboxSeq uint64

// Open opens (or creates) a Pebble database at the given path, keeps a
// global handle and recovers the outbox sequence counter.
func Open(path string) error {
	var err error
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	dbPath = path
	seq, err := recoverOutboxSeq()
	if err != nil {
		_ = db.Close()
		db = nil
		return fmt.Errorf("recover outbox sequence: %w", err)
	}
	atomic.StoreUint64(&outboxSeq, seq)
	logger.Info("pebble_opened", "path", path, "outbox_seq", seq)
	return nil
}

// closes opened pebble DB
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	return nil
}

// returns true if DB is opened
func Ready() bool {
	return db != nil
}

// returns true if error is pebble.ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, pebble.ErrNotFound)
}

// recoverOutboxSeq returns the highest sequence present in the outbox, or
// zero when the outbox is empty.
func recoverOutboxSeq() (uint64, error) {
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(OutboxPrefix),
		UpperBound: nextPrefix([]byte(OutboxPrefix)),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	if !iter.Last() {
		return 0, iter.Error()
	}
	seq, perr := ParseOutboxKey(string(iter.Key()))
	if perr != nil {
		return 0, perr
	}
	return seq, iter.Error()
}

// GetRecord returns the stored record JSON for id.
func GetRecord(id string) (string, error) {
	tr := telemetry.Track("store.get_record")
	defer tr.Finish()

	if db == nil {
		return "", fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get([]byte(GenRecordKey(id)))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			logger.Debug("get_record_missing", "id", id)
		} else {
			logger.Error("get_record_failed", "id", id, "error", err)
		}
		return "", err
	}
	if closer != nil {
		defer closer.Close()
	}
	return string(v), nil
}

// HasRecord reports whether a record with id exists.
func HasRecord(id string) (bool, error) {
	if db == nil {
		return false, fmt.Errorf("pebble not opened; call store.Open first")
	}
	_, closer, err := db.Get([]byte(GenRecordKey(id)))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if closer != nil {
		_ = closer.Close()
	}
	return true, nil
}

// ListRecords returns up to limit record JSON values, newest first. A
// non-positive limit returns all records.
func ListRecords(limit int) ([]string, error) {
	tr := telemetry.Track("store.list_records")
	defer tr.Finish()

	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(CreatedPrefix),
		UpperBound: nextPrefix([]byte(CreatedPrefix)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	for valid := iter.Last(); valid; valid = iter.Prev() {
		v := append([]byte(nil), iter.Value()...)
		out = append(out, string(v))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, iter.Error()
}

// ScanRecords walks records newest first, decoding each and calling fn.
// The walk stops when fn returns false or max records have been visited.
// A non-positive max visits everything.
func ScanRecords(max int, fn func(rec models.Record) bool) error {
	tr := telemetry.Track("store.scan_records")
	defer tr.Finish()

	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(CreatedPrefix),
		UpperBound: nextPrefix([]byte(CreatedPrefix)),
	})
	if err != nil {
		return err
	}
	defer iter.Close()
	seen := 0
	for valid := iter.Last(); valid; valid = iter.Prev() {
		var rec models.Record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			logger.Warn("scan_records_bad_value", "key", string(iter.Key()), "error", err)
			continue
		}
		seen++
		if !fn(rec) {
			break
		}
		if max > 0 && seen >= max {
			break
		}
	}
	return iter.Error()
}

// CountRecords returns the number of stored records.
func CountRecords() (int, error) {
	if db == nil {
		return 0, fmt.Errorf("pebble not opened; call store.Open first")
	}
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(RecordPrefix),
		UpperBound: nextPrefix([]byte(RecordPrefix)),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		n++
	}
	return n, iter.Error()
}

// lists all keys as strings for prefix; returns all if prefix empty
func ListKeys(prefix string) ([]string, error) {
	tr := telemetry.Track("store.list_keys")
	defer tr.Finish()

	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	var pfx []byte
	if prefix != "" {
		pfx = []byte(prefix)
	}
	iter, err := DBIter()
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	if pfx == nil {
		for iter.First(); iter.Valid(); iter.Next() {
			k := append([]byte(nil), iter.Key()...)
			out = append(out, string(k))
		}
	} else {
		for iter.SeekGE(pfx); iter.Valid(); iter.Next() {
			if !bytes.HasPrefix(iter.Key(), pfx) {
				break
			}
			k := append([]byte(nil), iter.Key()...)
			out = append(out, string(k))
		}
	}
	return out, iter.Error()
}

// returns raw value for key as string
func GetKey(key string) (string, error) {
	tr := telemetry.Track("store.get_key")
	defer tr.Finish()

	if db == nil {
		return "", fmt.Errorf("pebble not opened; call store.Open first")
	}
	tr.Mark("get")
	v, closer, err := db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			logger.Debug("get_key_missing", "key", key)
		} else {
			logger.Error("get_key_failed", "key", key, "error", err)
		}
		return "", err
	}
	if closer != nil {
		defer closer.Close()
	}
	logger.Debug("get_key_ok", "key", key, "len", len(v))
	return string(v), nil
}

// stores arbitrary key/value (namespace caution: e.g. "system:")
func SaveKey(key string, value []byte) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	if err := db.Set([]byte(key), value, pebble.Sync); err != nil {
		logger.Error("save_key_failed", "key", key, "error", err)
		return err
	}
	logger.Debug("save_key_ok", "key", key, "len", len(value))
	return nil
}

// removes key
func DeleteKey(key string) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	if err := db.Delete([]byte(key), pebble.Sync); err != nil {
		logger.Error("delete_key_failed", "key", key, "error", err)
		return err
	}
	logger.Debug("delete_key_ok", "key", key)
	return nil
}

// returns iterator, caller must close
func DBIter() (*pebble.Iterator, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	return db.NewIter(&pebble.IterOptions{})
}

// writes key (bytes) as is, for admin use
func DBSet(key, value []byte) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	return db.Set(key, value, pebble.Sync)
}

// applies batch; sync forces fsync if true, else async write
func ApplyBatch(batch *pebble.Batch, sync bool) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	opt := pebble.NoSync
	if sync {
		opt = pebble.Sync
	}
	if err := db.Apply(batch, opt); err != nil {
		logger.Error("pebble_apply_batch_failed", "error", err)
		return err
	}
	return nil
}

// nextPrefix returns the smallest key greater than every key with the
// given prefix, for use as an iterator upper bound.
func nextPrefix(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xFF {
			upper[i]++
			return upper
		}
		upper[i] = 0
	}
	return append(prefix, 0xFF)
}
