// Package bootstrap reconciles persisted markers with the running binary
// at startup: the version marker with its migration hook, the search
// schema epoch, and warming the embedded index from the store.
package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"missionlog/pkg/logger"
	"missionlog/pkg/models"
	"missionlog/pkg/search"
	"missionlog/pkg/store"
)

const (
	systemVersionKey    = "system:version"
	systemIndexEpochKey = "system:index_epoch"
	systemInProgressKey = "system:migration_in_progress"
)

// Sync performs upgrade work between versions. Edit in-place for
// migration logic; it must stay idempotent.
func Sync(ctx context.Context, from, to string) error {
	logger.Info("bootstrap_sync_start", "from", from, "to", to)
	// no stored-data migrations between current versions
	logger.Info("bootstrap_sync_done", "from", from, "to", to)
	return nil
}

// Run checks for a version change and runs Sync if needed. Returns
// (invoked, error): invoked is true if Sync ran.
func Run(ctx context.Context, newVersion string) (bool, error) {
	stored := StoredVersion()
	logger.Info("bootstrap_version_check", "stored", stored, "running", newVersion)
	if stored == newVersion {
		return false, nil
	}

	marker := map[string]string{
		"from":       stored,
		"to":         newVersion,
		"started_at": time.Now().UTC().Format(time.RFC3339),
	}
	mb, _ := json.Marshal(marker)
	if err := store.SaveKey(systemInProgressKey, mb); err != nil {
		return true, fmt.Errorf("failed to write in-progress marker: %w", err)
	}

	if err := Sync(ctx, stored, newVersion); err != nil {
		logger.Error("bootstrap_sync_failed", "from", stored, "to", newVersion, "error", err)
		return true, err
	}

	if err := store.SaveKey(systemVersionKey, []byte(newVersion)); err != nil {
		return true, fmt.Errorf("failed to persist new version: %w", err)
	}
	if err := store.DeleteKey(systemInProgressKey); err != nil {
		logger.Error("bootstrap_delete_inprogress_failed", "error", err)
	}

	logger.Info("bootstrap_version_persisted", "version", newVersion)
	return true, nil
}

// StoredVersion returns the version marker, empty on a fresh store.
func StoredVersion() string {
	v, _ := store.GetKey(systemVersionKey)
	return v
}

// EnsureIndexEpoch compares the stored schema epoch against the binary's
// and enqueues a full reindex on mismatch. The marker is persisted only
// after the enqueue succeeds, so a crash in between re-runs the rebuild
// on the next boot; fresh outbox seqs make the repeat converge.
func EnsureIndexEpoch(ctx context.Context) (bool, error) {
	stored, _ := store.GetKey(systemIndexEpochKey)
	current := strconv.Itoa(search.IndexEpoch)
	if stored == current {
		return false, nil
	}

	n, err := store.EnqueueIndexAll(0)
	if err != nil {
		return true, fmt.Errorf("failed to enqueue epoch rebuild: %w", err)
	}
	if err := store.SaveKey(systemIndexEpochKey, []byte(current)); err != nil {
		return true, fmt.Errorf("failed to persist index epoch: %w", err)
	}
	logger.Info("index_epoch_rebuild_enqueued", "from", stored, "to", current, "entries", n)
	return true, nil
}

// WarmMemoryIndex loads every stored record into the engine with a
// versionless upsert. Only the embedded engine needs this; a remote
// index survives restarts.
func WarmMemoryIndex(ctx context.Context, engine search.Engine) (int, error) {
	var n int
	var upsertErr error
	err := store.ScanRecords(0, func(rec models.Record) bool {
		if ctx.Err() != nil {
			return false
		}
		if err := engine.Upsert(ctx, search.DocumentFromRecord(rec, 0)); err != nil {
			upsertErr = err
			return false
		}
		n++
		return true
	})
	if err == nil {
		err = upsertErr
	}
	if err != nil {
		return n, err
	}
	logger.Info("memory_index_warmed", "records", n)
	return n, nil
}
