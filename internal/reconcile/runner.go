package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"missionlog/pkg/config"
	"missionlog/pkg/logger"
	"missionlog/pkg/models"
	"missionlog/pkg/store"
)

const (
	defaultRetainAcked = 7 * 24 * time.Hour
	defaultBatchSize   = 500
	defaultLockTTL     = 60 * time.Second
	// failedSweepLimit bounds how many terminal entries one run reports.
	failedSweepLimit = 1000
)

// Report summarizes a single reconcile run. One JSON file per run lands
// under state/reconcile.
type Report struct {
	RunID      string `json:"run_id"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
	Cutoff     string `json:"cutoff"`
	Purged     int    `json:"purged"`
	FailedSeen int    `json:"failed_seen"`
	Aborted    bool   `json:"aborted,omitempty"`
	Error      string `json:"error,omitempty"`
}

// runOnce executes a single reconcile run: acquire the lease, purge aged
// acknowledged entries in batches, sweep terminal failures, write the
// report.
func runOnce(ctx context.Context, eff config.EffectiveConfigResult, reconcilePath string) (Report, error) {
	rc := eff.Config.Reconcile
	owner := uuid.NewString()
	rep := Report{RunID: owner, StartedAt: time.Now().UTC().Format(time.RFC3339)}

	lock := newFileLease(reconcilePath)
	ttl := rc.LockTTL.Or(defaultLockTTL)
	acq, err := lock.Acquire(owner, ttl)
	if err != nil {
		logger.Error("reconcile_lease_acquire_error", "error", err)
		return rep, fmt.Errorf("lease acquire failed: %w", err)
	}
	if !acq {
		logger.Info("reconcile_lease_not_acquired")
		return rep, nil
	}
	defer func() {
		if err := lock.Release(owner); err != nil {
			logger.Error("reconcile_lease_release_error", "error", err)
		}
	}()

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()

	// heartbeat keeps the lease alive; repeated renew failures abort the
	// run so another holder can take over
	hbCtx, hbCancel := context.WithCancel(runCtx)
	defer hbCancel()
	go func() {
		t := time.NewTicker(ttl / 3)
		defer t.Stop()
		var failCount int
		const maxConsecutiveRenewFails = 3
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-t.C:
				if err := lock.Renew(owner, ttl); err != nil {
					failCount++
					logger.Error("reconcile_lease_renew_failed", "error", err, "count", failCount)
					if failCount >= maxConsecutiveRenewFails {
						runCancel()
						return
					}
				} else {
					failCount = 0
				}
			}
		}
	}()

	logger.Info("reconcile_run_start", "run_id", owner)

	retain := rc.RetainAcked.Or(defaultRetainAcked)
	cutoffT := time.Now().UTC().Add(-retain)
	cutoff := cutoffT.UnixNano()
	rep.Cutoff = cutoffT.Format(time.RFC3339)

	batch := rc.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	sleep := time.Duration(rc.BatchSleepMs) * time.Millisecond

	for {
		if runCtx.Err() != nil {
			rep.Aborted = true
			rep.Error = "run aborted"
			writeReport(reconcilePath, &rep)
			return rep, fmt.Errorf("reconcile run aborted")
		}
		n, err := store.PurgeAcknowledgedOutbox(cutoff, batch)
		if err != nil {
			rep.Error = err.Error()
			writeReport(reconcilePath, &rep)
			return rep, fmt.Errorf("purge acknowledged: %w", err)
		}
		rep.Purged += n
		if n < batch {
			break
		}
		if sleep > 0 {
			select {
			case <-time.After(sleep):
			case <-runCtx.Done():
			}
		}
	}

	// terminal failures stay in the store until an operator requeues or
	// deletes them; surface each on the alert path
	failed, err := store.ListOutbox(models.OutboxFailed, failedSweepLimit)
	if err != nil {
		rep.Error = err.Error()
		writeReport(reconcilePath, &rep)
		return rep, fmt.Errorf("list failed outbox: %w", err)
	}
	rep.FailedSeen = len(failed)
	for _, e := range failed {
		if logger.Audit != nil {
			logger.Audit.Info("reconcile_failed_entry", "run_id", owner,
				"seq", e.Seq, "record_id", e.RecordID, "op", e.Op,
				"attempts", e.AttemptCount, "last_error", e.LastError)
		} else {
			logger.Error("reconcile_failed_entry", "run_id", owner,
				"seq", e.Seq, "record_id", e.RecordID, "op", e.Op,
				"attempts", e.AttemptCount, "last_error", e.LastError)
		}
	}

	rep.FinishedAt = time.Now().UTC().Format(time.RFC3339)
	writeReport(reconcilePath, &rep)
	logger.Info("reconcile_run_complete", "run_id", owner,
		"purged", rep.Purged, "failed_seen", rep.FailedSeen)
	return rep, nil
}

// writeReport lands the run report atomically; report loss is tolerable,
// report corruption is not.
func writeReport(dir string, rep *Report) {
	if rep.FinishedAt == "" {
		rep.FinishedAt = time.Now().UTC().Format(time.RFC3339)
	}
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		logger.Error("reconcile_report_marshal_failed", "error", err)
		return
	}
	tmp := filepath.Join(dir, fmt.Sprintf(".report-%s.tmp", rep.RunID))
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		logger.Error("reconcile_report_write_failed", "error", err)
		return
	}
	final := filepath.Join(dir, fmt.Sprintf("reconcile-%d.json", time.Now().UnixNano()))
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		logger.Error("reconcile_report_rename_failed", "error", err)
	}
}
