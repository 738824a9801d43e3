// Package reconcile schedules the outbox maintenance runs: purge
// acknowledged entries past their retention window and sweep terminal
// failures into the alert log, leaving a report file per run.
package reconcile

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/adhocore/gronx"

	"missionlog/pkg/config"
	"missionlog/pkg/logger"
	"missionlog/pkg/state"
)

var storedEff *config.EffectiveConfigResult

// SetEffectiveConfig stores the effective config so tests (or admin
// triggers) can invoke reconcile runs on demand.
func SetEffectiveConfig(eff config.EffectiveConfigResult) {
	storedEff = &eff
}

// RunImmediate triggers a single reconcile run using the stored effective
// config. Returns an error if no effective config was registered.
func RunImmediate() error {
	if storedEff == nil {
		return fmt.Errorf("no effective config registered for reconcile run")
	}
	if state.PathsVar.Reconcile == "" {
		return fmt.Errorf("state paths not initialized")
	}
	_, err := runOnce(context.Background(), *storedEff, state.PathsVar.Reconcile)
	return err
}

// Start starts the reconcile scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, eff config.EffectiveConfigResult) (context.CancelFunc, error) {
	rc := eff.Config.Reconcile
	if !rc.Enabled {
		logger.Info("reconcile_disabled")
		return func() {}, nil
	}

	reconcilePath := state.PathsVar.Reconcile
	if err := os.MkdirAll(reconcilePath, 0o700); err != nil {
		logger.Error("reconcile_path_create_failed", "path", reconcilePath, "error", err)
		return nil, err
	}

	cronExpr := rc.Cron
	if cronExpr == "" {
		cronExpr = "0 3 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid reconcile cron expression: %s", rc.Cron)
	}

	logger.Info("reconcile_enabled", "cron", cronExpr,
		"retain_acked", rc.RetainAcked.Or(defaultRetainAcked).String(), "path", reconcilePath)
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, eff, reconcilePath, cronExpr)
	return cancel, nil
}

// runScheduler computes the next cron tick with gronx and sleeps until
// then, which gives exact scheduling with full cron syntax.
func runScheduler(ctx context.Context, eff config.EffectiveConfigResult, reconcilePath, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("reconcile_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("reconcile_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		wait := time.Until(next)
		if wait <= 0 {
			wait = time.Second
		}
		select {
		case <-time.After(wait):
			if _, err := runOnce(ctx, eff, reconcilePath); err != nil {
				logger.Error("reconcile_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("reconcile_scheduler_stopping")
			return
		}
	}
}
