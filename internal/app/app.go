// Package app wires the process together: config, state dirs, store,
// search engine, workers and the HTTP server.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"missionlog/internal/reconcile"
	"missionlog/pkg/bootstrap"
	"missionlog/pkg/config"
	"missionlog/pkg/indexer"
	"missionlog/pkg/logger"
	"missionlog/pkg/models"
	"missionlog/pkg/search"
	"missionlog/pkg/sensor"
	"missionlog/pkg/state"
	"missionlog/pkg/store"
	"missionlog/pkg/telemetry"
)

// App encapsulates the server components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	engine search.Engine
	ix     *indexer.Indexer
	hw     *sensor.Sensor

	srv             *http.Server
	reconcileCancel context.CancelFunc
	monitorCancel   context.CancelFunc
}

// New initializes resources that do not require a running context: state
// dirs, the store and the search engine. Call Run to start the workers
// and the HTTP server and block until shutdown.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	if err := validateConfig(eff); err != nil {
		return nil, err
	}

	if err := state.Init(eff.DBPath); err != nil {
		return nil, fmt.Errorf("failed to prepare state dirs: %w", err)
	}
	if err := logger.AttachAuditFileSink(state.PathsVar.Audit); err != nil {
		logger.Warn("audit_sink_unavailable", "error", err)
	}

	if err := store.Open(state.PathsVar.Store); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", state.PathsVar.Store, err)
	}

	// telemetry: per-op traces under the state tree, sampling per config
	telemetry.Init(state.PathsVar.Tel, 64*1024, 1024, 2*time.Second, 50*1024*1024)
	tc := eff.Config.Telemetry
	if tc.SampleRate > 0 {
		telemetry.SetSampleRate(tc.SampleRate)
	}
	if tc.SlowThreshold > 0 {
		telemetry.SetSlowThreshold(tc.SlowThreshold.Duration())
	}

	a := &App{
		eff:       eff,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		engine:    search.Provider(eff.Config.Search),
	}
	a.ix = indexer.New(indexerConfig(eff.Config.Indexer), a.engine)
	return a, nil
}

// Run starts the workers and the HTTP server and blocks until ctx is
// cancelled or the listener fails.
func (a *App) Run(ctx context.Context) error {
	if _, err := bootstrap.Run(ctx, a.version); err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}

	// the index must be writable before the first drain: a remote index
	// is created up front, the embedded one is rebuilt from the store
	if r, ok := a.engine.(*search.Remote); ok {
		if err := r.EnsureIndex(ctx); err != nil {
			return fmt.Errorf("failed to ensure search index: %w", err)
		}
	} else if _, err := bootstrap.WarmMemoryIndex(ctx, a.engine); err != nil {
		return fmt.Errorf("failed to warm search index: %w", err)
	}
	if _, err := bootstrap.EnsureIndexEpoch(ctx); err != nil {
		return err
	}

	telemetry.RegisterStoreGauges(
		func() float64 {
			n, err := store.CountOutbox(models.OutboxPending)
			if err != nil {
				return 0
			}
			return float64(n)
		},
		func() float64 { return float64(store.DiskSize()) },
	)

	a.printBanner()

	a.ix.Start(ctx)

	reconcile.SetEffectiveConfig(a.eff)
	rcCancel, err := reconcile.Start(ctx, a.eff)
	if err != nil {
		return err
	}
	a.reconcileCancel = rcCancel

	a.hw = sensor.New(a.eff.DBPath, 500*time.Millisecond)
	a.hw.Start()
	a.monitorCancel = sensor.StartStoreMonitor(ctx, a.ix, a.hw, sensor.DefaultMonitorConfig())

	errCh := a.startHTTP()

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		a.shutdown()
		return err
	}
}

// shutdown drains in dependency order: stop intake, then workers, then
// the store.
func (a *App) shutdown() {
	logger.Info("shutdown_requested")
	if a.srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := a.srv.Shutdown(sctx); err != nil {
			logger.Error("http_shutdown_error", "error", err)
		}
		cancel()
	}
	if a.monitorCancel != nil {
		a.monitorCancel()
	}
	if a.hw != nil {
		a.hw.Stop()
	}
	if a.reconcileCancel != nil {
		a.reconcileCancel()
	}
	if a.ix != nil {
		a.ix.Stop()
	}
	if err := store.Close(); err != nil {
		logger.Error("store_close_error", "error", err)
	}
	telemetry.Close()
	logger.Info("shutdown_complete")
}

func indexerConfig(c config.IndexerConfig) indexer.Config {
	return indexer.Config{
		BatchSize:    c.BatchSize,
		Workers:      c.Workers,
		PollInterval: c.PollInterval.Duration(),
		BackoffBase:  c.BackoffBase.Duration(),
		BackoffMax:   c.BackoffMax.Duration(),
		MaxAttempts:  c.MaxAttempts,
	}
}
