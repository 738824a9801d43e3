// Package indexer is the single outbox consumer: it drains pending
// entries into the search engine, acknowledging applied work and
// scheduling retries with exponential backoff. Entries for the same
// record apply strictly in seq order; distinct records index in
// parallel.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"missionlog/pkg/logger"
	"missionlog/pkg/models"
	"missionlog/pkg/search"
	"missionlog/pkg/store"
	"missionlog/pkg/telemetry"
)

const (
	defaultBatchSize    = 64
	defaultWorkers      = 4
	defaultPollInterval = 500 * time.Millisecond
	defaultBackoffBase  = 500 * time.Millisecond
	defaultBackoffMax   = 60 * time.Second
	defaultMaxAttempts  = 8
)

// Config tunes the drain loop. Zero values fall back to defaults.
type Config struct {
	BatchSize    int
	Workers      int
	PollInterval time.Duration
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	MaxAttempts  int
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = defaultBackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = defaultBackoffMax
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	return c
}

// Indexer owns the outbox drain loop for one process.
type Indexer struct {
	cfg    Config
	engine search.Engine

	nudge  chan struct{}
	stop   chan struct{}
	done   chan struct{}
	paused atomic.Bool

	// mu guards the live batch params, which the store monitor adjusts
	// under pebble pressure.
	mu        sync.Mutex
	batchSize int
	workers   int
}

// New builds an indexer over the given engine. Call Start to run it.
func New(cfg Config, engine search.Engine) *Indexer {
	cfg = cfg.withDefaults()
	return &Indexer{
		cfg:       cfg,
		engine:    engine,
		nudge:     make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		batchSize: cfg.BatchSize,
		workers:   cfg.Workers,
	}
}

// Start launches the drain loop. It returns immediately.
func (ix *Indexer) Start(ctx context.Context) {
	go ix.run(ctx)
	logger.Info("indexer_started",
		"batch_size", ix.cfg.BatchSize, "workers", ix.cfg.Workers,
		"poll_interval", ix.cfg.PollInterval.String(), "max_attempts", ix.cfg.MaxAttempts)
}

// Stop halts the loop and waits for the in-flight cycle to finish.
func (ix *Indexer) Stop() {
	close(ix.stop)
	<-ix.done
	logger.Info("indexer_stopped")
}

// Nudge wakes the loop without waiting for the next tick. Safe from any
// goroutine; a pending nudge coalesces.
func (ix *Indexer) Nudge() {
	select {
	case ix.nudge <- struct{}{}:
	default:
	}
}

// Pause suspends draining until Resume. In-flight entries finish.
func (ix *Indexer) Pause() {
	if !ix.paused.Swap(true) {
		logger.Warn("indexer_paused")
	}
}

// Resume lifts a pause and nudges the loop.
func (ix *Indexer) Resume() {
	if ix.paused.Swap(false) {
		logger.Info("indexer_resumed")
		ix.Nudge()
	}
}

// SetBatchParams adjusts batch size and worker parallelism at runtime.
// Zero or negative values restore the configured defaults.
func (ix *Indexer) SetBatchParams(batchSize, workers int) {
	if batchSize <= 0 {
		batchSize = ix.cfg.BatchSize
	}
	if workers <= 0 {
		workers = ix.cfg.Workers
	}
	ix.mu.Lock()
	changed := batchSize != ix.batchSize || workers != ix.workers
	ix.batchSize = batchSize
	ix.workers = workers
	ix.mu.Unlock()
	if changed {
		logger.Info("indexer_batch_params", "batch_size", batchSize, "workers", workers)
	}
}

// BatchParams returns the live batch size and worker count.
func (ix *Indexer) BatchParams() (int, int) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.batchSize, ix.workers
}

func (ix *Indexer) params() (int, int) {
	return ix.BatchParams()
}

func (ix *Indexer) run(ctx context.Context) {
	defer close(ix.done)
	ticker := time.NewTicker(ix.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ix.stop:
			return
		case <-ticker.C:
		case <-ix.nudge:
		}
		if ix.paused.Load() {
			continue
		}
		for {
			n, err := ix.DrainOnce(ctx)
			if err != nil {
				logger.Error("indexer_drain_error", "error", err)
				break
			}
			// keep going while full batches come back
			batchSize, _ := ix.params()
			if n < batchSize {
				break
			}
		}
	}
}

// DrainOnce fetches one batch of due entries and applies it, returning
// how many entries were acknowledged. Also used directly by tests and
// the admin reindex path.
func (ix *Indexer) DrainOnce(ctx context.Context) (int, error) {
	batchSize, workers := ix.params()
	entries, err := store.PeekPendingOutbox(batchSize, time.Now().UnixNano())
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	// group by record preserving seq order inside each group
	groups := make(map[string][]models.OutboxEntry)
	order := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, ok := groups[e.RecordID]; !ok {
			order = append(order, e.RecordID)
		}
		groups[e.RecordID] = append(groups[e.RecordID], e)
	}

	var applied int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, rid := range order {
		group := groups[rid]
		g.Go(func() error {
			for _, e := range group {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if !ix.apply(gctx, e) {
					// stop this record's group for the cycle so later
					// seqs never jump ahead of a failed one
					return nil
				}
				atomic.AddInt64(&applied, 1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(atomic.LoadInt64(&applied)), err
	}
	return int(atomic.LoadInt64(&applied)), nil
}

// apply performs one entry end to end and reports whether it was
// acknowledged.
func (ix *Indexer) apply(ctx context.Context, e models.OutboxEntry) bool {
	err := ix.applyOp(ctx, e)
	if err == nil {
		if ackErr := store.MarkOutboxAcknowledged(e.Seq); ackErr != nil {
			logger.Error("outbox_ack_error", "seq", e.Seq, "error", ackErr)
			return false
		}
		telemetry.OutboxAcked.Inc()
		return true
	}

	attempts := e.AttemptCount + 1
	terminal := search.IsPermanent(err) || attempts >= ix.cfg.MaxAttempts
	next := time.Now().Add(ix.backoff(attempts)).UnixNano()
	if markErr := store.MarkOutboxFailed(e.Seq, err.Error(), next, terminal); markErr != nil {
		logger.Error("outbox_mark_failed_error", "seq", e.Seq, "error", markErr)
	}
	if terminal {
		telemetry.OutboxFailed.Inc()
	} else {
		telemetry.OutboxRetries.Inc()
	}
	return false
}

// applyOp re-reads the canonical record and pushes the operation to the
// engine. Stale payloads are never trusted; the store is the source of
// truth at apply time.
func (ix *Indexer) applyOp(ctx context.Context, e models.OutboxEntry) error {
	switch e.Op {
	case models.OpDelete:
		return ix.engine.Delete(ctx, e.RecordID, e.Seq)
	case models.OpIndex:
		raw, err := store.GetRecord(e.RecordID)
		if err != nil {
			if store.IsNotFound(err) {
				// nothing canonical left to index; a later delete entry
				// (or the delete that removed it) wins
				logger.Warn("outbox_record_missing", "seq", e.Seq, "id", e.RecordID)
				return nil
			}
			return fmt.Errorf("read record %s: %w", e.RecordID, err)
		}
		var rec models.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return fmt.Errorf("%w: stored record %s is not valid JSON: %v", search.ErrPermanent, e.RecordID, err)
		}
		return ix.engine.Upsert(ctx, search.DocumentFromRecord(rec, e.Seq))
	default:
		return fmt.Errorf("%w: unknown outbox op %q", search.ErrPermanent, e.Op)
	}
}

// backoff computes the delay before the next attempt.
func (ix *Indexer) backoff(attempts int) time.Duration {
	if attempts > 20 {
		return ix.cfg.BackoffMax
	}
	d := ix.cfg.BackoffBase << attempts
	if d <= 0 || d > ix.cfg.BackoffMax {
		return ix.cfg.BackoffMax
	}
	return d
}
