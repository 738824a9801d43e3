// Package ingest is the submission pipeline: normalize, validate, commit
// record and outbox entry in one durable batch, then push to the search
// engine on a best-effort basis. Acceptance is decided by the commit
// alone; the push only shortens the indexing lag.
package ingest

import (
	"context"
	"strings"
	"time"

	"missionlog/pkg/logger"
	"missionlog/pkg/models"
	"missionlog/pkg/search"
	"missionlog/pkg/store"
	"missionlog/pkg/telemetry"
	"missionlog/pkg/utils"
	"missionlog/pkg/validation"
)

const defaultPushTimeout = 2 * time.Second

// SubmitInput is the caller-provided record content. The ID is always
// assigned server-side.
type SubmitInput struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Nudger wakes the outbox drain loop after a commit.
type Nudger interface {
	Nudge()
}

// Service accepts submissions.
type Service struct {
	engine      search.Engine
	nudger      Nudger
	pushTimeout time.Duration
}

// New builds the ingestion service. engine and nudger may be nil in
// tests; pushTimeout falls back to 2s.
func New(engine search.Engine, nudger Nudger, pushTimeout time.Duration) *Service {
	if pushTimeout <= 0 {
		pushTimeout = defaultPushTimeout
	}
	return &Service{engine: engine, nudger: nudger, pushTimeout: pushTimeout}
}

// Submit normalizes and validates the input, commits it, then makes the
// best-effort index push and nudges the indexer. The returned record is
// exactly what was stored.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (models.Record, error) {
	tr := telemetry.Track("ingest.submit_record")
	defer tr.Finish()

	rec := models.Record{
		ID:          utils.GenRecordID(),
		Title:       validation.NormalizeTitle(in.Title),
		Description: strings.TrimSpace(in.Description),
		Tags:        validation.NormalizeTags(in.Tags),
	}
	if err := validation.ValidateRecord(rec); err != nil {
		logger.Debug("submit_rejected", "error", err)
		return models.Record{}, err
	}
	tr.Mark("validate")

	stored, seq, err := store.AppendRecordWithOutbox(rec)
	if err != nil {
		return models.Record{}, err
	}
	tr.Mark("commit")
	telemetry.RecordsCreated.Inc()
	logger.Info("record_created", "id", stored.ID, "seq", seq)

	// commit is the acceptance point; everything below is opportunistic
	s.pushBestEffort(ctx, stored, seq)
	tr.Mark("push")
	if s.nudger != nil {
		s.nudger.Nudge()
	}
	return stored, nil
}

// pushBestEffort tries to get the document searchable right away. Any
// failure is swallowed: the outbox entry guarantees delivery and the
// indexer converges the index.
func (s *Service) pushBestEffort(ctx context.Context, rec models.Record, seq uint64) {
	if s.engine == nil {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, s.pushTimeout)
	defer cancel()
	if err := s.engine.Upsert(pctx, search.DocumentFromRecord(rec, seq)); err != nil {
		telemetry.IndexPushFailures.Inc()
		logger.Warn("index_push_failed", "id", rec.ID, "seq", seq, "error", err)
	}
}
