package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"missionlog/pkg/indexer"
	"missionlog/pkg/logger"
	"missionlog/pkg/models"
	"missionlog/pkg/search"
	"missionlog/pkg/store"
	"missionlog/pkg/utils"
)

var (
	adminEngine  search.Engine
	adminIndexer *indexer.Indexer
)

// RegisterAdmin wires the operator endpoints under the given router.
func RegisterAdmin(r *mux.Router, engine search.Engine, ix *indexer.Indexer) {
	adminEngine = engine
	adminIndexer = ix
	r.HandleFunc("/stats", adminStats).Methods(http.MethodGet)
	r.HandleFunc("/outbox", adminListOutbox).Methods(http.MethodGet)
	r.HandleFunc("/outbox/{seq}/retry", adminRetryOutbox).Methods(http.MethodPost)
	r.HandleFunc("/index/rebuild", adminRebuildIndex).Methods(http.MethodPost)
	r.HandleFunc("/keys", adminListKeys).Methods(http.MethodGet)
}

func adminStats(w http.ResponseWriter, r *http.Request) {
	records, err := store.CountRecords()
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	outbox := map[string]int{}
	for _, status := range []string{models.OutboxPending, models.OutboxAcknowledged, models.OutboxFailed} {
		n, err := store.CountOutbox(status)
		if err != nil {
			utils.JSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		outbox[status] = n
	}
	engineReady := false
	if adminEngine != nil {
		engineReady = adminEngine.Ready(r.Context()) == nil
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{
		"records":      records,
		"outbox":       outbox,
		"engine_ready": engineReady,
		"store_bytes":  store.DiskSize(),
	})
}

func adminListOutbox(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	switch status {
	case "", models.OutboxPending, models.OutboxAcknowledged, models.OutboxFailed:
	default:
		utils.JSONError(w, http.StatusBadRequest, "unknown status")
		return
	}
	limit := utils.QueryInt(r, "limit", 100, 1, 1000)
	entries, err := store.ListOutbox(status, limit)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []models.OutboxEntry{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Entries []models.OutboxEntry `json:"entries"`
	}{Entries: entries})
}

func adminRetryOutbox(w http.ResponseWriter, r *http.Request) {
	seq, err := strconv.ParseUint(mux.Vars(r)["seq"], 10, 64)
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid sequence")
		return
	}
	entry, err := store.RequeueOutbox(seq)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFailed):
			utils.JSONError(w, http.StatusConflict, "entry is not in failed state")
		case store.IsNotFound(err):
			utils.JSONError(w, http.StatusNotFound, "no such outbox entry")
		default:
			utils.JSONError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	if adminIndexer != nil {
		adminIndexer.Nudge()
	}
	_ = utils.JSONWrite(w, http.StatusOK, entry)
}

// adminRebuildIndex re-enqueues every record and drains synchronously,
// bounded by the request context. Derived data is rebuildable at any
// time; this is the recovery path after index loss or schema changes.
func adminRebuildIndex(w http.ResponseWriter, r *http.Request) {
	enqueued, err := store.EnqueueIndexAll(0)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	applied := 0
	if adminIndexer != nil {
		for r.Context().Err() == nil {
			n, err := adminIndexer.DrainOnce(r.Context())
			if err != nil {
				logger.Error("rebuild_drain_error", "error", err)
				break
			}
			applied += n
			if n == 0 {
				break
			}
		}
	}
	logger.Info("index_rebuild_done", "enqueued", enqueued, "applied", applied)
	_ = utils.JSONWrite(w, http.StatusOK, map[string]int{
		"enqueued": enqueued,
		"applied":  applied,
	})
}

func adminListKeys(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	keys, err := store.ListKeys(prefix)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if keys == nil {
		keys = []string{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Keys []string `json:"keys"`
	}{Keys: keys})
}
