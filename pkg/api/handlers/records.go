// Package handlers holds the HTTP endpoint implementations. Register
// functions wire them onto a router and keep their dependencies in
// package scope.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"missionlog/pkg/ingest"
	"missionlog/pkg/logger"
	"missionlog/pkg/models"
	"missionlog/pkg/store"
	"missionlog/pkg/telemetry"
	"missionlog/pkg/utils"
	"missionlog/pkg/validation"
)

const defaultMaxRequestBytes = 1 << 20

var (
	ingestSvc       *ingest.Service
	maxRequestBytes int64
)

// RegisterRecords wires the record endpoints under the given router.
func RegisterRecords(r *mux.Router, svc *ingest.Service, maxBody int64) {
	ingestSvc = svc
	maxRequestBytes = maxBody
	if maxRequestBytes <= 0 {
		maxRequestBytes = defaultMaxRequestBytes
	}
	r.HandleFunc("/records", createRecord).Methods(http.MethodPost)
	r.HandleFunc("/records", listRecords).Methods(http.MethodGet)
	r.HandleFunc("/records/{id}", getRecord).Methods(http.MethodGet)
}

func createRecord(w http.ResponseWriter, r *http.Request) {
	telemetry.SetRequestOp(r.Context(), "ingest.submit_record")

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	var in ingest.SubmitInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			utils.JSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	rec, err := ingestSvc.Submit(r.Context(), in)
	if err != nil {
		switch {
		case validation.IsValidation(err):
			utils.JSONError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrUnavailable):
			logger.Error("submit_store_unavailable", "error", err)
			utils.JSONError(w, http.StatusServiceUnavailable, "store unavailable")
		default:
			logger.Error("submit_failed", "error", err)
			utils.JSONError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, rec)
}

func listRecords(w http.ResponseWriter, r *http.Request) {
	limit := utils.QueryInt(r, "limit", 50, 1, 1000)
	raws, err := store.ListRecords(limit)
	if err != nil {
		logger.Error("list_records_failed", "error", err)
		utils.JSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]models.Record, 0, len(raws))
	for _, s := range raws {
		var rec models.Record
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			logger.Warn("list_records_bad_value", "error", err)
			continue
		}
		out = append(out, rec)
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Records []models.Record `json:"records"`
	}{Records: out})
}

func getRecord(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	raw, err := store.GetRecord(id)
	if err != nil {
		if store.IsNotFound(err) {
			utils.JSONError(w, http.StatusNotFound, "record not found")
			return
		}
		logger.Error("get_record_failed", "id", id, "error", err)
		utils.JSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(raw))
}
