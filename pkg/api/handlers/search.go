package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"missionlog/pkg/logger"
	"missionlog/pkg/query"
	"missionlog/pkg/telemetry"
	"missionlog/pkg/utils"
)

var querySvc *query.Service

// RegisterSearch wires the search endpoint under the given router.
func RegisterSearch(r *mux.Router, svc *query.Service) {
	querySvc = svc
	r.HandleFunc("/search", searchRecords).Methods(http.MethodGet)
}

func searchRecords(w http.ResponseWriter, r *http.Request) {
	telemetry.SetRequestOp(r.Context(), "query.search")

	q := r.URL.Query().Get("q")
	limit := utils.QueryInt(r, "limit", query.DefaultLimit, 1, query.MaxLimit)
	offset := utils.QueryInt(r, "offset", 0, 0, 0)

	res, err := querySvc.Search(r.Context(), q, limit, offset)
	if err != nil {
		logger.Error("search_failed", "error", err)
		utils.JSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, res)
}
