package payslipapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/linnemanlabs/payslipd/internal/dispatch"
	"github.com/linnemanlabs/payslipd/internal/roster"
)

type historyResponse struct {
	Records []dispatch.Record `json:"records"`
	Total   int               `json:"total"`
	Page    int               `json:"page"`
	Limit   int               `json:"limit"`
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := dispatch.HistoryQuery{Unit: strings.TrimSpace(r.URL.Query().Get("unidade"))}

	var err error
	if v := r.URL.Query().Get("page"); v != "" {
		if q.Page, err = strconv.Atoi(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid page")
			return
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if q.Limit, err = strconv.Atoi(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}
	q = q.Normalize()

	recs, total, err := a.svc.History(r.Context(), q)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list send history", "unit", q.Unit)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []dispatch.Record{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Records: recs, Total: total, Page: q.Page, Limit: q.Limit})
}

func (a *API) handleUnits(w http.ResponseWriter, r *http.Request) {
	units, err := a.svc.Units(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list units")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if units == nil {
		units = []roster.UnitCount{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"units": units})
}
