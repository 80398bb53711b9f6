package handler

import (
	"net/http"

	"github.com/gatekeepd/gatekeep/internal/model"
	"github.com/gatekeepd/gatekeep/internal/server/middleware"
	"github.com/gatekeepd/gatekeep/internal/service"
)

// UsageHandler accepts usage telemetry from game servers. Reports are
// acknowledged as soon as the session resolves; the durable upsert happens
// in the background.
type UsageHandler struct {
	usage *service.UsageService
}

// NewUsageHandler creates a new UsageHandler.
func NewUsageHandler(usage *service.UsageService) *UsageHandler {
	return &UsageHandler{usage: usage}
}

type usageReportRequest struct {
	APICalls      int64 `json:"apiCalls"`
	TransportMsgs int64 `json:"transportMsgs"`
	PeakCCU       int64 `json:"peakCcu"`
}

// Report folds a usage increment into the owning game's current hourly
// bucket. Responds 202 once the report is queued.
// POST /v1/usage/report
func (h *UsageHandler) Report(w http.ResponseWriter, r *http.Request) {
	tok := middleware.BearerToken(r)
	if tok == "" {
		writeServiceError(w, service.ErrMissingToken)
		return
	}

	var req usageReportRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return
	}

	if err := h.usage.Report(r.Context(), tok, req.APICalls, req.TransportMsgs, req.PeakCCU); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, model.OKResponse{OK: true})
}
