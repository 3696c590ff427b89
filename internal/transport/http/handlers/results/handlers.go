package resultshandler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"payrollx/internal/domain/audit"
	"payrollx/internal/domain/payroll"
	"payrollx/internal/transport/http/api"
	"payrollx/internal/transport/http/middleware"
	"payrollx/internal/transport/http/shared"
)

// Handler receives settlement callbacks from the transaction service.
type Handler struct {
	Coord        *payroll.Coordinator
	Audit        audit.Recorder
	CallbackHash string
	Log          *slog.Logger
}

func NewHandler(coord *payroll.Coordinator, recorder audit.Recorder, callbackHash string, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{Coord: coord, Audit: recorder, CallbackHash: callbackHash, Log: log}
}

type resultResponse struct {
	PayrollRunID string             `json:"payrollRunId"`
	RunStatus    payroll.RunStatus  `json:"runStatus"`
	ItemID       string             `json:"itemId"`
	ItemStatus   payroll.ItemStatus `json:"itemStatus"`
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.With(middleware.CallbackAuth(h.CallbackHash)).Post("/payroll/results", h.handleResult)
}

func (h *Handler) handleResult(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())
	var msg payroll.ResultMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", reqID)
		return
	}
	key, outcome, err := msg.Decode()
	if err != nil {
		shared.FailDomain(w, err, reqID)
		return
	}

	run, err := h.Coord.OnItemResult(r.Context(), key, outcome)
	if err != nil {
		shared.FailDomain(w, err, reqID)
		return
	}
	idx := run.ItemIndex(key.ItemID)
	resp := resultResponse{PayrollRunID: run.ID, RunStatus: run.Status, ItemID: key.ItemID}
	if idx >= 0 {
		resp.ItemStatus = run.Items[idx].Status
	}

	if h.Audit != nil {
		evt := audit.Event{
			ActorID:    "transaction-service",
			Action:     audit.ActionItemResult,
			EntityType: audit.EntityItem,
			EntityID:   key.String(),
			RequestID:  reqID,
			IP:         shared.ClientIP(r),
		}
		if err := h.Audit.Record(r.Context(), evt, nil, msg); err != nil {
			h.Log.Warn("audit record failed", "action", audit.ActionItemResult, "runId", key.RunID, "err", err)
		}
	}
	api.Success(w, resp, reqID)
}
