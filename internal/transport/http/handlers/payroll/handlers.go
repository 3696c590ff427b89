package payrollhandler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"payrollx/internal/domain/audit"
	"payrollx/internal/domain/auth"
	"payrollx/internal/domain/payroll"
	"payrollx/internal/transport/http/api"
	"payrollx/internal/transport/http/middleware"
	"payrollx/internal/transport/http/shared"
)

const endpointCreateRun = "payroll.runs.create"

type Handler struct {
	Coord       *payroll.Coordinator
	Audit       audit.Recorder
	Idempotency middleware.IdempotencyStore
	Perms       middleware.PermissionStore
	Log         *slog.Logger
}

func NewHandler(coord *payroll.Coordinator, recorder audit.Recorder, idem middleware.IdempotencyStore, perms middleware.PermissionStore, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{Coord: coord, Audit: recorder, Idempotency: idem, Perms: perms, Log: log}
}

type runItemPayload struct {
	EmployeeID string      `json:"employeeId"`
	Amount     json.Number `json:"amount"`
}

type createRunPayload struct {
	OrganizationID string           `json:"organizationId"`
	ScheduledAt    string           `json:"scheduledAt"`
	Currency       string           `json:"currency"`
	Items          []runItemPayload `json:"items"`
}

type runSummary struct {
	payroll.Run
	Counts map[payroll.ItemStatus]int `json:"counts"`
}

func summarize(run payroll.Run) runSummary {
	return runSummary{Run: run, Counts: run.CountByStatus()}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/payroll", func(r chi.Router) {
		r.With(middleware.RequirePermission(auth.PermPayrollRead, h.Perms)).Get("/runs", h.handleListRuns)
		r.With(middleware.RequirePermission(auth.PermPayrollWrite, h.Perms)).Post("/runs", h.handleCreateRun)
		r.With(middleware.RequirePermission(auth.PermPayrollRead, h.Perms)).Get("/runs/{runID}", h.handleGetRun)
		r.With(middleware.RequirePermission(auth.PermPayrollRun, h.Perms)).Post("/runs/{runID}/execute", h.handleExecuteRun)
		r.With(middleware.RequirePermission(auth.PermPayrollCancel, h.Perms)).Post("/runs/{runID}/cancel", h.handleCancelRun)
		r.With(middleware.RequirePermission(auth.PermPayrollRead, h.Perms)).Get("/runs/{runID}/statement.pdf", h.handleStatement)
		r.With(middleware.RequirePermission(auth.PermPayrollRecover, h.Perms)).Get("/items/exhausted", h.handleListExhausted)
	})
}

func (h *Handler) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())
	actor, _ := middleware.GetActor(r.Context())

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		api.Fail(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large", reqID)
		return
	}
	var payload createRunPayload
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&payload); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_payload", "invalid request payload", reqID)
		return
	}
	if actor.OrganizationID != "" && payload.OrganizationID == "" {
		payload.OrganizationID = actor.OrganizationID
	}

	v := shared.NewValidator()
	v.Required("organizationId", payload.OrganizationID, "is required")
	v.Required("currency", payload.Currency, "is required")
	scheduledAt := v.Time("scheduledAt", payload.ScheduledAt)
	if len(payload.Items) == 0 {
		v.Add("items", "must contain at least one item")
	}
	req := payroll.DraftRequest{
		OrganizationID: payload.OrganizationID,
		ScheduledAt:    scheduledAt,
		Currency:       payload.Currency,
		CreatedBy:      actor.ID,
		Items:          make([]payroll.DraftItem, 0, len(payload.Items)),
	}
	for i, item := range payload.Items {
		field := "items[" + itoa(i) + "]"
		v.Required(field+".employeeId", item.EmployeeID, "is required")
		req.Items = append(req.Items, payroll.DraftItem{
			EmployeeID: item.EmployeeID,
			Amount:     v.Amount(field+".amount", item.Amount.String()),
		})
	}
	if v.Reject(w, reqID) {
		return
	}
	if !actor.CanAccess(req.OrganizationID) {
		api.Fail(w, http.StatusForbidden, "forbidden", "organization not accessible", reqID)
		return
	}

	key := strings.TrimSpace(r.Header.Get(middleware.IdempotencyHeader))
	hash := middleware.RequestHash(raw)
	if key != "" {
		stored, found, err := h.Idempotency.Check(r.Context(), actor.ID, endpointCreateRun, key, hash)
		if errors.Is(err, middleware.ErrIdempotencyConflict) {
			api.Fail(w, http.StatusConflict, "idempotency_conflict", err.Error(), reqID)
			return
		}
		if err != nil {
			h.Log.Warn("idempotency check failed", "requestId", reqID, "err", err)
		}
		if found {
			api.Created(w, stored, reqID)
			return
		}
	}

	run, err := h.Coord.CreateDraft(r.Context(), req)
	if err != nil {
		shared.FailDomain(w, err, reqID)
		return
	}
	h.record(r, audit.ActionRunCreated, run.ID, nil, run)

	if key != "" {
		encoded, err := json.Marshal(summarize(run))
		if err == nil {
			err = h.Idempotency.Save(r.Context(), actor.ID, endpointCreateRun, key, hash, encoded)
		}
		if err != nil {
			h.Log.Warn("idempotency save failed", "requestId", reqID, "runId", run.ID, "err", err)
		}
	}
	api.Created(w, summarize(run), reqID)
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())
	actor, _ := middleware.GetActor(r.Context())
	org := r.URL.Query().Get("organizationId")
	if actor.OrganizationID != "" {
		if org != "" && org != actor.OrganizationID {
			api.Fail(w, http.StatusForbidden, "forbidden", "organization not accessible", reqID)
			return
		}
		org = actor.OrganizationID
	}
	page, err := shared.ParsePagination(r, 50, 200)
	if err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_pagination", err.Error(), reqID)
		return
	}
	runs, total, err := h.Coord.ListRuns(r.Context(), org, page.Limit, page.Offset)
	if err != nil {
		shared.FailDomain(w, err, reqID)
		return
	}
	out := make([]runSummary, 0, len(runs))
	for _, run := range runs {
		out = append(out, summarize(run))
	}
	shared.SetTotal(w, page, total)
	api.Success(w, out, reqID)
}

// loadRun fetches the run and hides runs of other organizations as missing.
func (h *Handler) loadRun(w http.ResponseWriter, r *http.Request) (payroll.Run, bool) {
	reqID := middleware.GetRequestID(r.Context())
	actor, _ := middleware.GetActor(r.Context())
	run, err := h.Coord.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		shared.FailDomain(w, err, reqID)
		return payroll.Run{}, false
	}
	if !actor.CanAccess(run.OrganizationID) {
		api.Fail(w, http.StatusNotFound, "not_found", "payroll run not found", reqID)
		return payroll.Run{}, false
	}
	return run, true
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	api.Success(w, summarize(run), middleware.GetRequestID(r.Context()))
}

// handleExecuteRun answers 202 when the run was approved but dispatch is
// deferred to the run trigger.
func (h *Handler) handleExecuteRun(w http.ResponseWriter, r *http.Request) {
	before, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	reqID := middleware.GetRequestID(r.Context())
	run, err := h.Coord.RequestExecution(r.Context(), before.ID)
	if err != nil {
		shared.FailDomain(w, err, reqID)
		return
	}
	h.record(r, audit.ActionRunExecuted, run.ID, map[string]any{"status": before.Status}, map[string]any{"status": run.Status})
	if run.Status == payroll.RunStatusPending {
		api.Accepted(w, summarize(run), reqID)
		return
	}
	api.Success(w, summarize(run), reqID)
}

func (h *Handler) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	before, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	reqID := middleware.GetRequestID(r.Context())
	run, err := h.Coord.Cancel(r.Context(), before.ID)
	if err != nil {
		shared.FailDomain(w, err, reqID)
		return
	}
	h.record(r, audit.ActionRunCancelled, run.ID, map[string]any{"status": before.Status}, map[string]any{"status": run.Status})
	api.Success(w, summarize(run), reqID)
}

func (h *Handler) handleStatement(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	pdf, err := RenderStatement(run)
	if err != nil {
		h.Log.Error("payroll statement render failed", "runId", run.ID, "err", err)
		api.Fail(w, http.StatusInternalServerError, "statement_failed", "failed to render statement", middleware.GetRequestID(r.Context()))
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "attachment; filename=payroll-run-"+run.ID+".pdf")
	_, _ = w.Write(pdf)
}

func (h *Handler) handleListExhausted(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())
	actor, _ := middleware.GetActor(r.Context())
	org := r.URL.Query().Get("organizationId")
	if actor.OrganizationID != "" {
		if org != "" && org != actor.OrganizationID {
			api.Fail(w, http.StatusForbidden, "forbidden", "organization not accessible", reqID)
			return
		}
		org = actor.OrganizationID
	}
	page, err := shared.ParsePagination(r, 100, 500)
	if err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_pagination", err.Error(), reqID)
		return
	}
	items, err := h.Coord.ListExhausted(r.Context(), org, page.Limit)
	if err != nil {
		shared.FailDomain(w, err, reqID)
		return
	}
	if items == nil {
		items = []payroll.Item{}
	}
	api.Success(w, items, reqID)
}

func (h *Handler) record(r *http.Request, action, runID string, before, after any) {
	if h.Audit == nil {
		return
	}
	actor, _ := middleware.GetActor(r.Context())
	evt := audit.Event{
		ActorID:    actor.ID,
		Action:     action,
		EntityType: audit.EntityRun,
		EntityID:   runID,
		RequestID:  middleware.GetRequestID(r.Context()),
		IP:         shared.ClientIP(r),
	}
	if err := h.Audit.Record(r.Context(), evt, before, after); err != nil {
		h.Log.Warn("audit record failed", "action", action, "runId", runID, "err", err)
	}
}
