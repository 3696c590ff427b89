package shared

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"payrollx/internal/domain/payroll"
	"payrollx/internal/transport/http/api"
)

// FailDomain maps coordinator errors onto the API envelope. Errors that a
// caller should simply retry come back as 503 with Retry-After.
func FailDomain(w http.ResponseWriter, err error, requestID string) {
	var notApproved *payroll.NotApprovedError
	switch {
	case errors.As(err, &notApproved):
		api.FailWithDetails(w, http.StatusUnprocessableEntity, "employee_not_approved", "employees are not approved for payment",
			map[string]any{"employeeIds": notApproved.EmployeeIDs}, requestID)
	case errors.Is(err, payroll.ErrRunNotFound), errors.Is(err, payroll.ErrItemNotFound):
		api.Fail(w, http.StatusNotFound, "not_found", err.Error(), requestID)
	case errors.Is(err, payroll.ErrEmptyRun), errors.Is(err, payroll.ErrInvalidRun), errors.Is(err, payroll.ErrInvalidOutcome):
		api.Fail(w, http.StatusBadRequest, "validation_error", err.Error(), requestID)
	case errors.Is(err, payroll.ErrConflictingCompletion):
		api.Fail(w, http.StatusConflict, "conflicting_completion", err.Error(), requestID)
	case errors.Is(err, payroll.ErrRetryExhausted):
		api.Fail(w, http.StatusConflict, "retry_exhausted", err.Error(), requestID)
	case errors.Is(err, payroll.ErrInvalidTransition):
		api.Fail(w, http.StatusConflict, "invalid_state", err.Error(), requestID)
	case payroll.Retryable(err):
		w.Header().Set("Retry-After", "5")
		api.Fail(w, http.StatusServiceUnavailable, "try_again", err.Error(), requestID)
	default:
		slog.Error("payroll request failed", "requestId", requestID, "err", err)
		api.Fail(w, http.StatusInternalServerError, "internal_error", "internal error", requestID)
	}
}

func ClientIP(r *http.Request) string {
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		if value := strings.TrimSpace(strings.Split(fwd, ",")[0]); value != "" {
			return value
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
