package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

// Envelope is the body of every JSON response:
// {success, data | error{code, message, details}, requestId}.
type Envelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     *Error `json:"error,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

// WriteJSON encodes payload before touching the response so an encoding
// failure still yields a well-formed 500 envelope. Payroll data is never
// cacheable.
func WriteJSON(w http.ResponseWriter, status int, payload Envelope) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		slog.Error("encode response envelope", "requestId", payload.RequestID, "err", err)
		status = http.StatusInternalServerError
		buf.Reset()
		_ = json.NewEncoder(&buf).Encode(Envelope{
			Error:     &Error{Code: "internal_error", Message: "response encoding failed"},
			RequestID: payload.RequestID,
		})
	}
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("Content-Length", strconv.Itoa(buf.Len()))
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Debug("write response envelope", "requestId", payload.RequestID, "err", err)
	}
}

func ok(w http.ResponseWriter, status int, data any, requestID string) {
	WriteJSON(w, status, Envelope{Success: true, Data: data, RequestID: requestID})
}

func Success(w http.ResponseWriter, data any, requestID string) { ok(w, http.StatusOK, data, requestID) }

func Created(w http.ResponseWriter, data any, requestID string) {
	ok(w, http.StatusCreated, data, requestID)
}

// Accepted reports work that was recorded but will finish later.
func Accepted(w http.ResponseWriter, data any, requestID string) {
	ok(w, http.StatusAccepted, data, requestID)
}

func Fail(w http.ResponseWriter, status int, code, message, requestID string) {
	FailWithDetails(w, status, code, message, nil, requestID)
}

func FailWithDetails(w http.ResponseWriter, status int, code, message string, details any, requestID string) {
	WriteJSON(w, status, Envelope{Error: &Error{Code: code, Message: message, Details: details}, RequestID: requestID})
}
