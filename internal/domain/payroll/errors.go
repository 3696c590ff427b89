package payroll

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrRunNotFound         = errors.New("payroll run not found")
	ErrItemNotFound        = errors.New("payroll item not found")
	ErrInvalidRun          = errors.New("invalid payroll run")
	ErrEmptyRun            = errors.New("payroll run has no items")
	ErrInvalidOutcome      = errors.New("invalid payment outcome")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrRetryExhausted      = errors.New("payroll item retries exhausted")
	ErrEmployeeNotApproved = errors.New("employee not approved for payroll")

	ErrDispatchUnavailable = errors.New("dispatch unavailable")
	ErrVersionConflict     = errors.New("payroll run version conflict")
	ErrRunBusy             = errors.New("payroll run is leased by another worker")

	ErrConflictingCompletion = errors.New("conflicting completion signature")
)

// NotApprovedError lists every employee that blocked Execute.
type NotApprovedError struct {
	EmployeeIDs []string
}

func (e *NotApprovedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrEmployeeNotApproved, strings.Join(e.EmployeeIDs, ", "))
}

func (e *NotApprovedError) Is(target error) bool {
	return target == ErrEmployeeNotApproved
}

// Retryable reports whether err is transient and the same operation may
// succeed on a later attempt without changed input.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrDispatchUnavailable),
		errors.Is(err, ErrVersionConflict),
		errors.Is(err, ErrRunBusy),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}

func transitionError(subject string, from, to any) error {
	return fmt.Errorf("%w: %s %v -> %v", ErrInvalidTransition, subject, from, to)
}
