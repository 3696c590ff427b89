package payroll

import (
	"fmt"
	"strings"
)

// The item transitions below are pure: they return the updated copy and
// never touch storage. Callers persist the result through the run.

// Dispatch moves a Pending or Failed item to Dispatched. The retry budget
// is checked first, whatever the status.
func Dispatch(item Item, maxRetries int) (Item, error) {
	if item.RetryCount >= maxRetries {
		return item, fmt.Errorf("%w: item %s after %d attempts", ErrRetryExhausted, item.ID, item.RetryCount)
	}
	if item.Status != ItemStatusPending && item.Status != ItemStatusFailed {
		return item, transitionError("item "+item.ID, item.Status, ItemStatusDispatched)
	}
	item.Status = ItemStatusDispatched
	item.LastError = ""
	return item, nil
}

// Complete records a settled payment. A repeat with the same signature is a
// no-op and reports changed=false.
func Complete(item Item, signature string) (Item, bool, error) {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return item, false, fmt.Errorf("%w: empty signature", ErrInvalidOutcome)
	}
	switch item.Status {
	case ItemStatusDispatched:
		item.Status = ItemStatusCompleted
		item.TxSignature = signature
		item.LastError = ""
		return item, true, nil
	case ItemStatusCompleted:
		if item.TxSignature == signature {
			return item, false, nil
		}
		return item, false, fmt.Errorf("%w: item %s has %s, got %s", ErrConflictingCompletion, item.ID, item.TxSignature, signature)
	}
	return item, false, transitionError("item "+item.ID, item.Status, ItemStatusCompleted)
}

// Fail records a failed attempt and spends one retry. A repeat of the same
// failure on an already failed item is a no-op.
func Fail(item Item, reason string) (Item, bool, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unspecified failure"
	}
	switch item.Status {
	case ItemStatusDispatched:
		item.Status = ItemStatusFailed
		item.RetryCount++
		item.LastError = reason
		return item, true, nil
	case ItemStatusFailed:
		if item.LastError == reason {
			return item, false, nil
		}
	}
	return item, false, transitionError("item "+item.ID, item.Status, ItemStatusFailed)
}

// Apply routes an outcome to Complete or Fail.
func Apply(item Item, outcome Outcome) (Item, bool, error) {
	switch o := outcome.(type) {
	case Success:
		return Complete(item, o.Signature)
	case Failure:
		return Fail(item, o.Reason)
	case nil:
		return item, false, fmt.Errorf("%w: missing outcome", ErrInvalidOutcome)
	}
	return item, false, fmt.Errorf("%w: %T", ErrInvalidOutcome, outcome)
}

// Eligible reports whether the item can be dispatched on the next attempt.
func Eligible(item Item, maxRetries int) bool {
	if item.RetryCount >= maxRetries {
		return false
	}
	return item.Status == ItemStatusPending || item.Status == ItemStatusFailed
}
