package payroll

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func testItem(status ItemStatus) Item {
	return Item{ID: "i1", RunID: "r1", EmployeeID: "e1", Amount: decimal.NewFromInt(100), Status: status}
}

func TestDispatchFromPendingAndFailed(t *testing.T) {
	out, err := Dispatch(testItem(ItemStatusPending), 3)
	if err != nil {
		t.Fatalf("dispatch pending: %v", err)
	}
	if out.Status != ItemStatusDispatched {
		t.Fatalf("expected dispatched, got %s", out.Status)
	}

	failed := testItem(ItemStatusFailed)
	failed.RetryCount = 1
	failed.LastError = "timeout"
	out, err = Dispatch(failed, 3)
	if err != nil {
		t.Fatalf("dispatch failed item: %v", err)
	}
	if out.LastError != "" {
		t.Fatalf("expected last error cleared, got %q", out.LastError)
	}
	if out.RetryCount != 1 {
		t.Fatalf("expected retry count kept at 1, got %d", out.RetryCount)
	}
}

func TestDispatchRetryBound(t *testing.T) {
	cases := []struct {
		status     ItemStatus
		retries    int
		maxRetries int
	}{
		{ItemStatusFailed, 3, 3},
		{ItemStatusFailed, 4, 3},
		{ItemStatusPending, 3, 3},
		{ItemStatusPending, 0, 0},
	}
	for _, tc := range cases {
		item := testItem(tc.status)
		item.RetryCount = tc.retries
		out, err := Dispatch(item, tc.maxRetries)
		if !errors.Is(err, ErrRetryExhausted) {
			t.Fatalf("%s retries=%d max=%d: expected retry exhausted, got %v", tc.status, tc.retries, tc.maxRetries, err)
		}
		if out.Status != tc.status {
			t.Fatalf("%s retries=%d: status changed to %s", tc.status, tc.retries, out.Status)
		}
		if Eligible(item, tc.maxRetries) {
			t.Fatalf("%s retries=%d max=%d: exhausted item reported eligible", tc.status, tc.retries, tc.maxRetries)
		}
	}
}

func TestDispatchRejectsInFlightAndCompleted(t *testing.T) {
	for _, status := range []ItemStatus{ItemStatusDispatched, ItemStatusCompleted} {
		in := testItem(status)
		out, err := Dispatch(in, 3)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s: expected invalid transition, got %v", status, err)
		}
		if out != in {
			t.Fatalf("%s: item changed on failed dispatch", status)
		}
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	item, changed, err := Complete(testItem(ItemStatusDispatched), "sig1")
	if err != nil || !changed {
		t.Fatalf("first complete: changed=%v err=%v", changed, err)
	}
	if item.TxSignature != "sig1" || item.Status != ItemStatusCompleted {
		t.Fatalf("unexpected item %+v", item)
	}

	again, changed, err := Complete(item, "sig1")
	if err != nil {
		t.Fatalf("repeat complete: %v", err)
	}
	if changed || again != item {
		t.Fatalf("expected no-op on repeat, got changed=%v", changed)
	}
}

func TestCompleteConflictingSignature(t *testing.T) {
	item, _, _ := Complete(testItem(ItemStatusDispatched), "sig1")
	out, _, err := Complete(item, "sig2")
	if !errors.Is(err, ErrConflictingCompletion) {
		t.Fatalf("expected conflicting completion, got %v", err)
	}
	if out.TxSignature != "sig1" {
		t.Fatalf("signature overwritten: %s", out.TxSignature)
	}
}

func TestCompleteRequiresDispatched(t *testing.T) {
	for _, status := range []ItemStatus{ItemStatusPending, ItemStatusFailed} {
		_, _, err := Complete(testItem(status), "sig")
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s: expected invalid transition, got %v", status, err)
		}
	}
	if _, _, err := Complete(testItem(ItemStatusDispatched), "  "); !errors.Is(err, ErrInvalidOutcome) {
		t.Fatalf("expected invalid outcome for blank signature, got %v", err)
	}
}

func TestFailIncrementsRetryCount(t *testing.T) {
	item, changed, err := Fail(testItem(ItemStatusDispatched), "timeout")
	if err != nil || !changed {
		t.Fatalf("fail: changed=%v err=%v", changed, err)
	}
	if item.Status != ItemStatusFailed || item.RetryCount != 1 || item.LastError != "timeout" {
		t.Fatalf("unexpected item %+v", item)
	}
	if item.TxSignature != "" {
		t.Fatalf("failed item must not carry a signature")
	}

	again, changed, err := Fail(item, "timeout")
	if err != nil || changed {
		t.Fatalf("duplicate failure should be a no-op, changed=%v err=%v", changed, err)
	}
	if again.RetryCount != 1 {
		t.Fatalf("expected retry count 1 after duplicate, got %d", again.RetryCount)
	}

	if _, _, err := Fail(item, "other"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition for new reason on failed item, got %v", err)
	}
	if _, _, err := Fail(testItem(ItemStatusCompleted), "late"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on completed item, got %v", err)
	}
}

func TestApplyRoutesOutcome(t *testing.T) {
	item, _, err := Apply(testItem(ItemStatusDispatched), Success{Signature: "sig"})
	if err != nil || item.Status != ItemStatusCompleted {
		t.Fatalf("success: %v %+v", err, item)
	}
	item, _, err = Apply(testItem(ItemStatusDispatched), Failure{Reason: "rejected"})
	if err != nil || item.Status != ItemStatusFailed {
		t.Fatalf("failure: %v %+v", err, item)
	}
	if _, _, err := Apply(testItem(ItemStatusDispatched), nil); !errors.Is(err, ErrInvalidOutcome) {
		t.Fatalf("expected invalid outcome for nil, got %v", err)
	}
}

func TestParseIdempotencyKey(t *testing.T) {
	key, err := ParseIdempotencyKey("r1:i1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if key != (IdempotencyKey{RunID: "r1", ItemID: "i1"}) || key.String() != "r1:i1" {
		t.Fatalf("unexpected key %+v", key)
	}
	for _, raw := range []string{"", "r1", ":i1", "r1:"} {
		if _, err := ParseIdempotencyKey(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}
