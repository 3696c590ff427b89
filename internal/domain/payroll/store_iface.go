package payroll

import (
	"context"
	"time"
)

// StoreAPI persists runs together with their items. Save is a
// compare-and-swap on Version: it succeeds only when the stored version
// equals expectedVersion and then stores expectedVersion+1.
type StoreAPI interface {
	Create(ctx context.Context, run Run) error
	Load(ctx context.Context, runID string) (Run, error)
	Save(ctx context.Context, run Run, expectedVersion int64) error
	List(ctx context.Context, organizationID string, limit, offset int) ([]Run, int, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]string, error)
	ListRetryable(ctx context.Context, maxRetries, limit int) ([]RetryGroup, error)
	// ListExhausted returns failed items out of retries. An empty
	// organizationID spans every organization.
	ListExhausted(ctx context.Context, organizationID string, maxRetries, limit int) ([]Item, error)
}

// Directory answers employee questions for an organization.
type Directory interface {
	ApprovalStatus(ctx context.Context, organizationID, employeeID string) (ApprovalStatus, error)
	EmployeeWallet(ctx context.Context, organizationID, employeeID string) (string, error)
}

type Treasury interface {
	OrganizationWallet(ctx context.Context, organizationID string) (string, error)
}

// TransactionService accepts payment instructions. A returned error means
// the service could not be reached; a rejection is reported through
// SubmitResult.
type TransactionService interface {
	Submit(ctx context.Context, instruction PaymentInstruction) (SubmitResult, error)
}

// Recorder receives coordinator counters. metrics.Collector satisfies it.
type Recorder interface {
	Inc(name string, delta int64)
}

type nopRecorder struct{}

func (nopRecorder) Inc(string, int64) {}
