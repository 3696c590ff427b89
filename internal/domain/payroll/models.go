package payroll

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Run is one organization's batch of payments. The repository owns the
// persisted copy; a Run value is a snapshot at Version.
type Run struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organizationId"`
	Status         RunStatus       `json:"status"`
	ScheduledAt    time.Time       `json:"scheduledAt"`
	Currency       string          `json:"currency"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	SourceWallet   string          `json:"sourceWallet,omitempty"`
	CreatedBy      string          `json:"createdBy,omitempty"`
	Version        int64           `json:"version"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	Items          []Item          `json:"items"`
}

type Item struct {
	ID                string          `json:"id"`
	RunID             string          `json:"payrollRunId"`
	EmployeeID        string          `json:"employeeId"`
	Amount            decimal.Decimal `json:"amount"`
	Status            ItemStatus      `json:"status"`
	TxSignature       string          `json:"txSignature,omitempty"`
	RetryCount        int             `json:"retryCount"`
	LastError         string          `json:"lastError,omitempty"`
	DestinationWallet string          `json:"destinationWallet,omitempty"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// Clone returns a deep copy so callers can stage changes without touching
// the snapshot they loaded.
func (r Run) Clone() Run {
	out := r
	out.Items = make([]Item, len(r.Items))
	copy(out.Items, r.Items)
	return out
}

func (r Run) ItemIndex(itemID string) int {
	for i := range r.Items {
		if r.Items[i].ID == itemID {
			return i
		}
	}
	return -1
}

func (r Run) Sum() decimal.Decimal {
	total := decimal.Zero
	for _, item := range r.Items {
		total = total.Add(item.Amount)
	}
	return total
}

// CountByStatus is used by the completion event and the statement export.
func (r Run) CountByStatus() map[ItemStatus]int {
	counts := make(map[ItemStatus]int, 4)
	for _, item := range r.Items {
		counts[item.Status]++
	}
	return counts
}

type DraftItem struct {
	EmployeeID string          `json:"employeeId"`
	Amount     decimal.Decimal `json:"amount"`
}

type DraftRequest struct {
	OrganizationID string      `json:"organizationId"`
	ScheduledAt    time.Time   `json:"scheduledAt"`
	Currency       string      `json:"currency"`
	CreatedBy      string      `json:"createdBy"`
	Items          []DraftItem `json:"items"`
}

// IdempotencyKey identifies one item's payment towards the transaction
// service. It stays identical across retries of the same item.
type IdempotencyKey struct {
	RunID  string
	ItemID string
}

func (k IdempotencyKey) String() string {
	return k.RunID + ":" + k.ItemID
}

func ParseIdempotencyKey(raw string) (IdempotencyKey, error) {
	runID, itemID, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok || runID == "" || itemID == "" {
		return IdempotencyKey{}, fmt.Errorf("%w: malformed idempotency key %q", ErrInvalidOutcome, raw)
	}
	return IdempotencyKey{RunID: runID, ItemID: itemID}, nil
}

// Outcome is the result the transaction service reports for one item.
// Exactly one of Success and Failure implements it.
type Outcome interface {
	outcome()
}

type Success struct {
	Signature string
}

type Failure struct {
	Reason string
}

func (Success) outcome() {}
func (Failure) outcome() {}

type PaymentInstruction struct {
	Key        IdempotencyKey
	FromWallet string
	ToWallet   string
	Amount     decimal.Decimal
	Currency   string
}

type SubmitResult struct {
	Accepted bool
	Reason   string
}

type RetryGroup struct {
	RunID   string
	ItemIDs []string
}
