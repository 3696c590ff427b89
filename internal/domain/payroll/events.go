package payroll

import (
	"context"

	"github.com/shopspring/decimal"

	"payrollx/internal/platform/events"
)

type RunInitiatedPayload struct {
	PayrollRunID   string          `json:"payrollRunId"`
	OrganizationID string          `json:"organizationId"`
	Currency       string          `json:"currency"`
	SourceWallet   string          `json:"sourceWallet"`
	Retry          bool            `json:"retry"`
	Items          []InitiatedItem `json:"items"`
}

type InitiatedItem struct {
	ItemID            string          `json:"itemId"`
	EmployeeID        string          `json:"employeeId"`
	DestinationWallet string          `json:"destinationWallet"`
	Amount            decimal.Decimal `json:"amount"`
	IdempotencyKey    string          `json:"idempotencyKey"`
	Status            ItemStatus      `json:"status"`
}

type ItemSettledPayload struct {
	PayrollRunID string     `json:"payrollRunId"`
	ItemID       string     `json:"itemId"`
	Status       ItemStatus `json:"status"`
	TxSignature  string     `json:"txSignature,omitempty"`
	Reason       string     `json:"reason,omitempty"`
	RetryCount   int        `json:"retryCount"`
}

type RunCompletedPayload struct {
	PayrollRunID   string    `json:"payrollRunId"`
	Status         RunStatus `json:"status"`
	CompletedItems int       `json:"completedItems"`
	TotalItems     int       `json:"totalItems"`
}

type RunCancelledPayload struct {
	PayrollRunID string `json:"payrollRunId"`
}

type AnomalyPayload struct {
	PayrollRunID      string `json:"payrollRunId"`
	ItemID            string `json:"itemId"`
	StoredSignature   string `json:"storedSignature"`
	ReportedSignature string `json:"reportedSignature"`
}

// publish runs after the state write. A failed publish is logged and never
// rolls back state.
func (c *Coordinator) publish(ctx context.Context, eventType, runID string, payload any) {
	ev, err := events.New(eventType, runID, payload, c.now())
	if err == nil {
		err = c.publisher.Publish(ctx, ev)
	}
	if err != nil {
		c.log.Warn("payroll event not published", "type", eventType, "runId", runID, "err", err)
	}
}

func (c *Coordinator) publishTerminal(ctx context.Context, run Run) {
	counts := run.CountByStatus()
	c.publish(ctx, EventRunCompleted, run.ID, RunCompletedPayload{
		PayrollRunID:   run.ID,
		Status:         run.Status,
		CompletedItems: counts[ItemStatusCompleted],
		TotalItems:     len(run.Items),
	})
}
