// Package payrolltest provides in-process collaborators for tests that
// drive the coordinator through an outer surface.
package payrolltest

import (
	"context"
	"errors"
	"sync"

	"payrollx/internal/domain/payroll"
)

// Directory approves every employee except those listed in Blocked.
type Directory struct {
	mu      sync.Mutex
	Blocked map[string]bool
}

func (d *Directory) Block(employeeID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Blocked == nil {
		d.Blocked = map[string]bool{}
	}
	d.Blocked[employeeID] = true
}

func (d *Directory) ApprovalStatus(_ context.Context, _, employeeID string) (payroll.ApprovalStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Blocked[employeeID] {
		return payroll.ApprovalNotApproved, nil
	}
	return payroll.ApprovalApproved, nil
}

func (d *Directory) EmployeeWallet(_ context.Context, _, employeeID string) (string, error) {
	return "wallet-" + employeeID, nil
}

type Treasury struct{}

func (Treasury) OrganizationWallet(_ context.Context, organizationID string) (string, error) {
	return "treasury-" + organizationID, nil
}

// Transactions accepts every instruction unless Down is set.
type Transactions struct {
	mu        sync.Mutex
	Down      bool
	submitted []payroll.PaymentInstruction
}

func (t *Transactions) SetDown(down bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Down = down
}

func (t *Transactions) Submit(_ context.Context, in payroll.PaymentInstruction) (payroll.SubmitResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Down {
		return payroll.SubmitResult{}, errors.New("transaction service unreachable")
	}
	t.submitted = append(t.submitted, in)
	return payroll.SubmitResult{Accepted: true}, nil
}

func (t *Transactions) Submitted() []payroll.PaymentInstruction {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]payroll.PaymentInstruction(nil), t.submitted...)
}
