package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"payrollx/internal/domain/payroll"
)

const kycApproved = "APPROVED"

type employee struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organizationId"`
	KYCStatus      string `json:"kycStatus"`
	Wallets        []struct {
		PublicKey string `json:"publicKey"`
	} `json:"wallets"`
}

// Directory resolves employee approval and payout wallets from the
// employee service.
type Directory struct {
	base
}

func NewDirectory(baseURL string, client *http.Client) *Directory {
	return &Directory{base: newBase(baseURL, client)}
}

func (d *Directory) employee(ctx context.Context, organizationID, employeeID string) (employee, error) {
	var out employee
	err := d.do(ctx, http.MethodGet, "/employees/"+url.PathEscape(employeeID),
		map[string]string{"X-Organization-Id": organizationID}, nil, &out)
	return out, err
}

func (d *Directory) ApprovalStatus(ctx context.Context, organizationID, employeeID string) (payroll.ApprovalStatus, error) {
	emp, err := d.employee(ctx, organizationID, employeeID)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Status == http.StatusNotFound {
		return payroll.ApprovalNotApproved, nil
	}
	if err != nil {
		return payroll.ApprovalUnknown, fmt.Errorf("employee %s approval: %w", employeeID, err)
	}
	if emp.OrganizationID != "" && emp.OrganizationID != organizationID {
		return payroll.ApprovalNotApproved, nil
	}
	if strings.EqualFold(emp.KYCStatus, kycApproved) {
		return payroll.ApprovalApproved, nil
	}
	return payroll.ApprovalNotApproved, nil
}

// EmployeeWallet returns the employee's primary wallet address.
func (d *Directory) EmployeeWallet(ctx context.Context, organizationID, employeeID string) (string, error) {
	emp, err := d.employee(ctx, organizationID, employeeID)
	if err != nil {
		return "", fmt.Errorf("employee %s wallet: %w", employeeID, err)
	}
	for _, w := range emp.Wallets {
		if w.PublicKey != "" {
			return w.PublicKey, nil
		}
	}
	return "", fmt.Errorf("employee %s has no linked wallet", employeeID)
}
