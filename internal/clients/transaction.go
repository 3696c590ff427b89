package clients

import (
	"context"
	"errors"
	"net/http"

	"payrollx/internal/domain/payroll"
)

type transactionRequest struct {
	IdempotencyKey string `json:"idempotencyKey"`
	PayrollRunID   string `json:"payrollRunId"`
	PayrollItemID  string `json:"payrollItemId"`
	FromAddress    string `json:"fromAddress"`
	ToAddress      string `json:"toAddress"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
}

// Transaction submits payment instructions. Settlement is reported back
// asynchronously through the results webhook or topic.
type Transaction struct {
	base
}

func NewTransaction(baseURL string, client *http.Client) *Transaction {
	return &Transaction{base: newBase(baseURL, client)}
}

// Submit maps 4xx validation responses to a rejection. A 409 means the key
// was already accepted. Everything else is an error.
func (t *Transaction) Submit(ctx context.Context, in payroll.PaymentInstruction) (payroll.SubmitResult, error) {
	key := in.Key.String()
	err := t.do(ctx, http.MethodPost, "/transactions", map[string]string{"Idempotency-Key": key}, transactionRequest{
		IdempotencyKey: key,
		PayrollRunID:   in.Key.RunID,
		PayrollItemID:  in.Key.ItemID,
		FromAddress:    in.FromWallet,
		ToAddress:      in.ToWallet,
		Amount:         in.Amount.String(),
		Currency:       in.Currency,
	}, nil)
	if err == nil {
		return payroll.SubmitResult{Accepted: true}, nil
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return payroll.SubmitResult{}, err
	}
	switch statusErr.Status {
	case http.StatusConflict:
		return payroll.SubmitResult{Accepted: true}, nil
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusPaymentRequired, http.StatusForbidden:
		reason := statusErr.Message
		if reason == "" {
			reason = http.StatusText(statusErr.Status)
		}
		return payroll.SubmitResult{Accepted: false, Reason: reason}, nil
	}
	return payroll.SubmitResult{}, err
}
