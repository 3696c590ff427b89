package payroll

import (
	"fmt"
	"strings"
)

// ResultMessage is the settlement report the transaction service sends,
// either to the results webhook or on the results topic.
type ResultMessage struct {
	IdempotencyKey string `json:"idempotencyKey"`
	Status         string `json:"status"`
	Signature      string `json:"signature,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// Decode turns the message into a key and a tagged outcome.
func (m ResultMessage) Decode() (IdempotencyKey, Outcome, error) {
	key, err := ParseIdempotencyKey(m.IdempotencyKey)
	if err != nil {
		return IdempotencyKey{}, nil, err
	}
	switch strings.ToLower(strings.TrimSpace(m.Status)) {
	case "success", "confirmed", "completed":
		if strings.TrimSpace(m.Signature) == "" {
			return IdempotencyKey{}, nil, fmt.Errorf("%w: success without signature", ErrInvalidOutcome)
		}
		return key, Success{Signature: strings.TrimSpace(m.Signature)}, nil
	case "failure", "failed":
		return key, Failure{Reason: strings.TrimSpace(m.Reason)}, nil
	}
	return IdempotencyKey{}, nil, fmt.Errorf("%w: unknown status %q", ErrInvalidOutcome, m.Status)
}
