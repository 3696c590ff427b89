package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Wallet resolves organization treasury wallets.
type Wallet struct {
	base
}

func NewWallet(baseURL string, client *http.Client) *Wallet {
	return &Wallet{base: newBase(baseURL, client)}
}

func (w *Wallet) OrganizationWallet(ctx context.Context, organizationID string) (string, error) {
	var out struct {
		PublicKey string `json:"publicKey"`
	}
	if err := w.do(ctx, http.MethodGet, "/wallets/organizations/"+url.PathEscape(organizationID)+"/treasury", nil, nil, &out); err != nil {
		return "", fmt.Errorf("organization %s wallet: %w", organizationID, err)
	}
	if out.PublicKey == "" {
		return "", fmt.Errorf("organization %s has no treasury wallet", organizationID)
	}
	return out.PublicKey, nil
}
