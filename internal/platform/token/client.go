// Package token is the REST client for the external token service that
// reports payout-asset supply and mints vested payouts.
package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"github.com/phoenixfi/bondtreasury/internal/crypto"
	"github.com/phoenixfi/bondtreasury/internal/domain"
)

// Client is the HMAC-authenticated REST client for the token service.
type Client struct {
	baseURL    string
	auth       *crypto.HMACAuth
	httpClient *http.Client
}

var _ domain.TokenService = (*Client)(nil)

// NewClient creates a new token-service client.
//
// baseURL is the service root, e.g. "https://token.phoenixfi.dev/v1".
func NewClient(baseURL string, auth *crypto.HMACAuth) *Client {
	return &Client{
		baseURL: baseURL,
		auth:    auth,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// TotalSupply returns the current total supply of the payout asset.
func (c *Client) TotalSupply(ctx context.Context, asset string) (*big.Int, error) {
	path := fmt.Sprintf("/tokens/%s/supply", url.PathEscape(asset))

	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("token: total supply %s: %w", asset, err)
	}

	var resp supplyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("token: decode supply: %w", err)
	}

	supply, err := parseAmount(resp.TotalSupply)
	if err != nil {
		return nil, fmt.Errorf("token: decode supply: %w", err)
	}
	return supply, nil
}

// Mint asks the service to mint amount of the payout asset to account. The
// call is synchronous: a nil error means the mint has been accepted.
func (c *Client) Mint(ctx context.Context, asset, account string, amount *big.Int) error {
	path := fmt.Sprintf("/tokens/%s/mint", url.PathEscape(asset))

	payload, err := json.Marshal(mintRequest{
		Account: account,
		Amount:  amount.String(),
	})
	if err != nil {
		return fmt.Errorf("token: encode mint: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return fmt.Errorf("token: mint %s to %s: %w", asset, account, err)
	}

	var resp mintResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("token: decode mint response: %w", err)
	}
	if resp.Status != "" && resp.Status != "accepted" && resp.Status != "completed" {
		return fmt.Errorf("token: mint not accepted: status=%s tx=%s", resp.Status, resp.TxID)
	}
	return nil
}

// do sends a signed request and returns the response body.
func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.auth != nil {
		for k, v := range c.auth.Headers(method, path, string(payload)) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e errorResponse
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("status %d: %s", resp.StatusCode, e.Error)
		}
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}
