package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

// CardClient proxies the card/online gateway. The storefront never talks to
// the gateway from the browser; these calls run server-side with the secret
// key.
type CardClient struct {
	secret  string
	baseURL string
	hc      *http.Client
}

func NewCardClient(secret string) *CardClient {
	return &CardClient{
		secret:  secret,
		baseURL: "https://api.paystack.co",
		hc:      &http.Client{Timeout: 10 * time.Second},
	}
}

// NewCardClientWith is for tests: point the client at an httptest server.
func NewCardClientWith(secret string, baseURL string, hc *http.Client) *CardClient {
	return &CardClient{secret: secret, baseURL: baseURL, hc: hc}
}

type CardInit struct {
	Email       string
	AmountKES   float64
	Reference   string
	CallbackURL string
}

type CardInitResult struct {
	AuthorizationURL string
	AccessCode       string
	Reference        string
}

type CardVerifyResult struct {
	Status    string
	Reference string
	AmountKES float64
	PaidAt    string
	Channel   string
}

// Initialize opens a gateway transaction and returns the hosted payment
// page URL the shopper is redirected to. Amounts go over the wire in
// subunits (cents).
func (c *CardClient) Initialize(ctx context.Context, in CardInit) (CardInitResult, error) {
	body := map[string]any{
		"email":     in.Email,
		"amount":    int64(math.Round(in.AmountKES * 100)),
		"reference": in.Reference,
		"currency":  "KES",
	}
	if in.CallbackURL != "" {
		body["callback_url"] = in.CallbackURL
	}
	var out struct {
		Status  bool   `json:"status"`
		Message string `json:"message"`
		Data    struct {
			AuthorizationURL string `json:"authorization_url"`
			AccessCode       string `json:"access_code"`
			Reference        string `json:"reference"`
		} `json:"data"`
	}
	if err := c.call(ctx, http.MethodPost, "/transaction/initialize", body, &out); err != nil {
		return CardInitResult{}, err
	}
	if !out.Status {
		return CardInitResult{}, fmt.Errorf("gateway rejected initialize: %s", out.Message)
	}
	return CardInitResult{
		AuthorizationURL: out.Data.AuthorizationURL,
		AccessCode:       out.Data.AccessCode,
		Reference:        out.Data.Reference,
	}, nil
}

// Verify fetches the final state of a transaction by reference.
func (c *CardClient) Verify(ctx context.Context, reference string) (CardVerifyResult, error) {
	var out struct {
		Status  bool   `json:"status"`
		Message string `json:"message"`
		Data    struct {
			Status    string  `json:"status"`
			Reference string  `json:"reference"`
			Amount    float64 `json:"amount"`
			PaidAt    string  `json:"paid_at"`
			Channel   string  `json:"channel"`
		} `json:"data"`
	}
	if err := c.call(ctx, http.MethodGet, "/transaction/verify/"+reference, nil, &out); err != nil {
		return CardVerifyResult{}, err
	}
	if !out.Status {
		return CardVerifyResult{}, fmt.Errorf("gateway rejected verify: %s", out.Message)
	}
	return CardVerifyResult{
		Status:    out.Data.Status,
		Reference: out.Data.Reference,
		AmountKES: out.Data.Amount / 100,
		PaidAt:    out.Data.PaidAt,
		Channel:   out.Data.Channel,
	}, nil
}

func (c *CardClient) call(ctx context.Context, method string, path string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("gateway call: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("gateway %s %s: status %d: %s", method, path, resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
