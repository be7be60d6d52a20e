package payments

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MpesaClient proxies the mobile-money push-payment service (STK push). An
// OAuth token is fetched lazily and cached until shortly before expiry.
type MpesaClient struct {
	consumerKey    string
	consumerSecret string
	shortcode      string
	passkey        string
	callbackURL    string
	baseURL        string
	hc             *http.Client

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

type MpesaConfig struct {
	ConsumerKey    string
	ConsumerSecret string
	Shortcode      string
	Passkey        string
	CallbackURL    string
}

func NewMpesaClient(cfg MpesaConfig) *MpesaClient {
	return &MpesaClient{
		consumerKey:    cfg.ConsumerKey,
		consumerSecret: cfg.ConsumerSecret,
		shortcode:      cfg.Shortcode,
		passkey:        cfg.Passkey,
		callbackURL:    cfg.CallbackURL,
		baseURL:        "https://sandbox.safaricom.co.ke",
		hc:             &http.Client{Timeout: 15 * time.Second},
	}
}

// NewMpesaClientWith is for tests: point the client at an httptest server.
func NewMpesaClientWith(cfg MpesaConfig, baseURL string, hc *http.Client) *MpesaClient {
	c := NewMpesaClient(cfg)
	c.baseURL = baseURL
	c.hc = hc
	return c
}

func (c *MpesaClient) authToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Before(c.tokenExp) {
		return c.token, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.consumerKey, c.consumerSecret)

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("oauth call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("oauth status %d: %s", resp.StatusCode, raw)
	}
	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode oauth: %w", err)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("oauth returned empty token")
	}
	c.token = out.AccessToken
	// expires_in is seconds as a string; renew half a minute early
	ttl := 55 * time.Minute
	if secs, err := strconv.Atoi(out.ExpiresIn); err == nil && secs > 0 {
		ttl = time.Duration(secs)*time.Second - 30*time.Second
	}
	c.tokenExp = time.Now().Add(ttl)
	return c.token, nil
}

type STKPushResult struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// STKPush asks the provider to pop a payment prompt on the shopper's phone.
// amount is whole KES; the push API takes no subunits.
func (c *MpesaClient) STKPush(ctx context.Context, phone string, amountKES int64, accountRef string, description string) (STKPushResult, error) {
	token, err := c.authToken(ctx)
	if err != nil {
		return STKPushResult{}, err
	}
	ts := time.Now().Format("20060102150405")
	password := base64.StdEncoding.EncodeToString([]byte(c.shortcode + c.passkey + ts))
	body := map[string]any{
		"BusinessShortCode": c.shortcode,
		"Password":          password,
		"Timestamp":         ts,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            amountKES,
		"PartyA":            normalizePhone(phone),
		"PartyB":            c.shortcode,
		"PhoneNumber":       normalizePhone(phone),
		"CallBackURL":       c.callbackURL,
		"AccountReference":  accountRef,
		"TransactionDesc":   description,
	}
	var out STKPushResult
	if err := c.post(ctx, token, "/mpesa/stkpush/v1/processrequest", body, &out); err != nil {
		return STKPushResult{}, err
	}
	if out.ResponseCode != "0" {
		return out, fmt.Errorf("stk push declined: %s", out.ResponseDescription)
	}
	return out, nil
}

type STKQueryResult struct {
	ResponseCode      string `json:"ResponseCode"`
	ResultCode        string `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

// QueryStatus asks the provider for the outcome of an earlier push.
func (c *MpesaClient) QueryStatus(ctx context.Context, checkoutRequestID string) (STKQueryResult, error) {
	token, err := c.authToken(ctx)
	if err != nil {
		return STKQueryResult{}, err
	}
	ts := time.Now().Format("20060102150405")
	password := base64.StdEncoding.EncodeToString([]byte(c.shortcode + c.passkey + ts))
	body := map[string]any{
		"BusinessShortCode": c.shortcode,
		"Password":          password,
		"Timestamp":         ts,
		"CheckoutRequestID": checkoutRequestID,
	}
	var out STKQueryResult
	if err := c.post(ctx, token, "/mpesa/stkpushquery/v1/query", body, &out); err != nil {
		return STKQueryResult{}, err
	}
	return out, nil
}

func (c *MpesaClient) post(ctx context.Context, token string, path string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(string(b)))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("push call: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("push %s: status %d: %s", path, resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// CallbackResult is the flattened outcome of a push-payment callback.
// ResultCode 0 means the shopper completed the prompt.
type CallbackResult struct {
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	Receipt           string
	Amount            float64
	Phone             string
}

// DecodeCallback unpacks the provider's nested callback payload. The items
// in CallbackMetadata are only present on success.
func DecodeCallback(body []byte) (CallbackResult, error) {
	var raw struct {
		Body struct {
			StkCallback struct {
				CheckoutRequestID string `json:"CheckoutRequestID"`
				ResultCode        int    `json:"ResultCode"`
				ResultDesc        string `json:"ResultDesc"`
				CallbackMetadata  struct {
					Item []struct {
						Name  string `json:"Name"`
						Value any    `json:"Value"`
					} `json:"Item"`
				} `json:"CallbackMetadata"`
			} `json:"stkCallback"`
		} `json:"Body"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return CallbackResult{}, fmt.Errorf("decode callback: %w", err)
	}
	cb := raw.Body.StkCallback
	if cb.CheckoutRequestID == "" {
		return CallbackResult{}, fmt.Errorf("callback missing CheckoutRequestID")
	}
	out := CallbackResult{
		CheckoutRequestID: cb.CheckoutRequestID,
		ResultCode:        cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
	}
	for _, item := range cb.CallbackMetadata.Item {
		switch item.Name {
		case "MpesaReceiptNumber":
			if s, ok := item.Value.(string); ok {
				out.Receipt = s
			}
		case "Amount":
			if f, ok := item.Value.(float64); ok {
				out.Amount = f
			}
		case "PhoneNumber":
			switch v := item.Value.(type) {
			case float64:
				out.Phone = fmt.Sprintf("%.0f", v)
			case string:
				out.Phone = v
			}
		}
	}
	return out, nil
}

// normalizePhone rewrites 07XX/+254 forms to the 2547XX form the push API
// requires.
func normalizePhone(phone string) string {
	p := strings.TrimSpace(phone)
	p = strings.TrimPrefix(p, "+")
	if strings.HasPrefix(p, "0") {
		p = "254" + p[1:]
	}
	return p
}
