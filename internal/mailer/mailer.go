package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"duka/internal/model"
)

// Mailer sends transactional email through the Resend HTTP API.
type Mailer struct {
	apiKey  string
	from    string
	client  *http.Client
	baseURL string
}

func New(from string) (*Mailer, error) {
	key := os.Getenv("RESEND_API_KEY")
	if key == "" {
		return nil, errors.New("RESEND_API_KEY not set")
	}
	return &Mailer{
		apiKey:  key,
		from:    from,
		client:  &http.Client{Timeout: 5 * time.Second},
		baseURL: "https://api.resend.com",
	}, nil
}

// NewWith is for tests: inject key, base URL and client directly.
func NewWith(apiKey string, from string, baseURL string, hc *http.Client) *Mailer {
	return &Mailer{apiKey: apiKey, from: from, client: hc, baseURL: baseURL}
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// SendOrderConfirmation mails a paid-order receipt.
func (m *Mailer) SendOrderConfirmation(ctx context.Context, to string, o model.Order) error {
	html := fmt.Sprintf(
		`<p>Thank you for your order!</p>
		<p>Order <strong>%s</strong> for KES %.2f has been paid.</p>
		<p>Reference: %s</p>`,
		o.ID, o.Total, o.Reference,
	)
	return m.send(ctx, sendRequest{
		From:    m.from,
		To:      []string{to},
		Subject: "Your order " + o.ID + " is confirmed",
		HTML:    html,
	})
}

// SendPaymentFailed mails a payment-failure notice.
func (m *Mailer) SendPaymentFailed(ctx context.Context, to string, o model.Order) error {
	html := fmt.Sprintf(
		`<p>We could not complete payment for order <strong>%s</strong> (KES %.2f).</p>
		<p>No money was taken. You can retry from your order history.</p>`,
		o.ID, o.Total,
	)
	return m.send(ctx, sendRequest{
		From:    m.from,
		To:      []string{to},
		Subject: "Payment failed for order " + o.ID,
		HTML:    html,
	})
}

func (m *Mailer) send(ctx context.Context, body sendRequest) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/emails", bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(resp.Body)
		return fmt.Errorf("send email: status %d: %s", resp.StatusCode, buf.String())
	}
	return nil
}
