package model

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

// OrderItem is a single purchased line. Persisted records accumulated over
// several app versions, so decoding is lenient: qty may appear as
// "quantity", price may be a numeric string.
type OrderItem struct {
	ID    string  `json:"id,omitempty"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Qty   int     `json:"qty"`
	Image string  `json:"image,omitempty"`
}

func (it *OrderItem) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID       string          `json:"id"`
		Name     string          `json:"name"`
		Price    json.RawMessage `json:"price"`
		Qty      json.RawMessage `json:"qty"`
		Quantity json.RawMessage `json:"quantity"`
		Image    string          `json:"image"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	it.ID = raw.ID
	it.Name = raw.Name
	it.Image = raw.Image
	it.Price = numeric(raw.Price)
	if it.Price < 0 {
		it.Price = 0
	}
	q := raw.Qty
	if len(q) == 0 {
		q = raw.Quantity
	}
	it.Qty = int(numeric(q))
	if it.Qty < 1 {
		it.Qty = 1
	}
	return nil
}

// numeric reads a JSON number or numeric string; unparsable values become 0.
func numeric(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// Order is one purchase record. ID is either a payment-provider reference
// or a locally generated token embedding a millisecond epoch. CreatedAt and
// PaidAt are strings on purpose: legacy records hold anything from ISO-8601
// to pre-formatted display text.
type Order struct {
	ID        string      `json:"id"`
	Reference string      `json:"reference,omitempty"`
	CreatedAt string      `json:"createdAt,omitempty"`
	PaidAt    string      `json:"paidAt,omitempty"`
	Total     float64     `json:"total"`
	Items     []OrderItem `json:"items"`
	Status    Status      `json:"status,omitempty"`
	Email     string      `json:"email,omitempty"`
	Phone     string      `json:"phone,omitempty"`
}

// EffectiveStatus resolves the paid-vs-pending display state. The explicit
// status field is authoritative; the older "has a reference means it went
// through" heuristic applies only to records that predate the field.
func (o Order) EffectiveStatus() Status {
	if o.Status != "" {
		return o.Status
	}
	if o.Reference != "" {
		return StatusPaid
	}
	return StatusPending
}
