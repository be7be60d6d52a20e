package checkout

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"duka/internal/eventlog"
	"duka/internal/history"
	"duka/internal/model"
	"duka/internal/store"
)

// Now is the clock used for order tokens and event timestamps. Split for
// testability.
var Now = func() time.Time { return time.Now() }

// Service creates pending orders before the payment redirect and flips them
// to paid/failed once a verification response is known.
type Service struct {
	store  store.Store
	events eventlog.Writer
}

func NewService(st store.Store, events eventlog.Writer) *Service {
	return &Service{store: st, events: events}
}

// Create writes a new pending order to the canonical collection. The token
// embeds a millisecond epoch so the history normalizer can date the order
// even when no provider timestamp ever arrives.
func (s *Service) Create(items []model.OrderItem, email string, phone string) (model.Order, error) {
	if len(items) == 0 {
		return model.Order{}, fmt.Errorf("checkout: empty cart")
	}
	now := Now()
	o := model.Order{
		ID:        newToken(now),
		CreatedAt: history.DisplayTime(now),
		Total:     Total(items),
		Items:     items,
		Status:    model.StatusPending,
		Email:     email,
		Phone:     phone,
	}
	if err := history.Append(s.store, o); err != nil {
		return model.Order{}, fmt.Errorf("persist order: %w", err)
	}
	s.emit(eventlog.Event{OrderID: o.ID, Type: eventlog.TypeCreated, Amount: o.Total, Email: o.Email, TS: now.UnixMilli()})
	return o, nil
}

// MarkPaid records a confirmed payment against the order.
func (s *Service) MarkPaid(id string, reference string) (model.Order, bool) {
	now := Now()
	o, ok, err := history.Update(s.store, id, func(o *model.Order) {
		o.Status = model.StatusPaid
		o.Reference = reference
		o.PaidAt = now.UTC().Format(time.RFC3339)
	})
	if err != nil {
		log.Printf("checkout: mark paid %s: %v", id, err)
		return model.Order{}, false
	}
	if ok {
		s.emit(eventlog.Event{OrderID: id, Type: eventlog.TypePaid, Amount: o.Total, Ref: reference, Email: o.Email, TS: now.UnixMilli()})
	}
	return o, ok
}

// MarkFailed records a declined or abandoned payment against the order.
func (s *Service) MarkFailed(id string) (model.Order, bool) {
	now := Now()
	o, ok, err := history.Update(s.store, id, func(o *model.Order) {
		o.Status = model.StatusFailed
	})
	if err != nil {
		log.Printf("checkout: mark failed %s: %v", id, err)
		return model.Order{}, false
	}
	if ok {
		s.emit(eventlog.Event{OrderID: id, Type: eventlog.TypeFailed, Amount: o.Total, Email: o.Email, TS: now.UnixMilli()})
	}
	return o, ok
}

func (s *Service) emit(e eventlog.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Append(e); err != nil {
		log.Printf("checkout: event %s for %s: %v", e.Type, e.OrderID, err)
	}
}

// Total sums price x qty across items, rounded to cents for display.
func Total(items []model.OrderItem) float64 {
	sum := decimal.Zero
	for _, it := range items {
		qty := it.Qty
		if qty < 1 {
			qty = 1
		}
		price := it.Price
		if price < 0 {
			price = 0
		}
		sum = sum.Add(decimal.NewFromFloat(price).Mul(decimal.NewFromInt(int64(qty))))
	}
	f, _ := sum.Round(2).Float64()
	return f
}

func newToken(now time.Time) string {
	return fmt.Sprintf("ORD-%d-%s", now.UnixMilli(), strings.Split(uuid.NewString(), "-")[0])
}
