package model

import (
	"encoding/json"
	"testing"
)

func TestOrderItem_LenientDecoding(t *testing.T) {
	raw := `[
		{"id":"bulb","name":"Bulb","price":500,"qty":2},
		{"name":"Socket","price":"250","quantity":3},
		{"name":"Switch","price":"n/a"},
		{"name":"Cable","price":-10,"qty":0}
	]`
	var items []OrderItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(items) != 4 {
		t.Fatalf("want 4 items, got %d", len(items))
	}
	if items[0].Price != 500 || items[0].Qty != 2 {
		t.Fatalf("plain item mangled: %+v", items[0])
	}
	if items[1].Price != 250 || items[1].Qty != 3 {
		t.Fatalf("string price / quantity alias not handled: %+v", items[1])
	}
	if items[2].Price != 0 || items[2].Qty != 1 {
		t.Fatalf("unparsable price / missing qty not defaulted: %+v", items[2])
	}
	if items[3].Price != 0 || items[3].Qty != 1 {
		t.Fatalf("negative price / zero qty not coerced: %+v", items[3])
	}
}

func TestOrder_EffectiveStatus(t *testing.T) {
	cases := []struct {
		name string
		o    Order
		want Status
	}{
		{"explicit status wins over reference", Order{Status: StatusFailed, Reference: "REF1"}, StatusFailed},
		{"reference heuristic for legacy records", Order{Reference: "REF1"}, StatusPaid},
		{"bare record is pending", Order{}, StatusPending},
		{"refunded stays refunded", Order{Status: StatusRefunded}, StatusRefunded},
	}
	for _, tc := range cases {
		if got := tc.o.EffectiveStatus(); got != tc.want {
			t.Fatalf("%s: want %s got %s", tc.name, tc.want, got)
		}
	}
}
