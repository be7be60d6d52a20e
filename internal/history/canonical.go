package history

import (
	"bytes"
	"encoding/json"

	"duka/internal/model"
	"duka/internal/store"
)

const (
	// CanonicalKey is the single authoritative storage location for the
	// order collection.
	CanonicalKey = "duka_orders"

	// SchemaVersion tags the canonical envelope. Bumping it forces the
	// legacy-key sweep to run again on the next normalization.
	SchemaVersion = 2
)

// LegacyKeys are storage locations used by older app versions, swept into
// the canonical key once and then cleared. Scan order matters: on duplicate
// ids the record seen last wins.
var LegacyKeys = []string{"mm_orders", "my_orders", "orders", "orderHistory"}

// envelope is the canonical value shape. Legacy keys hold bare arrays; a
// bare array under the canonical key is read as schema version 0.
type envelope struct {
	SchemaVersion int           `json:"schemaVersion"`
	MigratedAt    string        `json:"migratedAt,omitempty"`
	Orders        []model.Order `json:"orders"`
}

type rawEnvelope struct {
	SchemaVersion int               `json:"schemaVersion"`
	MigratedAt    string            `json:"migratedAt"`
	Orders        []json.RawMessage `json:"orders"`
}

// decodeRecords decodes records one by one so a single malformed entry does
// not discard its siblings. Entries without a string id are dropped.
func decodeRecords(raws []json.RawMessage) (orders []model.Order, dropped int) {
	for _, r := range raws {
		var o model.Order
		if err := json.Unmarshal(r, &o); err != nil || o.ID == "" {
			dropped++
			continue
		}
		orders = append(orders, o)
	}
	return orders, dropped
}

// decodeValue reads a stored value as either a versioned envelope or a bare
// record array. Malformed content yields an empty envelope, never an error.
func decodeValue(raw []byte) (envelope, int) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return envelope{}, 0
	}
	if raw[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return envelope{}, 0
		}
		orders, dropped := decodeRecords(items)
		return envelope{Orders: orders}, dropped
	}
	var re rawEnvelope
	if err := json.Unmarshal(raw, &re); err != nil {
		return envelope{}, 0
	}
	orders, dropped := decodeRecords(re.Orders)
	return envelope{SchemaVersion: re.SchemaVersion, MigratedAt: re.MigratedAt, Orders: orders}, dropped
}

func loadEnvelope(st store.Store) (envelope, int) {
	raw, ok, err := st.Get(CanonicalKey)
	if err != nil || !ok {
		return envelope{}, 0
	}
	return decodeValue(raw)
}

func saveEnvelope(st store.Store, env envelope) error {
	if env.Orders == nil {
		env.Orders = []model.Order{}
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return st.Set(CanonicalKey, b)
}

// Append adds a freshly created order to the canonical collection. The
// checkout flow calls this before redirecting to a payment provider.
func Append(st store.Store, o model.Order) error {
	env, _ := loadEnvelope(st)
	env.Orders = append(env.Orders, o)
	return saveEnvelope(st, env)
}

// Update mutates the order with the given id in place and persists the
// collection. The payment status page uses this to flip pending orders to
// paid or failed once a verification response is known.
func Update(st store.Store, id string, fn func(*model.Order)) (model.Order, bool, error) {
	env, _ := loadEnvelope(st)
	for i := range env.Orders {
		if env.Orders[i].ID != id {
			continue
		}
		fn(&env.Orders[i])
		if err := saveEnvelope(st, env); err != nil {
			return model.Order{}, false, err
		}
		return env.Orders[i], true, nil
	}
	return model.Order{}, false, nil
}

// Find returns the order with the given id from the canonical collection.
func Find(st store.Store, id string) (model.Order, bool) {
	env, _ := loadEnvelope(st)
	for _, o := range env.Orders {
		if o.ID == id {
			return o, true
		}
	}
	return model.Order{}, false
}
