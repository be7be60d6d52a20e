package history

import (
	"encoding/json"
	"log"
	"sort"
	"time"

	"duka/internal/archive"
	"duka/internal/model"
	"duka/internal/store"
)

// Normalizer produces one canonical, time-ordered, display-ready order
// collection from whatever raw records exist, tolerating years of schema
// drift across the app's history. It is a pure, idempotent, synchronous
// transform: nothing in it surfaces an error to the caller.
type Normalizer struct {
	store    store.Store
	archiver archive.Archiver
}

func NewNormalizer(st store.Store) *Normalizer {
	return &Normalizer{store: st}
}

// WithArchiver makes the normalizer back up the raw record union before the
// one-time legacy sweep.
func (n *Normalizer) WithArchiver(a archive.Archiver) *Normalizer {
	n.archiver = a
	return n
}

type Result struct {
	Orders  []model.Order
	Swept   bool // legacy keys were migrated this run
	Dropped int  // entries discarded for missing id or malformed content
	Deduped int  // duplicate ids collapsed
}

// Normalize reads the canonical key (and, until the one-time sweep has run,
// every legacy key), rewrites each order's createdAt display field,
// resequences the collection and writes it back. The write-back is best
// effort; the in-memory result is returned even when the store rejects it.
func (n *Normalizer) Normalize() Result {
	env, dropped := loadEnvelope(n.store)
	res := Result{Dropped: dropped}

	records := env.Orders
	sweep := env.SchemaVersion < SchemaVersion
	if sweep {
		for _, key := range LegacyKeys {
			raw, ok, err := n.store.Get(key)
			if err != nil || !ok {
				continue
			}
			legacyEnv, d := decodeValue(raw)
			records = append(records, legacyEnv.Orders...)
			res.Dropped += d
		}
		if n.archiver != nil && len(records) > 0 {
			id := Now().UTC().Format(time.RFC3339)
			if err := n.archiver.Archive(id, records); err != nil {
				log.Printf("history: pre-sweep archive failed: %v", err)
			}
		}
	}

	orders, deduped := dedupe(records)
	res.Deduped = deduped

	// capture sort keys before the display rewrite: an ISO createdAt is
	// gone once it becomes a display string
	keys := make([]int64, len(orders))
	for i := range orders {
		keys[i] = sortKey(orders[i])
		orders[i].CreatedAt = displayString(orders[i])
		if orders[i].Items == nil {
			orders[i].Items = []model.OrderItem{}
		}
	}
	sortOrders(orders, keys)
	res.Orders = orders
	res.Swept = sweep

	migratedAt := env.MigratedAt
	if sweep {
		migratedAt = Now().UTC().Format(time.RFC3339)
	}
	n.writeBack(envelope{SchemaVersion: SchemaVersion, MigratedAt: migratedAt, Orders: orders})
	return res
}

// dedupe collapses records sharing an id; the record seen last in scan
// order wins. Entry positions are irrelevant here, the sort below decides
// final placement.
func dedupe(records []model.Order) ([]model.Order, int) {
	out := make([]model.Order, 0, len(records))
	index := make(map[string]int, len(records))
	deduped := 0
	for _, o := range records {
		if at, ok := index[o.ID]; ok {
			out[at] = o
			deduped++
			continue
		}
		index[o.ID] = len(out)
		out = append(out, o)
	}
	return out, deduped
}

// sortOrders places plausible-dated orders before implausible ones, then
// most recent first within each bucket. keys holds the timestamps resolved
// from the raw records.
func sortOrders(orders []model.Order, keys []int64) {
	sort.Stable(&byRecency{orders: orders, keys: keys})
}

type byRecency struct {
	orders []model.Order
	keys   []int64
}

func (s *byRecency) Len() int { return len(s.orders) }

func (s *byRecency) Swap(i, j int) {
	s.orders[i], s.orders[j] = s.orders[j], s.orders[i]
	s.keys[i], s.keys[j] = s.keys[j], s.keys[i]
}

func (s *byRecency) Less(i, j int) bool {
	pi, pj := Plausible(s.orders[i].CreatedAt), Plausible(s.orders[j].CreatedAt)
	if pi != pj {
		return pi
	}
	return s.keys[i] > s.keys[j]
}

// writeBack persists the canonical envelope and clears every legacy key.
// Store failures are swallowed: the history view still renders the
// in-memory result.
func (n *Normalizer) writeBack(env envelope) {
	b, err := json.Marshal(env)
	if err != nil {
		return
	}
	if err := n.store.Set(CanonicalKey, b); err != nil {
		log.Printf("history: canonical write failed: %v", err)
		return
	}
	for _, key := range LegacyKeys {
		if err := n.store.Delete(key); err != nil {
			log.Printf("history: clear %s failed: %v", key, err)
		}
	}
}
