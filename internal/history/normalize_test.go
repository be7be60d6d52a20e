package history

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"duka/internal/archive"
	"duka/internal/store"
)

var displayPattern = regexp.MustCompile(`^\d{2}/\d{2}/\d{4}, \d{2}:\d{2}:\d{2}$`)

func TestNormalize_LegacyKeyScenario(t *testing.T) {
	st := store.NewMemoryStore()
	_ = st.Set("mm_orders", []byte(`[{"id":"T1700000000000","total":500,"items":[{"name":"Bulb","price":500,"qty":1}]}]`))

	res := NewNormalizer(st).Normalize()
	if len(res.Orders) != 1 {
		t.Fatalf("want 1 order, got %d", len(res.Orders))
	}
	o := res.Orders[0]
	want := DisplayTime(time.UnixMilli(1700000000000))
	if o.CreatedAt != want {
		t.Fatalf("createdAt=%q want=%q", o.CreatedAt, want)
	}
	if len(o.Items) != 1 || o.Items[0].Name != "Bulb" || o.Items[0].Price != 500 || o.Items[0].Qty != 1 {
		t.Fatalf("items changed: %+v", o.Items)
	}
	if !res.Swept {
		t.Fatalf("first run should sweep legacy keys")
	}

	// canonical key now holds the collection; the legacy key is gone
	raw, ok, _ := st.Get(CanonicalKey)
	if !ok {
		t.Fatalf("canonical key missing after normalize")
	}
	var env struct {
		SchemaVersion int `json:"schemaVersion"`
		Orders        []struct {
			ID string `json:"id"`
		} `json:"orders"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("canonical value not an envelope: %v", err)
	}
	if env.SchemaVersion != SchemaVersion || len(env.Orders) != 1 || env.Orders[0].ID != "T1700000000000" {
		t.Fatalf("unexpected canonical envelope: %+v", env)
	}
	if _, ok, _ := st.Get("mm_orders"); ok {
		t.Fatalf("mm_orders should be cleared")
	}
}

func TestNormalize_UnionAcrossLegacyKeys(t *testing.T) {
	st := store.NewMemoryStore()
	_ = st.Set("mm_orders", []byte(`[{"id":"T1700000000000","total":100}]`))
	_ = st.Set("orderHistory", []byte(`[{"id":"T1710000000000","total":200}]`))

	res := NewNormalizer(st).Normalize()
	if len(res.Orders) != 2 {
		t.Fatalf("want union of 2 orders, got %d", len(res.Orders))
	}
	for _, key := range LegacyKeys {
		if _, ok, _ := st.Get(key); ok {
			t.Fatalf("legacy key %s should be absent", key)
		}
	}
}

func TestNormalize_MalformedLegacyValue(t *testing.T) {
	st := store.NewMemoryStore()
	_ = st.Set("mm_orders", []byte(`{not json`))
	_ = st.Set("my_orders", []byte(`[{"id":"T1700000000000"}]`))

	res := NewNormalizer(st).Normalize()
	if len(res.Orders) != 1 {
		t.Fatalf("malformed key should contribute nothing; got %d orders", len(res.Orders))
	}
}

func TestNormalize_RecordsWithoutIDDropped(t *testing.T) {
	st := store.NewMemoryStore()
	_ = st.Set("orders", []byte(`[{"id":"T1700000000000"},{"total":99},{"id":123}]`))

	res := NewNormalizer(st).Normalize()
	if len(res.Orders) != 1 {
		t.Fatalf("want 1 kept order, got %d", len(res.Orders))
	}
	if res.Dropped != 2 {
		t.Fatalf("want 2 dropped, got %d", res.Dropped)
	}
}

func TestNormalize_MissingCreatedAtAlwaysFilled(t *testing.T) {
	fixNow(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	st := store.NewMemoryStore()
	_ = st.Set("orders", []byte(`[{"id":"NODIGITS"},{"id":"T1700000000000"},{"id":"X","paidAt":"2024-02-02T10:00:00Z"}]`))

	res := NewNormalizer(st).Normalize()
	for _, o := range res.Orders {
		if o.CreatedAt == "" || !displayPattern.MatchString(o.CreatedAt) {
			t.Fatalf("order %s createdAt=%q does not match display pattern", o.ID, o.CreatedAt)
		}
		if o.Items == nil {
			t.Fatalf("order %s items must be an array, never absent", o.ID)
		}
	}
}

func TestNormalize_Ordering(t *testing.T) {
	fixNow(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	st := store.NewMemoryStore()
	// A plausible newer, B plausible older, C implausible but numerically
	// far in the future
	_ = st.Set("orders", []byte(`[
		{"id":"B-1700000000000","total":2},
		{"id":"C","createdAt":"9999-01-01T00:00:00Z","total":3},
		{"id":"A-1760000000000","total":1}
	]`))

	res := NewNormalizer(st).Normalize()
	if len(res.Orders) != 3 {
		t.Fatalf("want 3 orders, got %d", len(res.Orders))
	}
	got := []string{res.Orders[0].ID, res.Orders[1].ID, res.Orders[2].ID}
	if got[0] != "A-1760000000000" || got[1] != "B-1700000000000" || got[2] != "C" {
		t.Fatalf("want [A,B,C], got %v", got)
	}
}

func TestNormalize_OrderingFromISOCreatedAt(t *testing.T) {
	fixNow(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	st := store.NewMemoryStore()
	// X's timestamp only resolves from its ISO createdAt (Feb 2024); Y's
	// from the id epoch (Nov 2023). X is newer and must sort first even
	// though its createdAt is rewritten to the display form.
	_ = st.Set("mm_orders", []byte(`[
		{"id":"X","createdAt":"2024-02-02T10:00:00Z","total":1},
		{"id":"Y1700000000000","total":2}
	]`))

	n := NewNormalizer(st)
	res := n.Normalize()
	if len(res.Orders) != 2 {
		t.Fatalf("want 2 orders, got %d", len(res.Orders))
	}
	if res.Orders[0].ID != "X" || res.Orders[1].ID != "Y1700000000000" {
		t.Fatalf("want [X,Y], got [%s,%s]", res.Orders[0].ID, res.Orders[1].ID)
	}

	// the order must hold on a re-run, after createdAt became a display
	// string
	res = n.Normalize()
	if res.Orders[0].ID != "X" || res.Orders[1].ID != "Y1700000000000" {
		t.Fatalf("ordering drifted on re-run: [%s,%s]", res.Orders[0].ID, res.Orders[1].ID)
	}
}

func TestNormalize_DedupeLastSeenWins(t *testing.T) {
	st := store.NewMemoryStore()
	_ = st.Set(CanonicalKey, []byte(`[{"id":"T1700000000000","total":100}]`))
	_ = st.Set("mm_orders", []byte(`[{"id":"T1700000000000","total":250}]`))

	res := NewNormalizer(st).Normalize()
	if len(res.Orders) != 1 {
		t.Fatalf("duplicate ids should collapse; got %d orders", len(res.Orders))
	}
	if res.Orders[0].Total != 250 {
		t.Fatalf("record seen last should win; total=%v", res.Orders[0].Total)
	}
	if res.Deduped != 1 {
		t.Fatalf("want Deduped=1, got %d", res.Deduped)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	st := store.NewMemoryStore()
	_ = st.Set("mm_orders", []byte(`[
		{"id":"T1700000000000","total":500},
		{"id":"NODIGITS","createdAt":"Nov 14, 2023"},
		{"id":"Q","paidAt":"2024-02-02T10:00:00Z"}
	]`))

	first := NewNormalizer(st).Normalize()
	raw1, ok, _ := st.Get(CanonicalKey)
	if !ok {
		t.Fatalf("canonical missing after first run")
	}

	// advance the clock; a second run must not drift any createdAt
	fixNow(t, Now().Add(48*time.Hour))
	second := NewNormalizer(st).Normalize()
	raw2, _, _ := st.Get(CanonicalKey)

	if !bytes.Equal(raw1, raw2) {
		t.Fatalf("normalize is not idempotent:\n%s\nvs\n%s", raw1, raw2)
	}
	if len(first.Orders) != len(second.Orders) {
		t.Fatalf("order count drifted: %d vs %d", len(first.Orders), len(second.Orders))
	}
	if second.Swept {
		t.Fatalf("second run must not sweep again")
	}
}

func TestNormalize_SweepRunsOnce(t *testing.T) {
	st := store.NewMemoryStore()
	_ = st.Set("mm_orders", []byte(`[{"id":"T1700000000000"}]`))

	n := NewNormalizer(st)
	n.Normalize()

	// a stale writer re-creates a legacy key after migration; it is
	// ignored until the schema version is bumped
	_ = st.Set("mm_orders", []byte(`[{"id":"LATE"}]`))
	res := n.Normalize()
	if res.Swept {
		t.Fatalf("sweep should be behind the schema-version flag")
	}
	if len(res.Orders) != 1 || res.Orders[0].ID != "T1700000000000" {
		t.Fatalf("post-migration legacy writes must not leak in: %+v", res.Orders)
	}
}

func TestNormalize_ArchivesBeforeSweep(t *testing.T) {
	dir := t.TempDir()
	st := store.NewMemoryStore()
	_ = st.Set("mm_orders", []byte(`[{"id":"T1700000000000","total":500}]`))

	NewNormalizer(st).WithArchiver(archive.NewFilesystemArchiver(dir)).Normalize()

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("want one archive directory, got %v err=%v", entries, err)
	}
	b, err := os.ReadFile(filepath.Join(dir, entries[0].Name(), "orders.json"))
	if err != nil {
		t.Fatalf("archive file missing: %v", err)
	}
	if !bytes.Contains(b, []byte("T1700000000000")) {
		t.Fatalf("archive does not contain the raw record: %s", b)
	}
}

func TestNormalize_WriteFailureStillReturnsResult(t *testing.T) {
	st := &failingStore{Store: store.NewMemoryStore()}
	_ = st.Store.Set("mm_orders", []byte(`[{"id":"T1700000000000"}]`))

	res := NewNormalizer(st).Normalize()
	if len(res.Orders) != 1 {
		t.Fatalf("in-memory result must survive a write failure: %+v", res)
	}
}

// failingStore reads fine but rejects every write.
type failingStore struct {
	Store store.Store
}

func (f *failingStore) Get(key string) ([]byte, bool, error) { return f.Store.Get(key) }
func (f *failingStore) Set(key string, val []byte) error     { return errQuota }
func (f *failingStore) Delete(key string) error              { return errQuota }
func (f *failingStore) Close() error                         { return nil }

var errQuota = os.ErrPermission
