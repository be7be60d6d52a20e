package store

import "testing"

func TestPebbleStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	st, err := NewPebbleStore(dir)
	if err != nil {
		t.Fatalf("pebble open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if _, ok, err := st.Get("missing"); ok || err != nil {
		t.Fatalf("missing key should be (nil,false,nil); ok=%v err=%v", ok, err)
	}

	if err := st.Set("duka_orders", []byte(`{"schemaVersion":2,"orders":[]}`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok, err := st.Get("duka_orders")
	if err != nil || !ok || string(v) != `{"schemaVersion":2,"orders":[]}` {
		t.Fatalf("get after set: v=%q ok=%v err=%v", v, ok, err)
	}

	if err := st.Delete("duka_orders"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := st.Get("duka_orders"); ok {
		t.Fatalf("key should be gone after delete")
	}
}
