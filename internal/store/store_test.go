package store

import (
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewMemory()
	if err != nil {
		t.Fatalf("new memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// ============================================================
// Store initialization
// ============================================================

func TestNewMemory(t *testing.T) {
	s, err := NewMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	// Should have run migration v1
	var version int
	s.db.QueryRow("PRAGMA user_version").Scan(&version)
	if version != 1 {
		t.Fatalf("expected user_version 1, got %d", version)
	}
}

func TestNewWithPath(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/sub/blockr.db"
	s, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set(KeyGuestID, "guest_1_abc"); err != nil {
		t.Fatal(err)
	}
	s.Close()

	// Reopen: data survives and migration is skipped.
	s2, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	v, ok, err := s2.Get(KeyGuestID)
	if err != nil || !ok || v != "guest_1_abc" {
		t.Fatalf("expected persisted guest id, got %q ok=%v err=%v", v, ok, err)
	}
}

func TestDefaultDBPath(t *testing.T) {
	path, err := DefaultDBPath()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(path, "blockr.db") {
		t.Fatalf("unexpected path %q", path)
	}
}

func TestMigrationIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.migrate(); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}
}

// ============================================================
// Key-value access
// ============================================================

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	v, ok, err := s.Get("blockr_nope")
	if err != nil {
		t.Fatal(err)
	}
	if ok || v != "" {
		t.Fatalf("expected miss, got %q", v)
	}
}

func TestSetOverwrites(t *testing.T) {
	s := newTestStore(t)
	if err := s.Set("k", "one"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("k", "two"); err != nil {
		t.Fatal(err)
	}
	v, _, _ := s.Get("k")
	if v != "two" {
		t.Fatalf("expected 'two', got %q", v)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	s := newTestStore(t)
	s.Set("k", "v")
	if err := s.Delete("k"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("k"); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
	if _, ok, _ := s.Get("k"); ok {
		t.Fatal("key should be gone")
	}
}

func TestKeysByPrefix(t *testing.T) {
	s := newTestStore(t)
	s.Set(KeyGuestBlocks, "[]")
	s.Set(KeyGuestStats, "[]")
	s.Set(KeyOfflineBlocks, "{}")
	s.Set("blockrXguest_fake", "x")

	keys, err := s.Keys(GuestPrefix)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 guest keys, got %v", keys)
	}
	if keys[0] != KeyGuestBlocks || keys[1] != KeyGuestStats {
		t.Fatalf("expected sorted guest keys, got %v", keys)
	}
}

func TestKeysEscapesWildcards(t *testing.T) {
	s := newTestStore(t)
	s.Set("a_b", "1")
	s.Set("axb", "2")

	keys, err := s.Keys("a_")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != "a_b" {
		t.Fatalf("underscore should match literally, got %v", keys)
	}
}

// ============================================================
// JSON helpers
// ============================================================

func TestJSONRoundTrip(t *testing.T) {
	s := newTestStore(t)
	type rec struct {
		ID    string `json:"id"`
		Count int    `json:"count"`
	}
	in := []rec{{"a", 1}, {"b", 2}}
	if err := s.SetJSON("recs", in); err != nil {
		t.Fatal(err)
	}

	var out []rec
	ok, err := s.GetJSON("recs", &out)
	if err != nil || !ok {
		t.Fatalf("GetJSON: ok=%v err=%v", ok, err)
	}
	if len(out) != 2 || out[1].ID != "b" || out[1].Count != 2 {
		t.Fatalf("unexpected decode: %+v", out)
	}
}

func TestGetJSONCorrupt(t *testing.T) {
	s := newTestStore(t)
	s.Set("bad", "{not json")

	var v map[string]any
	ok, err := s.GetJSON("bad", &v)
	if err == nil {
		t.Fatal("expected decode error")
	}
	if ok {
		t.Fatal("corrupt value should not report ok")
	}
}

func TestGetJSONMissing(t *testing.T) {
	s := newTestStore(t)
	var v []int
	ok, err := s.GetJSON("absent", &v)
	if err != nil || ok {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}
}

func TestSetJSONUnencodable(t *testing.T) {
	s := newTestStore(t)
	if err := s.SetJSON("ch", make(chan int)); err == nil {
		t.Fatal("expected encode error")
	}
}

func TestKeyLastRollover(t *testing.T) {
	if got := KeyLastRollover("u1"); got != "blockr_last_rollover_u1" {
		t.Fatalf("unexpected key %q", got)
	}
}
