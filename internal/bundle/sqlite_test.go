package bundle

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/clwhipp/yubikey-utils/internal/envelope"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "bundles.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() unexpected error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_LoadEmpty(t *testing.T) {
	s := newTestSQLiteStore(t)

	store, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if !store.Empty() {
		t.Error("Load() of fresh database is not empty")
	}
}

func TestSQLiteStore_SaveLoadRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)

	store := NewStore()
	want := testEnvelope("vault", 0x07)
	store.Insert("16166389", want)
	store.Insert("16166389", testEnvelope("other", 0x08))

	if err := s.Save(context.Background(), store); err != nil {
		t.Fatalf("Save() unexpected error: %v", err)
	}

	loaded, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}

	got, ok := loaded.Lookup("16166389", "vault")
	if !ok {
		t.Fatal("Lookup() after reload reported not found")
	}
	if !bytes.Equal(got.Salt, want.Salt) ||
		!bytes.Equal(got.Nonce, want.Nonce) ||
		!bytes.Equal(got.Ciphertext, want.Ciphertext) ||
		!bytes.Equal(got.Tag, want.Tag) ||
		!got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("envelope did not round-trip: got %+v, want %+v", got, want)
	}
}

func TestSQLiteStore_PreservesInsertionOrder(t *testing.T) {
	s := newTestSQLiteStore(t)

	store := NewStore()
	store.Insert("16166389", testEnvelope("vault", 0x01))
	store.Insert("16166389", testEnvelope("vault", 0x02))

	if err := s.Save(context.Background(), store); err != nil {
		t.Fatalf("Save() unexpected error: %v", err)
	}
	loaded, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}

	env, _ := loaded.Lookup("16166389", "vault")
	if env.Ciphertext[0] != 0x02 {
		t.Errorf("Lookup() after reload = %x, want the most recently inserted (02)", env.Ciphertext[0])
	}
}

func TestSQLiteStore_SaveReplacesContents(t *testing.T) {
	s := newTestSQLiteStore(t)

	first := NewStore()
	first.Insert("111", testEnvelope("a", 0x01))
	if err := s.Save(context.Background(), first); err != nil {
		t.Fatalf("Save() unexpected error: %v", err)
	}

	second := NewStore()
	second.Insert("222", testEnvelope("b", 0x02))
	if err := s.Save(context.Background(), second); err != nil {
		t.Fatalf("Save() unexpected error: %v", err)
	}

	loaded, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if _, ok := loaded.Lookup("111", "a"); ok {
		t.Error("stale device survived a full save")
	}
	if _, ok := loaded.Lookup("222", "b"); !ok {
		t.Error("saved device missing after reload")
	}
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bundles.db")

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() unexpected error: %v", err)
	}
	store := NewStore()
	store.Insert("16166389", envelope.Envelope{Context: "vault", Salt: []byte{1}, Nonce: []byte{2}, Ciphertext: []byte{3}, Tag: []byte{4}})
	if err := s.Save(context.Background(), store); err != nil {
		t.Fatalf("Save() unexpected error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() unexpected error: %v", err)
	}

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() on existing database: %v", err)
	}
	defer reopened.Close()

	loaded, err := reopened.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if _, ok := loaded.Lookup("16166389", "vault"); !ok {
		t.Error("envelope missing after reopen")
	}
}
