package export

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/clwhipp/yubikey-utils/internal/bundle"
	"github.com/clwhipp/yubikey-utils/internal/envelope"
)

func seedStore(t *testing.T, p bundle.Persistence) {
	t.Helper()
	s := bundle.NewStore()
	s.Insert("16166389", envelope.Envelope{
		Context:    "vault",
		Salt:       bytes.Repeat([]byte{0x01}, envelope.SaltLength),
		Nonce:      bytes.Repeat([]byte{0x02}, envelope.NonceLength),
		Ciphertext: []byte("ciphertext"),
		Tag:        bytes.Repeat([]byte{0x03}, envelope.TagLength),
		CreatedAt:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	if err := p.Save(context.Background(), s); err != nil {
		t.Fatalf("seeding store: %v", err)
	}
}

func TestExportImport_RoundTrip(t *testing.T) {
	ctx := context.Background()
	src := bundle.NewMemoryStore()
	seedStore(t, src)

	var archive bytes.Buffer
	if err := Export(ctx, src, &archive, "passphrase"); err != nil {
		t.Fatalf("Export() unexpected error: %v", err)
	}

	// The archive must not leak the store JSON in the clear.
	if bytes.Contains(archive.Bytes(), []byte("16166389")) {
		t.Error("archive contains plaintext store contents")
	}

	dst := bundle.NewMemoryStore()
	if err := Import(ctx, dst, &archive, "passphrase", false); err != nil {
		t.Fatalf("Import() unexpected error: %v", err)
	}

	store, err := dst.Load(ctx)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	env, ok := store.Lookup("16166389", "vault")
	if !ok {
		t.Fatal("imported store missing enrolled device")
	}
	if string(env.Ciphertext) != "ciphertext" {
		t.Errorf("imported ciphertext = %q, want %q", env.Ciphertext, "ciphertext")
	}
}

func TestImport_WrongPassphrase(t *testing.T) {
	ctx := context.Background()
	src := bundle.NewMemoryStore()
	seedStore(t, src)

	var archive bytes.Buffer
	if err := Export(ctx, src, &archive, "passphrase"); err != nil {
		t.Fatalf("Export() unexpected error: %v", err)
	}

	dst := bundle.NewMemoryStore()
	if err := Import(ctx, dst, &archive, "wrong", false); err == nil {
		t.Fatal("Import() with wrong passphrase succeeded")
	}

	// The destination store stays untouched.
	store, err := dst.Load(ctx)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if !store.Empty() {
		t.Error("failed import mutated the destination store")
	}
}

func TestImport_Merge(t *testing.T) {
	ctx := context.Background()
	src := bundle.NewMemoryStore()
	seedStore(t, src)

	var archive bytes.Buffer
	if err := Export(ctx, src, &archive, "passphrase"); err != nil {
		t.Fatalf("Export() unexpected error: %v", err)
	}

	dst := bundle.NewMemoryStore()
	existing := bundle.NewStore()
	existing.Insert("99999999", envelope.Envelope{Context: "", Salt: []byte{9}, Nonce: []byte{9}, Ciphertext: []byte{9}, Tag: []byte{9}})
	if err := dst.Save(ctx, existing); err != nil {
		t.Fatalf("seeding destination: %v", err)
	}

	if err := Import(ctx, dst, &archive, "passphrase", true); err != nil {
		t.Fatalf("Import() unexpected error: %v", err)
	}

	store, err := dst.Load(ctx)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if _, ok := store.Lookup("99999999", ""); !ok {
		t.Error("merge dropped the existing device")
	}
	if _, ok := store.Lookup("16166389", "vault"); !ok {
		t.Error("merge dropped the imported device")
	}
}

func TestVerify(t *testing.T) {
	ctx := context.Background()
	src := bundle.NewMemoryStore()
	seedStore(t, src)

	var archive bytes.Buffer
	if err := Export(ctx, src, &archive, "passphrase"); err != nil {
		t.Fatalf("Export() unexpected error: %v", err)
	}
	data := archive.Bytes()

	if err := Verify(bytes.NewReader(data), "passphrase"); err != nil {
		t.Errorf("Verify() with correct passphrase: %v", err)
	}
	if err := Verify(bytes.NewReader(data), "wrong"); err == nil {
		t.Error("Verify() with wrong passphrase succeeded")
	}
}
