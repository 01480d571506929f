package envelope

import (
	"bytes"
	"errors"
	"testing"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, KeyLength)
}

func TestSealOpen_RoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		plaintext string
	}{
		{name: "typical secret", plaintext: "correct horse battery staple"},
		{name: "empty plaintext", plaintext: ""},
		{name: "single byte", plaintext: "x"},
		{name: "binary content", plaintext: "\x00\xff\x10\x80"},
		{name: "long secret", plaintext: string(bytes.Repeat([]byte("secret"), 1000))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := testKey()
			nonce, ciphertext, tag, err := Seal(key, []byte(tt.plaintext))
			if err != nil {
				t.Fatalf("Seal() unexpected error: %v", err)
			}

			if len(nonce) != NonceLength {
				t.Errorf("nonce length = %d, want %d", len(nonce), NonceLength)
			}
			if len(tag) != TagLength {
				t.Errorf("tag length = %d, want %d", len(tag), TagLength)
			}
			if len(ciphertext) != len(tt.plaintext) {
				t.Errorf("ciphertext length = %d, want %d", len(ciphertext), len(tt.plaintext))
			}

			got, err := Open(key, nonce, ciphertext, tag)
			if err != nil {
				t.Fatalf("Open() unexpected error: %v", err)
			}
			if string(got) != tt.plaintext {
				t.Errorf("Open() = %q, want %q", got, tt.plaintext)
			}
		})
	}
}

func TestOpen_TamperSensitivity(t *testing.T) {
	key := testKey()
	plaintext := []byte("correct horse battery staple")

	nonce, ciphertext, tag, err := Seal(key, plaintext)
	if err != nil {
		t.Fatalf("Seal() unexpected error: %v", err)
	}

	flip := func(b []byte, i int) []byte {
		out := make([]byte, len(b))
		copy(out, b)
		out[i] ^= 0x01
		return out
	}

	// Flipping any single bit in any component must fail authentication.
	for i := range ciphertext {
		if _, err := Open(key, nonce, flip(ciphertext, i), tag); !errors.Is(err, ErrAuthenticationFailed) {
			t.Fatalf("Open() with flipped ciphertext byte %d: error = %v, want %v", i, err, ErrAuthenticationFailed)
		}
	}
	for i := range tag {
		if _, err := Open(key, nonce, ciphertext, flip(tag, i)); !errors.Is(err, ErrAuthenticationFailed) {
			t.Fatalf("Open() with flipped tag byte %d: error = %v, want %v", i, err, ErrAuthenticationFailed)
		}
	}
	for i := range nonce {
		if _, err := Open(key, flip(nonce, i), ciphertext, tag); !errors.Is(err, ErrAuthenticationFailed) {
			t.Fatalf("Open() with flipped nonce byte %d: error = %v, want %v", i, err, ErrAuthenticationFailed)
		}
	}

	wrongKey := flip(key, 0)
	if _, err := Open(wrongKey, nonce, ciphertext, tag); !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("Open() with wrong key: error = %v, want %v", err, ErrAuthenticationFailed)
	}
}

func TestOpen_MalformedInput(t *testing.T) {
	key := testKey()
	nonce, ciphertext, tag, err := Seal(key, []byte("secret"))
	if err != nil {
		t.Fatalf("Seal() unexpected error: %v", err)
	}

	tests := []struct {
		name  string
		key   []byte
		nonce []byte
		ct    []byte
		tag   []byte
	}{
		{name: "truncated nonce", key: key, nonce: nonce[:NonceLength-1], ct: ciphertext, tag: tag},
		{name: "truncated tag", key: key, nonce: nonce, ct: ciphertext, tag: tag[:TagLength-1]},
		{name: "truncated ciphertext", key: key, nonce: nonce, ct: ciphertext[:len(ciphertext)-1], tag: tag},
		{name: "empty everything", key: key, nonce: nil, ct: nil, tag: nil},
		{name: "bad key length", key: key[:5], nonce: nonce, ct: ciphertext, tag: tag},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Open(tt.key, tt.nonce, tt.ct, tt.tag)
			if !errors.Is(err, ErrAuthenticationFailed) {
				t.Errorf("Open() error = %v, want %v", err, ErrAuthenticationFailed)
			}
			if got != nil {
				t.Errorf("Open() released plaintext %q on failure", got)
			}
		})
	}
}

func TestSeal_NonceUniqueness(t *testing.T) {
	key := testKey()
	seen := make(map[string]bool)

	for i := 0; i < 1000; i++ {
		nonce, _, _, err := Seal(key, []byte("secret"))
		if err != nil {
			t.Fatalf("Seal() unexpected error: %v", err)
		}
		if seen[string(nonce)] {
			t.Fatalf("nonce reused after %d encryptions", i)
		}
		seen[string(nonce)] = true
	}
}

func TestNewSalt_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)

	for i := 0; i < 1000; i++ {
		salt, err := NewSalt()
		if err != nil {
			t.Fatalf("NewSalt() unexpected error: %v", err)
		}
		if len(salt) != SaltLength {
			t.Fatalf("salt length = %d, want %d", len(salt), SaltLength)
		}
		if seen[string(salt)] {
			t.Fatalf("salt reused after %d generations", i)
		}
		seen[string(salt)] = true
	}
}
