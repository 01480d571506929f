// Package envelope implements the hardware-bound envelope cryptosystem:
// key derivation from a token challenge-response and authenticated
// encryption of a single secret. An Envelope is self-contained: together
// with the physical token it holds everything needed to recover its
// plaintext, and nothing that reveals it without the token.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"time"
)

// NonceLength is the size of per-encryption GCM nonces.
const NonceLength = 12

// TagLength is the size of the GCM authentication tag.
const TagLength = 16

// ErrAuthenticationFailed indicates that tag verification failed during
// decryption. Wrong key, tampered ciphertext, wrong nonce and wrong tag all
// produce this same error; the codec does not distinguish causes.
var ErrAuthenticationFailed = errors.New("authentication failed")

// Envelope is the persisted unit of protection for one secret.
// It is created during enrollment and immutable afterwards.
type Envelope struct {
	// Context distinguishes multiple secrets protected by the same
	// device. May be empty.
	Context string

	// Salt is 32 random bytes, fresh per envelope. It feeds both the
	// token challenge and the HKDF salt.
	Salt []byte

	// Nonce is 12 random bytes, fresh per encryption.
	Nonce []byte

	// Ciphertext has the same length as the plaintext.
	Ciphertext []byte

	// Tag is the 16-byte GCM authentication tag.
	Tag []byte

	// CreatedAt records when the envelope was enrolled. Metadata only;
	// it is not bound into the authentication tag.
	CreatedAt time.Time
}

// NewSalt returns a fresh random salt for one envelope.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	return salt, nil
}

// Seal encrypts plaintext under key with AES-128-GCM and a fresh random
// nonce. The returned ciphertext has the same length as the plaintext; the
// tag is returned separately.
func Seal(key, plaintext []byte) (nonce, ciphertext, tag []byte, err error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, nil, nil, err
	}

	nonce = make([]byte, NonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, nil, fmt.Errorf("generating nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, plaintext, nil)
	ciphertext = sealed[:len(sealed)-TagLength]
	tag = sealed[len(sealed)-TagLength:]
	return nonce, ciphertext, tag, nil
}

// Open verifies the tag and decrypts the ciphertext. It fails closed: any
// mismatch or malformed input yields ErrAuthenticationFailed and no
// plaintext bytes are ever released.
func Open(key, nonce, ciphertext, tag []byte) ([]byte, error) {
	if len(nonce) != NonceLength || len(tag) != TagLength {
		return nil, ErrAuthenticationFailed
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

// Open decrypts the envelope's ciphertext with the given key.
func (e *Envelope) Open(key []byte) ([]byte, error) {
	return Open(key, e.Nonce, e.Ciphertext, e.Tag)
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return aead, nil
}
