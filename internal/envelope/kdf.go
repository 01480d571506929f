package envelope

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/clwhipp/yubikey-utils/internal/token"
)

// domainTag prefixes every challenge so that a slot shared with other
// challenge-response applications produces unrelated responses for us.
var domainTag = []byte("yubikey-utils.v1")

// KeyLength is the size of derived encryption keys (AES-128).
const KeyLength = 16

// SaltLength is the size of per-envelope salts.
const SaltLength = 32

// DeriveKey reconstructs the symmetric key for one envelope. It builds the
// domain-separated challenge from salt, obtains the token's response for
// the given slot, and expands it with HKDF-SHA256 bound to the salt and to
// info = secretContext || serial. The same (salt, context, serial, response)
// always yields the same key; the key lives only in memory.
func DeriveKey(ctx context.Context, p token.Provider, slot int, serial, secretContext string, salt []byte) ([]byte, error) {
	challenge := make([]byte, 0, len(domainTag)+len(salt))
	challenge = append(challenge, domainTag...)
	challenge = append(challenge, salt...)

	response, err := p.ChallengeResponse(ctx, slot, challenge)
	if err != nil {
		return nil, err
	}

	info := append([]byte(secretContext), []byte(serial)...)
	key := make([]byte, KeyLength)
	if _, err := io.ReadFull(hkdf.New(sha256.New, response, salt, info), key); err != nil {
		return nil, fmt.Errorf("expanding key: %w", err)
	}
	return key, nil
}
