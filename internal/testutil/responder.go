package testutil

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"

	"github.com/clwhipp/yubikey-utils/internal/token"
)

// Responder is a scripted token.Provider for tests. It answers challenges
// deterministically without hardware and records every challenge it sees.
type Responder struct {
	// SerialValue is returned by Serial.
	SerialValue string

	// SerialErr, when set, is returned by Serial instead.
	SerialErr error

	// ResponseFn computes the response for a challenge. Defaults to
	// HMAC-SHA1 keyed with Secret when nil.
	ResponseFn func(slot int, challenge []byte) []byte

	// ResponseErr, when set, is returned by ChallengeResponse instead.
	ResponseErr error

	// Secret keys the default HMAC-SHA1 response, mirroring a YubiKey
	// slot configured for HMAC-SHA1 challenge-response.
	Secret []byte

	// Challenges records every challenge passed to ChallengeResponse.
	Challenges [][]byte
}

var _ token.Provider = (*Responder)(nil)

// NewResponder creates a scripted responder with the given serial and
// 20-byte slot secret.
func NewResponder(serial string, secret []byte) *Responder {
	return &Responder{SerialValue: serial, Secret: secret}
}

func (r *Responder) Serial(ctx context.Context) (string, error) {
	if r.SerialErr != nil {
		return "", r.SerialErr
	}
	return r.SerialValue, nil
}

func (r *Responder) ChallengeResponse(ctx context.Context, slot int, challenge []byte) ([]byte, error) {
	if r.ResponseErr != nil {
		return nil, r.ResponseErr
	}
	c := make([]byte, len(challenge))
	copy(c, challenge)
	r.Challenges = append(r.Challenges, c)

	if r.ResponseFn != nil {
		return r.ResponseFn(slot, challenge), nil
	}
	mac := hmac.New(sha1.New, r.Secret)
	mac.Write(challenge)
	return mac.Sum(nil), nil
}
