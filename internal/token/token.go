package token

import (
	"context"
	"errors"
)

// Response is the fixed length of a YubiKey HMAC-SHA1 challenge-response.
const ResponseLength = 20

var (
	// ErrNoToken indicates that no YubiKey is currently connected.
	// The user can recover by inserting the key and re-running the command.
	ErrNoToken = errors.New("no YubiKey present")

	// ErrTokenFailed indicates that a YubiKey is present but the operation
	// was refused, timed out (e.g. a missed touch), or returned malformed
	// output.
	ErrTokenFailed = errors.New("YubiKey operation failed")
)

// Provider is the challenge-response capability of a hardware token.
// Implementations may block while waiting for a physical touch; all calls
// must honor context cancellation.
type Provider interface {
	// Serial returns the stable serial number of the connected token.
	// Returns ErrNoToken if no token is present.
	Serial(ctx context.Context) (string, error)

	// ChallengeResponse sends challenge to the given slot (1 or 2) and
	// returns the token's fixed-length response. Returns ErrNoToken if no
	// token is present and ErrTokenFailed for any other failure, including
	// a denied or timed-out touch.
	ChallengeResponse(ctx context.Context, slot int, challenge []byte) ([]byte, error)
}
