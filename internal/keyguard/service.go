// Package keyguard orchestrates enrollment and recovery of secrets bound
// to a physical YubiKey. Each exported operation is a single transaction:
// no state spans invocations beyond the persisted bundle store.
package keyguard

import (
	"context"
	"errors"
	"fmt"

	"github.com/clwhipp/yubikey-utils/internal/bundle"
	"github.com/clwhipp/yubikey-utils/internal/envelope"
	"github.com/clwhipp/yubikey-utils/internal/token"
)

var (
	// ErrNotEnrolled indicates no envelope exists for the requested
	// device and context.
	ErrNotEnrolled = errors.New("not enrolled")

	// ErrAlreadyEnrolled indicates the device already protects a secret
	// under the requested context. Duplicate enrollment is rejected;
	// callers pass replace to overwrite deliberately.
	ErrAlreadyEnrolled = errors.New("already enrolled")

	// ErrEmptySecret indicates an empty or cancelled secret input.
	ErrEmptySecret = errors.New("secret is empty")
)

// Service coordinates the token provider, envelope cryptosystem and
// bundle store to perform the user-facing operations.
type Service struct {
	persistence bundle.Persistence
	provider    token.Provider
	slot        int
	logger      Logger
	clock       Clock
}

// NewService creates a Service with the provided dependencies.
func NewService(persistence bundle.Persistence, provider token.Provider, slot int, logger Logger, clock Clock) *Service {
	return &Service{
		persistence: persistence,
		provider:    provider,
		slot:        slot,
		logger:      logger,
		clock:       clock,
	}
}

// Serial returns the serial of the currently connected token.
func (s *Service) Serial(ctx context.Context) (string, error) {
	return s.provider.Serial(ctx)
}

// Enroll protects secret under the connected token and the given context,
// and persists the resulting envelope. Enrolling a (device, context) pair
// that already exists fails with ErrAlreadyEnrolled unless replace is set,
// in which case the existing envelope is replaced. Returns the serial of
// the enrolled device.
func (s *Service) Enroll(ctx context.Context, secretContext string, secret []byte, replace bool) (string, error) {
	serial, err := s.provider.Serial(ctx)
	if err != nil {
		return "", err
	}

	if len(secret) == 0 {
		return "", ErrEmptySecret
	}

	store, err := s.persistence.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("loading store: %w", err)
	}

	exists := store.Contains(serial, secretContext)
	if exists && !replace {
		return "", fmt.Errorf("%w: device %s, context %q", ErrAlreadyEnrolled, serial, secretContext)
	}

	salt, err := envelope.NewSalt()
	if err != nil {
		return "", err
	}

	key, err := envelope.DeriveKey(ctx, s.provider, s.slot, serial, secretContext, salt)
	if err != nil {
		return "", err
	}

	nonce, ciphertext, tag, err := envelope.Seal(key, secret)
	if err != nil {
		return "", err
	}

	env := envelope.Envelope{
		Context:    secretContext,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: ciphertext,
		Tag:        tag,
		CreatedAt:  s.clock.Now().UTC(),
	}

	if exists {
		store.ReplaceContext(serial, secretContext, env)
	} else {
		store.Insert(serial, env)
	}

	if err := s.persistence.Save(ctx, store); err != nil {
		return "", fmt.Errorf("saving store: %w", err)
	}

	s.logger.Info("secret enrolled", "serial", serial, "context", secretContext, "replaced", exists)
	return serial, nil
}

// Recover reconstructs the secret protected by the connected token under
// the given context. Read-only: no persisted state changes. When several
// envelopes match the context (possible in imported stores), the
// most-recently-inserted one is authoritative: it alone is decrypted, and
// its authentication failure is terminal rather than falling back to
// older matches. Returns the plaintext and the device serial.
func (s *Service) Recover(ctx context.Context, secretContext string) ([]byte, string, error) {
	serial, err := s.provider.Serial(ctx)
	if err != nil {
		return nil, "", err
	}

	store, err := s.persistence.Load(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("loading store: %w", err)
	}

	env, ok := store.Lookup(serial, secretContext)
	if !ok {
		return nil, "", fmt.Errorf("%w: device %s, context %q", ErrNotEnrolled, serial, secretContext)
	}

	key, err := envelope.DeriveKey(ctx, s.provider, s.slot, serial, secretContext, env.Salt)
	if err != nil {
		return nil, "", err
	}

	secret, err := env.Open(key)
	if err != nil {
		return nil, "", err
	}

	s.logger.Debug("secret recovered", "serial", serial, "context", secretContext)
	return secret, serial, nil
}

// Remove deletes the entire store entry for the device with the given
// serial. Removal is device-granular: every context enrolled for the
// device goes with it.
func (s *Service) Remove(ctx context.Context, serial string) error {
	store, err := s.persistence.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading store: %w", err)
	}

	if !store.Remove(serial) {
		return fmt.Errorf("%w: device %s", ErrNotEnrolled, serial)
	}

	if err := s.persistence.Save(ctx, store); err != nil {
		return fmt.Errorf("saving store: %w", err)
	}

	s.logger.Info("device removed", "serial", serial)
	return nil
}

// List enumerates registered devices and the contexts they protect.
func (s *Service) List(ctx context.Context) ([]bundle.DeviceInfo, error) {
	store, err := s.persistence.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading store: %w", err)
	}
	return store.Devices(), nil
}
