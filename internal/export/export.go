// Package export moves the bundle store in and out of a
// passphrase-encrypted archive, so registrations can be backed up off the
// machine. The archive holds the store's JSON form inside an age
// scrypt-passphrase encryption layer.
package export

import (
	"context"
	"fmt"
	"io"

	"filippo.io/age"

	"github.com/clwhipp/yubikey-utils/internal/bundle"
)

// Export loads the store from p and writes it to w encrypted with the
// passphrase.
func Export(ctx context.Context, p bundle.Persistence, w io.Writer, passphrase string) error {
	store, err := p.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading store: %w", err)
	}

	data, err := bundle.Marshal(store)
	if err != nil {
		return err
	}

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}

	encWriter, err := age.Encrypt(w, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := encWriter.Write(data); err != nil {
		return fmt.Errorf("encrypting store: %w", err)
	}
	if err := encWriter.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}
	return nil
}

// Import decrypts an archive from r with the passphrase and saves it
// through p. When merge is set, imported envelopes are combined with the
// existing store and existing (device, context) enrollments win;
// otherwise the archive replaces the store wholesale.
func Import(ctx context.Context, p bundle.Persistence, r io.Reader, passphrase string, merge bool) error {
	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt identity: %w", err)
	}

	decReader, err := age.Decrypt(r, identity)
	if err != nil {
		return fmt.Errorf("decrypting archive: %w", err)
	}
	data, err := io.ReadAll(decReader)
	if err != nil {
		return fmt.Errorf("reading decrypted archive: %w", err)
	}

	imported, err := bundle.Unmarshal(data)
	if err != nil {
		return fmt.Errorf("archive contents: %w", err)
	}

	if merge {
		existing, err := p.Load(ctx)
		if err != nil {
			return fmt.Errorf("loading store: %w", err)
		}
		existing.Merge(imported)
		imported = existing
	}

	if err := p.Save(ctx, imported); err != nil {
		return fmt.Errorf("saving store: %w", err)
	}
	return nil
}

// Verify reads an archive fully and checks it decrypts with the
// passphrase, without touching any store.
func Verify(r io.Reader, passphrase string) error {
	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt identity: %w", err)
	}
	decReader, err := age.Decrypt(r, identity)
	if err != nil {
		return fmt.Errorf("decrypting archive: %w", err)
	}
	if _, err := io.Copy(io.Discard, decReader); err != nil {
		return fmt.Errorf("reading archive: %w", err)
	}
	return nil
}
