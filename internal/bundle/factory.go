package bundle

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/clwhipp/yubikey-utils/internal/config"
)

// NewPersistenceFromConfig creates a Persistence based on the store config type.
// The returned closer releases backend resources; it is a no-op for
// backends without any.
func NewPersistenceFromConfig(ctx context.Context, cfg config.StoreConfig) (Persistence, func() error, error) {
	nopClose := func() error { return nil }

	switch cfg.Type {
	case "file", "":
		if cfg.Path == "" {
			return nil, nil, fmt.Errorf("file store requires path to be set")
		}
		return NewFileStore(cfg.Path), nopClose, nil

	case "memory":
		return NewMemoryStore(), nopClose, nil

	case "sqlite":
		if cfg.DBPath == "" {
			return nil, nil, fmt.Errorf("sqlite store requires db_path to be set")
		}
		s, err := NewSQLiteStore(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case "s3":
		secretKey, err := readS3SecretKey(cfg.S3SecretKeyPath)
		if err != nil {
			return nil, nil, err
		}
		s, err := NewS3Store(ctx, S3Options{
			Bucket:          cfg.S3Bucket,
			Key:             cfg.S3Key,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: secretKey,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, nopClose, nil

	default:
		return nil, nil, fmt.Errorf("unknown store type: %q", cfg.Type)
	}
}

// readS3SecretKey loads the secret access key from the configured file.
// The key lives in its own file rather than the config so the config stays
// shareable.
func readS3SecretKey(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading s3 secret key file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
