package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/clwhipp/yubikey-utils/internal/bundle"
	"github.com/clwhipp/yubikey-utils/internal/config"
	"github.com/clwhipp/yubikey-utils/internal/export"
	"github.com/clwhipp/yubikey-utils/internal/keyguard"
	"github.com/clwhipp/yubikey-utils/internal/token"
)

// App is the application layer between the CLI front ends and the
// keyguard service. It constructs all dependencies from config and
// manages backend lifecycle on Close.
type App struct {
	cfg        *config.Config
	service    *keyguard.Service
	persist    bundle.Persistence
	storeClose func() error
	logFile    *os.File
}

// NewApp creates a fully wired App from the given config.
// operation identifies the CLI command being run (e.g. "Enroll", "Recover").
// The caller must call Close when done.
func NewApp(ctx context.Context, cfg *config.Config, operation string) (*App, error) {
	persist, storeClose, err := bundle.NewPersistenceFromConfig(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("creating bundle store: %w", err)
	}

	provider := token.NewYubiKeyProvider(
		token.WithTimeout(time.Duration(cfg.Token.TimeoutSeconds)*time.Second),
		token.WithToolPaths(cfg.Token.YkinfoPath, cfg.Token.YkchalrespPath),
	)

	opID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		storeClose()
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger = logger.With("operation", operation)

	slot := cfg.Token.Slot
	if slot == 0 {
		slot = 2
	}

	svc := keyguard.NewService(persist, provider, slot, &slogAdapter{l: logger}, keyguard.RealClock{})

	return &App{
		cfg:        cfg,
		service:    svc,
		persist:    persist,
		storeClose: storeClose,
		logFile:    logFile,
	}, nil
}

// Config returns the loaded configuration.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Serial returns the serial of the currently connected token.
func (a *App) Serial(ctx context.Context) (string, error) {
	return a.service.Serial(ctx)
}

// Enroll protects secret under the connected token and the given context.
// Returns the serial of the enrolled device.
func (a *App) Enroll(ctx context.Context, secretContext string, secret []byte, replace bool) (string, error) {
	return a.service.Enroll(ctx, secretContext, secret, replace)
}

// Recover reconstructs the secret for the connected token and context.
func (a *App) Recover(ctx context.Context, secretContext string) ([]byte, string, error) {
	return a.service.Recover(ctx, secretContext)
}

// Remove deletes the store entry for the device with the given serial.
func (a *App) Remove(ctx context.Context, serial string) error {
	return a.service.Remove(ctx, serial)
}

// List enumerates registered devices and their contexts.
func (a *App) List(ctx context.Context) ([]bundle.DeviceInfo, error) {
	return a.service.List(ctx)
}

// Export writes the store to w encrypted with the passphrase.
func (a *App) Export(ctx context.Context, w io.Writer, passphrase string) error {
	return export.Export(ctx, a.persist, w, passphrase)
}

// Import reads an encrypted archive from r into the store.
func (a *App) Import(ctx context.Context, r io.Reader, passphrase string, merge bool) error {
	return export.Import(ctx, a.persist, r, passphrase, merge)
}

// Close releases the store backend and the log file.
func (a *App) Close() error {
	var firstErr error
	if err := a.storeClose(); err != nil {
		firstErr = fmt.Errorf("closing bundle store: %w", err)
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing log file: %w", err)
		}
	}
	return firstErr
}
