package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for yubikey-utils.
type Config struct {
	InstallID string        `toml:"install_id"`
	LogDir    string        `toml:"log_dir"`
	Token     TokenConfig   `toml:"token"`
	Store     StoreConfig   `toml:"store"`
	KeePass   KeePassConfig `toml:"keepass"`
}

// TokenConfig holds challenge-response settings for the YubiKey tools.
type TokenConfig struct {
	Slot           int    `toml:"slot"`            // 1 or 2; defaults to 2
	TimeoutSeconds int    `toml:"timeout_seconds"` // per tool invocation, covers the touch wait
	YkinfoPath     string `toml:"ykinfo_path,omitempty"`
	YkchalrespPath string `toml:"ykchalresp_path,omitempty"`
}

// StoreConfig represents configuration for the bundle store backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StoreConfig struct {
	Type string `toml:"type"` // "file" (default), "sqlite", "s3", or "memory"

	// File-specific fields (only used when Type == "file")
	Path string `toml:"path,omitempty"`

	// SQLite-specific fields (only used when Type == "sqlite")
	DBPath string `toml:"db_path,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket        string `toml:"s3_bucket,omitempty"`
	S3Key           string `toml:"s3_key,omitempty"`
	S3Region        string `toml:"s3_region,omitempty"`
	S3AccessKeyID   string `toml:"s3_access_key_id,omitempty"`
	S3SecretKeyPath string `toml:"s3_secret_key_path,omitempty"` // file holding the secret access key
}

// KeePassConfig holds the settings the ykvault front end needs to hand a
// recovered master password to KeePassXC.
type KeePassConfig struct {
	DatabasePath string `toml:"database_path,omitempty"`
	BinaryPath   string `toml:"binary_path,omitempty"` // defaults to "keepassxc"
}

// NewConfig creates a Config with the provided install ID and default
// paths under baseDir.
func NewConfig(installID, baseDir string) *Config {
	return &Config{
		InstallID: installID,
		LogDir:    filepath.Join(baseDir, "log"),
		Token: TokenConfig{
			Slot:           2,
			TimeoutSeconds: 30,
		},
		Store: StoreConfig{
			Type: "file",
			Path: filepath.Join(baseDir, "bundles.json"),
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	// Refuse to clobber an existing config
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
