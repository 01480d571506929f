package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - YKUTILS_CONFIG_PATH: config file location (default: ~/.config/yubikey-utils.toml)
//   - YKUTILS_HOME: base directory for yubikey-utils data (default: ~/.local/share/yubikey-utils)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// getConfigPath returns the config file path, checking YKUTILS_CONFIG_PATH
// first, then falling back to the default ~/.config/yubikey-utils.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("YKUTILS_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "yubikey-utils.toml"), nil
}

// getBaseDir returns the base data directory, checking YKUTILS_HOME first,
// then falling back to the XDG default ~/.local/share/yubikey-utils.
func getBaseDir() (string, error) {
	if path := os.Getenv("YKUTILS_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "yubikey-utils"), nil
}
