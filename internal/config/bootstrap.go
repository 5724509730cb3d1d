package config

import (
	_ "embed"
	"errors"
	"os"
	"path/filepath"
)

//go:embed default.yml
var defaultYAML []byte

// EnsureUserConfig returns dataDir/config.yml, writing the default config
// there first when it does not exist.
func EnsureUserConfig(dataDir string) (string, error) {
	userPath := filepath.Join(dataDir, "config.yml")

	_, err := os.Stat(userPath)
	if err == nil {
		return userPath, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(userPath, defaultYAML, 0o644); err != nil {
		return "", err
	}
	return userPath, nil
}

// Resolve picks the config path: LEADTRACK_CONFIG, then an explicit flag
// value, then dataDir/config.yml (bootstrapped).
func Resolve(flagPath, dataDir string) (string, error) {
	if p := os.Getenv(EnvConfig); p != "" {
		return p, nil
	}
	if flagPath != "" {
		return flagPath, nil
	}
	return EnsureUserConfig(dataDir)
}
