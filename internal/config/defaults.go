// Package config holds defaults and path helpers shared by the CLI and the
// API server configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Default configuration values.
const (
	ConfigFileName    = "querydeck.yaml"
	ConfigFileNameAlt = "querydeck.yml"

	DefaultStatePath = "~/.querydeck/querydeck.db"
	DefaultPort      = 8080
	DefaultOutput    = "auto"
)

// FindConfigFile returns the config file in dir, or "" when there is none.
func FindConfigFile(dir string) string {
	for _, name := range []string{ConfigFileName, ConfigFileNameAlt} {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// ExpandHome replaces a leading "~" with the current user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
