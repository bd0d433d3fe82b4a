// Package config loads canvasctl settings from a YAML file and CANVASCTL_
// environment variables, the latter taking precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override, e.g. CANVASCTL_SERVER.
const EnvPrefix = "CANVASCTL_"

// Config holds the CLI settings.
type Config struct {
	Server         string `koanf:"server"`
	DataDir        string `koanf:"data_dir"`
	TimeoutSeconds int    `koanf:"timeout_seconds"`
	LogLevel       string `koanf:"log_level"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Server:         "http://localhost:3000",
		DataDir:        filepath.Join(homeDir(), ".canvasctl", "data"),
		TimeoutSeconds: 30,
		LogLevel:       "warn",
	}
}

// DefaultConfigPath returns ~/.canvasctl/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(homeDir(), ".canvasctl", "config.yaml")
}

// Timeout returns the HTTP timeout.
func (c *Config) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Load reads path (or the default path when empty) and applies environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	k := koanf.New(".")
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load file %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	// CANVASCTL_DATA_DIR -> data_dir
	transform := func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", transform), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if strings.TrimSpace(cfg.Server) == "" {
		return nil, errors.New("server address must not be empty")
	}
	return cfg, nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "."
	}
	return home
}
