// Package config loads the client TOML config and the hub environment.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Defaults applied when fields are missing from the config file.
const (
	DefaultServerURL    = "http://localhost:8787"
	DefaultTriggerToken = "@mentor"
)

// Config represents the client-side ~/.mentorchat/config.toml.
type Config struct {
	ServerURL    string `toml:"server_url"`
	Email        string `toml:"email"`
	Token        string `toml:"token"`
	TriggerToken string `toml:"trigger_token"`
	SoundEnabled bool   `toml:"sound_enabled"`
}

// Load reads config from the given path, applying defaults for missing
// fields. A missing file yields the default config and no error.
func Load(path string) (*Config, error) {
	cfg := &Config{
		ServerURL:    DefaultServerURL,
		TriggerToken: DefaultTriggerToken,
		SoundEnabled: true,
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = DefaultServerURL
	}
	if cfg.TriggerToken == "" {
		cfg.TriggerToken = DefaultTriggerToken
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
