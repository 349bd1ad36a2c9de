package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/mentorchat/mentorchat/internal/session"
)

// HubConfig holds the hub daemon's environment-driven settings.
type HubConfig struct {
	Addr           string // listen address
	DataDir        string // sqlite db, uploaded files, logs
	JWTSecret      string
	AssistantURL   string // OpenRouter-compatible chat completions endpoint
	AssistantKey   string
	AssistantModel string
}

// LoadHub reads hub configuration from the environment, loading a .env
// file first if one exists in the working directory.
func LoadHub() (*HubConfig, error) {
	_ = godotenv.Load()

	cfg := &HubConfig{
		Addr:           envOr("MENTORCHAT_ADDR", ":8787"),
		DataDir:        envOr("MENTORCHAT_DATA_DIR", ""),
		JWTSecret:      os.Getenv("MENTORCHAT_JWT_SECRET"),
		AssistantURL:   envOr("MENTORCHAT_AI_URL", "https://openrouter.ai/api/v1/chat/completions"),
		AssistantKey:   os.Getenv("OPENROUTER_API_KEY"),
		AssistantModel: envOr("MENTORCHAT_AI_MODEL", "anthropic/claude-3.5-sonnet"),
	}
	if cfg.DataDir == "" {
		cfg.DataDir = session.HubDir()
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("MENTORCHAT_JWT_SECRET is required")
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
