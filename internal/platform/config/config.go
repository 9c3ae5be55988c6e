package config

import (
	"errors"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type HTTPConfig struct {
	Addr string
}

type AppConfig struct {
	ServiceName string
	LogLevel    string
	Env         string
	HTTP        HTTPConfig
}

// Load reads configuration from the environment. A local .env file is
// applied first when present; real environment variables win over it.
func Load() (AppConfig, error) {
	_ = godotenv.Load()

	cfg := AppConfig{
		ServiceName: strings.TrimSpace(os.Getenv("SERVICE_NAME")),
		LogLevel:    strings.TrimSpace(os.Getenv("LOG_LEVEL")),
		Env:         strings.TrimSpace(os.Getenv("APP_ENV")),
		HTTP: HTTPConfig{
			Addr: strings.TrimSpace(os.Getenv("HTTP_ADDR")),
		},
	}
	if cfg.ServiceName == "" {
		return AppConfig{}, errors.New("SERVICE_NAME is required")
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

// IsProduction reports whether the service runs with production guarantees
// (no in-memory fallbacks, required backends must be reachable).
func (c AppConfig) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}
