package config

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator"
	_ "github.com/joho/godotenv/autoload"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/providers/env"
)

type Config struct {
	Authorization AuthorizationConfig `koanf:"authorization"`
	HTTP          HTTPConfig          `koanf:"http"`
	Analytics     AnalyticsConfig     `koanf:"analytics"`
	Pending       PendingConfig       `koanf:"pending"`
	Database      *DatabaseConfig     `koanf:"database"`
	Logger        LoggerConfig        `koanf:"logger"`
}

// AuthorizationConfig carries the credential handed out by the merchant
// server. Exactly one of ClientToken or ClientKey must be set. ConfigURL is
// only needed with a client key; a client token embeds its own config URL.
type AuthorizationConfig struct {
	ClientToken string `koanf:"client_token"`
	ClientKey   string `koanf:"client_key"`
	ConfigURL   string `koanf:"config_url"`
}

type HTTPConfig struct {
	Timeout time.Duration `koanf:"timeout" validate:"required"`
}

type AnalyticsConfig struct {
	// IntegrationType tags outgoing analytics events, e.g. "custom" or "dropin".
	IntegrationType string `koanf:"integration_type"`
}

// PendingConfig bounds the pending-request table. Entries older than TTL are
// swept; a swept entry means a late external result is discarded.
type PendingConfig struct {
	TTL           time.Duration `koanf:"ttl" validate:"required"`
	SweepInterval time.Duration `koanf:"sweep_interval" validate:"required"`
}

type LoggerConfig struct {
	Level string `koanf:"level"`
}

func LoadConfig() (*Config, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	k := koanf.New(".")

	err := k.Load(env.Provider("PAYSDK_", ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, "PAYSDK_")),
			"__",
			".",
		)
	}), nil)
	if err != nil {
		logger.Error("failed to load environment variables", "error", err)
		return nil, err
	}

	mainConfig := &Config{
		HTTP:    HTTPConfig{Timeout: 30 * time.Second},
		Pending: PendingConfig{TTL: time.Hour, SweepInterval: 5 * time.Minute},
		Analytics: AnalyticsConfig{
			IntegrationType: "custom",
		},
	}

	err = k.Unmarshal("", mainConfig)
	if err != nil {
		logger.Error("could not unmarshal main config", "error", err)
		return nil, err
	}

	validate := validator.New()

	err = validate.Struct(mainConfig)
	if err != nil {
		logger.Error("config validation failed", "error", err)
		return nil, err
	}

	return mainConfig, nil
}

func (c LoggerConfig) NewLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}
