package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds the runtime settings for the chat server. Values come from
// the environment (optionally seeded by a .env file in dev).
type Config struct {
	Addr           string   `envconfig:"ADDR" default:":8080"`
	DatabaseDSN    string   `envconfig:"DB_DSN" required:"true"`
	JWTSecret      string   `envconfig:"JWT_SECRET" required:"true"`
	RedisAddr      string   `envconfig:"REDIS_ADDR"` // empty = single-instance mode, no relay
	LogLevel       string   `envconfig:"LOG_LEVEL" default:"info"`
	HistoryLimit   int      `envconfig:"HISTORY_LIMIT" default:"50"`
	MaxMessageSize int64    `envconfig:"MAX_MESSAGE_SIZE" default:"8192"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"` // empty = allow all (dev)
}

// Load reads the environment into a Config. A missing .env file is not an
// error; required variables missing from the environment are.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 8192
	}
	return cfg, nil
}

// SlogLevel maps the configured level string onto a slog.Level.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
