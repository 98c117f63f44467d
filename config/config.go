/*
config.go - Environment-driven service configuration

PURPOSE:
  Loads service settings from the environment (with .env support for local
  development) and constructs the shared logger. Every knob has a default
  that works on a laptop with no external services.

KEY SETTINGS:
  - REDIS_ADDR: when empty the service falls back to the in-memory session
    store, which is fine for a single process.
  - SESSION_TTL / SUMMARY_TTL: how long in-flight import state and the
    final summary survive without activity.
*/
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Port       int           `env:"PORT" envDefault:"8080"`
	DBPath     string        `env:"DB_PATH" envDefault:"ingest.db"`
	RedisAddr  string        `env:"REDIS_ADDR" envDefault:""`
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"1h"`
	SummaryTTL time.Duration `env:"SUMMARY_TTL" envDefault:"5m"`
	ChunkSize  int           `env:"CHUNK_SIZE" envDefault:"50"`
	LogLevel   string        `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads .env if present, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("CHUNK_SIZE must be positive, got %d", cfg.ChunkSize)
	}
	return &cfg, nil
}

// Logger builds the service-wide logger at the configured level.
func (c *Config) Logger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}
