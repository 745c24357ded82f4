package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PARI_* environment variable overrides, and
// returns the final Config. When path is empty the file step is skipped.
// The returned Config has NOT been validated; call Config.Validate after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env if present; ignore when missing.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PARI_* environment variables and
// overwrites the corresponding fields when a variable is set. Operators
// inject secrets at deploy time without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.LogLevel, "PARI_LOG_LEVEL")

	setStr(&cfg.Engine.Admin, "PARI_ENGINE_ADMIN")

	setStr(&cfg.Postgres.DSN, "PARI_POSTGRES_DSN")
	setStr(&cfg.Postgres.MigrationsDir, "PARI_POSTGRES_MIGRATIONS_DIR")
	setBool(&cfg.Postgres.RunMigrations, "PARI_POSTGRES_RUN_MIGRATIONS")
	setInt(&cfg.Postgres.MaxOpenConns, "PARI_POSTGRES_MAX_OPEN_CONNS")

	setBool(&cfg.NATS.Enabled, "PARI_NATS_ENABLED")
	setStr(&cfg.NATS.URL, "PARI_NATS_URL")

	setInt(&cfg.Server.Port, "PARI_SERVER_PORT")
	setInt(&cfg.Server.MetricsPort, "PARI_SERVER_METRICS_PORT")
	setStr(&cfg.Server.APIKey, "PARI_SERVER_API_KEY")

	setInt(&cfg.Pipeline.PersistBuffer, "PARI_PIPELINE_PERSIST_BUFFER")
	setInt(&cfg.Pipeline.PublishBuffer, "PARI_PIPELINE_PUBLISH_BUFFER")
	setInt(&cfg.Pipeline.ProjectionBuffer, "PARI_PIPELINE_PROJECTION_BUFFER")
	setInt(&cfg.Pipeline.PersistBatchSize, "PARI_PIPELINE_PERSIST_BATCH_SIZE")
	setDuration(&cfg.Pipeline.PersistFlushTimeout, "PARI_PIPELINE_PERSIST_FLUSH_TIMEOUT")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
