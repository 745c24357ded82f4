package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const adminAddr = "0x00000000000000000000000000000000000000ad"

func validConfig() Config {
	cfg := Defaults()
	cfg.Engine.Admin = adminAddr
	return cfg
}

func TestDefaultsValidateWithAdmin(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing admin", func(c *Config) { c.Engine.Admin = "" }, "admin address must be set"},
		{"bad admin", func(c *Config) { c.Engine.Admin = "not-an-address" }, "not a valid address"},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, "unknown log_level"},
		{"empty dsn", func(c *Config) { c.Postgres.DSN = " " }, "dsn must not be empty"},
		{"nats enabled without url", func(c *Config) { c.NATS.URL = "" }, "url must not be empty"},
		{"port clash", func(c *Config) { c.Server.MetricsPort = c.Server.Port }, "must differ"},
		{"zero batch", func(c *Config) { c.Pipeline.PersistBatchSize = 0 }, "persist_batch_size"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("validate passed, want error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
log_level = "debug"

[engine]
admin = "` + adminAddr + `"

[server]
port = 9999

[pipeline]
persist_flush_timeout = "500ms"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("log_level = %q, want debug", cfg.LogLevel)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Pipeline.PersistFlushTimeout.Duration != 500*time.Millisecond {
		t.Errorf("flush timeout = %v, want 500ms", cfg.Pipeline.PersistFlushTimeout.Duration)
	}
	// Untouched fields keep their defaults.
	if cfg.NATS.URL != Defaults().NATS.URL {
		t.Errorf("nats url = %q, want default", cfg.NATS.URL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PARI_ENGINE_ADMIN", adminAddr)
	t.Setenv("PARI_SERVER_PORT", "7070")
	t.Setenv("PARI_NATS_ENABLED", "false")
	t.Setenv("PARI_PIPELINE_PERSIST_FLUSH_TIMEOUT", "1s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Engine.Admin != adminAddr {
		t.Errorf("admin = %q", cfg.Engine.Admin)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.NATS.Enabled {
		t.Error("nats still enabled")
	}
	if cfg.Pipeline.PersistFlushTimeout.Duration != time.Second {
		t.Errorf("flush timeout = %v, want 1s", cfg.Pipeline.PersistFlushTimeout.Duration)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("load of missing file succeeded")
	}
}
