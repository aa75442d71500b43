package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Cache.TTL.Duration != 300*time.Second {
		t.Errorf("expected 300s cache ttl, got %s", cfg.Cache.TTL)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  addr: ":9090"
  request_timeout: 5s
cache:
  ttl: 1m
malls:
  allowed: [amazon, rakuten]
  default: rakuten
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9090" || cfg.Server.RequestTimeout.Duration != 5*time.Second {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Cache.TTL.Duration != time.Minute {
		t.Errorf("expected 1m ttl, got %s", cfg.Cache.TTL)
	}
	if cfg.Malls.Default != "rakuten" {
		t.Errorf("expected rakuten default mall, got %s", cfg.Malls.Default)
	}
	// untouched sections keep their defaults
	if cfg.Detection.FlushBatchSize != 1000 {
		t.Errorf("expected default flush batch size, got %d", cfg.Detection.FlushBatchSize)
	}
}

func TestLoadTOMLWithEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[database]
driver = "sqlite"
dsn = "from-file.db"

[detection]
flush_interval = "30s"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DATABASE_DSN", "from-env.db")
	t.Setenv("PORT", "7000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.DSN != "from-env.db" {
		t.Errorf("env must override file dsn, got %s", cfg.Database.DSN)
	}
	if cfg.Server.Addr != ":7000" {
		t.Errorf("expected :7000, got %s", cfg.Server.Addr)
	}
	if cfg.Detection.FlushInterval.Duration != 30*time.Second {
		t.Errorf("expected 30s flush interval, got %s", cfg.Detection.FlushInterval)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"driver":       func(c *Config) { c.Database.Driver = "mysql" },
		"ttl":          func(c *Config) { c.Cache.TTL.Duration = 0 },
		"default mall": func(c *Config) { c.Malls.Default = "nowhere" },
		"redis queue":  func(c *Config) { c.Detection.Queue = "redis" },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestLoadNonExistent(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestPrintRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	if err := Print(Default(), &buf); err != nil {
		t.Fatalf("print: %v", err)
	}
	if !strings.Contains(buf.String(), `ttl = "5m0s"`) {
		t.Errorf("expected encoded ttl, got:\n%s", buf.String())
	}
}
