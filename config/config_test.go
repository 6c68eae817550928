package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeTempConfig writes content to a temporary YAML file and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

const minimalConfig = `adapter:
  name: "oanda"
  version: "1.0"
base:
  host: "https://api.example.com/"
  account_id: "101-001"
  parallel: true
headers:
  Content-Type: "application/json"
periods:
  m1: "M1"
  H1: "H1"
side:
  B: "buy"
  S: "sell"
endpoints:
  GetPrice:
    path: "/v3/accounts/$account_id/pricing"
    method: "GET"
    request: "instruments=$symbols"
    response: "prices:Symbol-instrument,Bid-bids.0.price"
    refresh: 1000
`

func TestLoadConfig(t *testing.T) {
	t.Setenv("BROKER_HOST", "")
	t.Setenv("BROKER_AUTH_TOKEN", "")
	path := writeTempConfig(t, minimalConfig)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Base.Host != "https://api.example.com" {
		t.Errorf("host not trimmed: %q", cfg.Base.Host)
	}
	if cfg.Side.Buy != "buy" || cfg.Side.Sell != "sell" {
		t.Errorf("side tokens = %+v", cfg.Side)
	}
	ep := cfg.Endpoints["GetPrice"]
	if ep.RefreshInterval() != time.Second || ep.Method != "GET" {
		t.Errorf("endpoint = %+v", ep)
	}
	if cfg.Scheduler.Tick != 100*time.Millisecond || cfg.History.MaxBatch != 2000 {
		t.Errorf("defaults lost: %+v %+v", cfg.Scheduler, cfg.History)
	}
	if cfg.Market.OffWday != int(time.Saturday) || cfg.Market.CloseHour != 21 {
		t.Errorf("market defaults = %+v", cfg.Market)
	}
	if len(cfg.History.BenignErrors) != 1 || cfg.History.BenignErrors[0] != "unsupported scope" {
		t.Errorf("benign errors = %v", cfg.History.BenignErrors)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("BROKER_HOST", "https://override.example.com")
	t.Setenv("BROKER_ACCOUNT_ID", "acc-9")
	t.Setenv("BROKER_AUTH_TOKEN", "secret")
	path := writeTempConfig(t, minimalConfig)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Base.Host != "https://override.example.com" || cfg.Base.AccountID != "acc-9" {
		t.Errorf("base = %+v", cfg.Base)
	}
	if cfg.Headers["Authorization"] != "Bearer secret" {
		t.Errorf("authorization header = %q", cfg.Headers["Authorization"])
	}
	if cfg.Headers["Content-Type"] != "application/json" {
		t.Errorf("file headers lost: %v", cfg.Headers)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		section string
	}{
		{"missing host", func(c *Config) { c.Base.Host = "" }, "base"},
		{"bad scheme", func(c *Config) { c.Base.Host = "ftp://x" }, "base"},
		{"bad tick", func(c *Config) { c.Scheduler.Tick = 0 }, "scheduler"},
		{"bad weekday", func(c *Config) { c.Market.OffWday = 7 }, "market"},
		{"bad period", func(c *Config) { c.Periods["M1"] = "M1" }, "periods"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Base.Host = "https://h"
			tt.mutate(&cfg)
			err := Validate(&cfg)
			var cerr *ConfigurationError
			if !errors.As(err, &cerr) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
			if cerr.Section != tt.section {
				t.Fatalf("section = %q want %q", cerr.Section, tt.section)
			}
		})
	}

	cfg := Default()
	cfg.Base.Host = "https://h"
	if err := Validate(&cfg); err != nil {
		t.Fatalf("default config with host should validate: %v", err)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"valid-bucket", true},
		{"Invalid", false},
		{"ab", false},
		{"my..bucket", false},
	}
	for _, c := range cases {
		if got := isValidS3Bucket(c.name); got != c.valid {
			t.Errorf("isValidS3Bucket(%q) = %v, want %v", c.name, got, c.valid)
		}
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	if got := ResolvePath("custom.yml"); got != "custom.yml" {
		t.Errorf("explicit path replaced: %q", got)
	}
	if got := envSpecificPath(DefaultPath, AppEnvironment()); got != "config/config.production.yml" {
		t.Errorf("env path = %q", got)
	}
	if !IsProductionLike(AppEnvironment()) {
		t.Errorf("prod alias not production-like")
	}
}
