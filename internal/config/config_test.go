package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gyaneshwarpardhi/vitalsync/internal/config"
)

const sample = `
version: "1"
logging:
  level: ${VITALSYNC_TEST_LOG_LEVEL:-debug}
store:
  dsn: ${VITALSYNC_TEST_STORE_DSN}
cache:
  url: memory://
webhooks:
  garmin:
    required_headers: [X-Garmin-Signature]
poll:
  - id: oura-hr
    source: oura
    url: https://api.ouraring.com/v2/usercollection/heartrate
    interval: 15m
    token_env: OURA_TOKEN
`

func TestParseDefaultsAndEnv(t *testing.T) {
	t.Setenv("VITALSYNC_TEST_STORE_DSN", "sqlite:///var/lib/vitalsync/events.db")

	cfg, err := config.Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q, want default from reference", cfg.Logging.Level)
	}
	if cfg.Store.DSN != "sqlite:///var/lib/vitalsync/events.db" {
		t.Errorf("dsn = %q", cfg.Store.DSN)
	}
	if cfg.Ingest.Workers != 16 || cfg.Ingest.QueueDepth != 1000 || cfg.Ingest.Timeout != 10*time.Second {
		t.Errorf("ingest defaults = %+v", cfg.Ingest)
	}
	if cfg.Cache.TTL != 24*time.Hour {
		t.Errorf("cache ttl = %v", cfg.Cache.TTL)
	}
	if got := cfg.Poll[0].Lookback; got != 30*time.Minute {
		t.Errorf("lookback = %v, want twice the interval", got)
	}
	if got := cfg.Webhooks["garmin"].RequiredHeaders; len(got) != 1 || got[0] != "X-Garmin-Signature" {
		t.Errorf("garmin headers = %v", got)
	}
}

func TestValidateAggregatesErrors(t *testing.T) {
	cfg, err := config.Parse([]byte(`
logging:
  level: loud
  format: xml
webhooks:
  polar: {}
poll:
  - id: a
    source: fitbit
    url: ftp://example.com
    interval: 1m
  - id: a
    source: polar
    url: https://example.com
    interval: 1m
    lookback: 10s
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	err = config.Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{
		"version is required",
		`logging.level "loud"`,
		`logging.format "xml"`,
		"webhooks.polar: unknown source",
		"poll a: url must be an http(s) URL",
		`duplicate poll id "a"`,
		`unknown source "polar"`,
		"lookback must cover at least one interval",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestLoaderReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vitalsync.yaml")
	write := func(body string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("version: \"1\"\n")

	l, err := config.NewLoader(path, nil)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	var seen []string
	l.OnChange(func(c *config.Config) { seen = append(seen, c.Version) })

	write("version: \"2\"\n")
	if _, err := l.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if l.Config().Version != "2" || len(seen) != 1 {
		t.Fatalf("version = %q, callbacks = %v", l.Config().Version, seen)
	}

	write("logging: {level: loud}\n")
	if _, err := l.Reload(); err == nil {
		t.Fatal("invalid config reloaded")
	}
	if l.Config().Version != "2" || len(seen) != 1 {
		t.Fatal("invalid reload replaced the current config")
	}
}

func TestParseLevel(t *testing.T) {
	for _, name := range []string{"debug", "info", "warn", "error", "INFO"} {
		if _, err := config.ParseLevel(name); err != nil {
			t.Errorf("ParseLevel(%q): %v", name, err)
		}
	}
	if _, err := config.ParseLevel("verbose"); err == nil {
		t.Error("ParseLevel(verbose) should fail")
	}
}
