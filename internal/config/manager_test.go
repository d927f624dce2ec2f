package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{
  "telegram": {"token": "123:abc", "owner_user_ids": [42]},
  "logging": {"level": "debug", "console": true},
  "stream": {"url": "https://api.example.com/events", "backoff": "3s"}
}`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.OwnerUserIDs) != 1 || cfg.Telegram.OwnerUserIDs[0] != 42 {
		t.Fatalf("owners = %v", cfg.Telegram.OwnerUserIDs)
	}
	if cfg.Stream.Backoff != "3s" {
		t.Fatalf("backoff = %q", cfg.Stream.Backoff)
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
telegram:
  token: "123:abc"
  owner_user_ids: [42, 43]
logging:
  level: info
  console: true
stream:
  url: https://api.example.com/events
  idle_timeout: 2m
relay:
  timezone: Europe/Oslo
  rate_per_sec: 10
reminder:
  enabled: true
  every: "@every 24h"
`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Stream.IdleTimeout != "2m" {
		t.Fatalf("idle_timeout = %q", cfg.Stream.IdleTimeout)
	}
	if cfg.Relay.Timezone != "Europe/Oslo" || cfg.Relay.RatePerSec != 10 {
		t.Fatalf("relay = %+v", cfg.Relay)
	}
	if !cfg.Reminder.Enabled || cfg.Reminder.Every != "@every 24h" {
		t.Fatalf("reminder = %+v", cfg.Reminder)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"telegram": {"token": "t"}, "logging": {}, "stream": {"url": "u"}, "mystery": 1}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatalf("expected unknown-field error")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"telegram": {"token": "t"}, "logging": {}, "stream": {"url": "u"}}{"again": true}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatalf("expected trailing-data error")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", "  90s "); err != nil || d != 90*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty should be 0: %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "five minutes"); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := ParseDurationField("x", "-3s"); err == nil {
		t.Fatalf("expected negative rejection")
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationOrDefault("x", "", 5*time.Second); err != nil || d != 5*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "7s", 5*time.Second); err != nil || d != 7*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
}
