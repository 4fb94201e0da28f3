package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

const validYAML = `
whatsapp:
  session_path: ./session.db
  device_name: reminderd
logging:
  level: debug
  console: true
storage:
  path: ./reminders.db
  busy_timeout: 5s
reminder:
  offsets: ["24h", "1h", "0s"]
  sweep_interval: 30s
  default_timezone: Europe/Berlin
digest:
  enabled: true
  times: ["09:00", "18:30"]
  timezone: Europe/Berlin
notify:
  rate_per_sec: 2
  send_timeout: 10s
`

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WhatsApp.SessionPath != "./session.db" {
		t.Fatalf("session_path = %q", cfg.WhatsApp.SessionPath)
	}
	if cfg.Reminder.SweepInterval != "30s" {
		t.Fatalf("sweep_interval = %q", cfg.Reminder.SweepInterval)
	}
	if len(cfg.Digest.Times) != 2 {
		t.Fatalf("digest times = %v", cfg.Digest.Times)
	}
	if got := cfg.Offsets(); len(got) != 3 || got[0] != 24*time.Hour || got[2] != 0 {
		t.Fatalf("Offsets() = %v", got)
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{
		"whatsapp": {"session_path": "./session.db"},
		"logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}},
		"storage": {"path": "./reminders.db"},
		"reminder": {},
		"digest": {"enabled": false}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// Omitted ladder falls back to the default three stages.
	if got := cfg.Offsets(); len(got) != 3 || got[1] != time.Hour {
		t.Fatalf("Offsets() = %v", got)
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", validYAML+"\nextra_section:\n  nope: true\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "unknown field") {
		t.Fatalf("err = %v, want unknown field rejection", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			WhatsApp: WhatsAppConfig{SessionPath: "s.db"},
			Storage:  StorageConfig{Path: "r.db"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"minimal ok", func(c *Config) {}, ""},
		{"missing session", func(c *Config) { c.WhatsApp.SessionPath = " " }, "session_path"},
		{"missing storage", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"bad duration", func(c *Config) { c.Reminder.SweepInterval = "sixty" }, "sweep_interval"},
		{"negative duration", func(c *Config) { c.Reminder.ClaimTimeout = "-1m" }, "claim_timeout"},
		{"bad timezone", func(c *Config) { c.Reminder.DefaultTimezone = "Nowhere/Nope" }, "timezone"},
		{"digest without times", func(c *Config) { c.Digest.Enabled = true }, "digest.times"},
		{"bad digest time", func(c *Config) {
			c.Digest.Enabled = true
			c.Digest.Times = []string{"9am"}
		}, "digest.times"},
		{"negative rate", func(c *Config) { c.Notify.RatePerSec = -1 }, "rate_per_sec"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateOffsets(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		offsets []string
		ok      bool
	}{
		{"empty uses defaults", nil, true},
		{"canonical ladder", []string{"24h", "1h", "0s"}, true},
		{"single zero", []string{"0s"}, true},
		{"not decreasing", []string{"1h", "24h", "0s"}, false},
		{"duplicate", []string{"1h", "1h", "0s"}, false},
		{"missing zero tail", []string{"24h", "1h"}, false},
		{"negative", []string{"-1h", "0s"}, false},
		{"garbage", []string{"soon", "0s"}, false},
	}
	for _, tt := range tests {
		err := validateOffsets(tt.offsets)
		if tt.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tt.name, err)
		}
		if !tt.ok && err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("empty = %v (%v), want default", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "10s", time.Minute); err != nil || d != 10*time.Second {
		t.Fatalf("explicit = %v (%v)", d, err)
	}
	if _, err := ParseDurationOrDefault("x", "nope", time.Minute); err == nil {
		t.Fatal("expected error for bad duration")
	}
}
