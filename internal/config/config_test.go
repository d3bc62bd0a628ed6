package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Collection != "events" {
		t.Fatalf("default collection: %q", cfg.Collection)
	}
	if cfg.Session.OutboundCapacity != 128 || cfg.Session.InboundCapacity != 128 {
		t.Fatalf("default capacities: %+v", cfg.Session)
	}
	if cfg.Session.SendAttempts != 10 || cfg.Session.RetryDelay() != 100*time.Millisecond {
		t.Fatalf("default retry policy: %+v", cfg.Session)
	}
	if cfg.Session.VerifyPayload != "echo\n" {
		t.Fatalf("default verify payload: %q", cfg.Session.VerifyPayload)
	}
	if cfg.Client.Machine == "" || cfg.Client.Author == "" {
		t.Fatalf("client identity should default to something")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadJSON(t *testing.T) {
	file := filepath.Join(t.TempDir(), "bucface.json")
	data := []byte(`{"collection":"prod","broker":{"outboundQueue":64},"session":{"sendAttempts":3}}`)
	if err := os.WriteFile(file, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Collection != "prod" || cfg.Broker.OutboundQueue != 64 || cfg.Session.SendAttempts != 3 {
		t.Fatalf("unexpected cfg %+v", cfg)
	}
	if cfg.Session.InboundCapacity != 128 {
		t.Fatalf("unset fields should keep defaults")
	}
}

func TestLoadYAML(t *testing.T) {
	file := filepath.Join(t.TempDir(), "bucface.yaml")
	data := []byte("collection: ops\nsession:\n  retryDelayMs: 250\n  verifyPayload: hi\nclient:\n  author: bob\n")
	if err := os.WriteFile(file, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Collection != "ops" || cfg.Session.RetryDelay() != 250*time.Millisecond {
		t.Fatalf("unexpected cfg %+v", cfg)
	}
	if cfg.Session.VerifyPayload != "hi" || cfg.Client.Author != "bob" {
		t.Fatalf("unexpected session/client %+v %+v", cfg.Session, cfg.Client)
	}
}

func TestLoadInvalid(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"collection":"a/b"}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(bad); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := Load(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Collection != Default().Collection {
		t.Fatalf("empty path should return defaults")
	}
}

func TestFromEnv(t *testing.T) {
	cfg := Default()
	t.Setenv("BUCFACE_COLLECTION", "staging")
	t.Setenv("BUCFACE_SESSION_SEND_ATTEMPTS", "4")
	t.Setenv("BUCFACE_BROKER_PING_INTERVAL_MS", "not-a-number")
	t.Setenv("BUCFACE_AUTHOR", "carol")
	t.Setenv("BUCFACE_LOG_LEVEL", "debug")
	t.Setenv("BUCFACE_BACKFILL_BATCH", "256")
	t.Setenv("BUCFACE_LOG_REDACT", "author, machine,")
	t.Setenv("BUCFACE_LOG_SAMPLE_THEREAFTER", "10")
	FromEnv(&cfg)
	if cfg.Collection != "staging" || cfg.Session.SendAttempts != 4 {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.Broker.PingIntervalMs != Default().Broker.PingIntervalMs {
		t.Fatalf("unparseable value should be ignored")
	}
	if cfg.Client.Author != "carol" || cfg.Log.Level != "debug" || cfg.Client.BackfillBatch != 256 {
		t.Fatalf("client/log overrides not applied")
	}
	if len(cfg.Log.Redact) != 2 || cfg.Log.Redact[0] != "author" || cfg.Log.Redact[1] != "machine" {
		t.Fatalf("redact list = %q", cfg.Log.Redact)
	}
	if cfg.Log.SampleThereafter != 10 {
		t.Fatalf("sampling override not applied")
	}
}

func TestValidateReportsField(t *testing.T) {
	cases := []struct {
		name  string
		tweak func(*Config)
		field string
	}{
		{"collection", func(c *Config) { c.Collection = "" }, "Config.Collection"},
		{"frame size", func(c *Config) { c.Broker.MaxFrameBytes = 0 }, "Config.Broker.MaxFrameBytes"},
		{"send attempts", func(c *Config) { c.Session.SendAttempts = -1 }, "Config.Session.SendAttempts"},
		{"negative delay", func(c *Config) { c.Session.RetryDelayMs = -5 }, "Config.Session.RetryDelayMs"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "Config.Log.Format"},
		{"backfill batch", func(c *Config) { c.Client.BackfillBatch = 0 }, "Config.Client.BackfillBatch"},
		{"empty redact key", func(c *Config) { c.Log.Redact = []string{""} }, "Config.Log.Redact[0]"},
		{"negative sampling", func(c *Config) { c.Log.SampleThereafter = -1 }, "Config.Log.SampleThereafter"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.tweak(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.field) {
				t.Fatalf("want error naming %s, got %v", tc.field, err)
			}
		})
	}
}
