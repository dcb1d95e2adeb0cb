package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != Default().Addr {
		t.Errorf("addr = %q, want default %q", cfg.Addr, Default().Addr)
	}
}

func TestLoad_OverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alarmd.toml")
	body := `
addr = "127.0.0.1:9000"
origin = "http://app.local:8080"
eval_interval = "10s"
check_cron = "*/2 * * * *"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != "127.0.0.1:9000" {
		t.Errorf("addr = %q", cfg.Addr)
	}
	if cfg.EvalInterval.Std() != 10*time.Second {
		t.Errorf("eval_interval = %v", cfg.EvalInterval.Std())
	}
	// untouched keys keep defaults
	if cfg.SnoozeDelay.Std() != Default().SnoozeDelay.Std() {
		t.Errorf("snooze_delay = %v", cfg.SnoozeDelay.Std())
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("ALARMD_ADDR", "127.0.0.1:1234")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != "127.0.0.1:1234" {
		t.Errorf("addr = %q", cfg.Addr)
	}
}

func TestValidate_Rejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Addr = "" }},
		{"relative origin", func(c *Config) { c.Origin = "/just/a/path" }},
		{"ftp origin", func(c *Config) { c.Origin = "ftp://files.local" }},
		{"zero eval interval", func(c *Config) { c.EvalInterval = 0 }},
		{"negative snooze", func(c *Config) { c.SnoozeDelay = Duration(-time.Second) }},
		{"bad cron", func(c *Config) { c.CheckCron = "not a cron" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}
