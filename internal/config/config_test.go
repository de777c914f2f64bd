package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Fetch.MaxAttempts != 3 {
		t.Errorf("max attempts = %d, want 3", cfg.Fetch.MaxAttempts)
	}
	if cfg.Browser.Wait.Duration != 10*time.Second {
		t.Errorf("browser wait = %v, want 10s", cfg.Browser.Wait.Duration)
	}
	if cfg.Robots.Respect {
		t.Error("robots respect should default off")
	}
}

func TestLoadFromReader(t *testing.T) {
	raw := `
fetch:
  user_agent: "test-agent"
  timeout: 5s
  max_attempts: 2
browser:
  enabled: false
api:
  addr: ":9090"
  max_sessions: 2
`
	cfg, err := LoadFromReader(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Fetch.UserAgent != "test-agent" {
		t.Errorf("user agent = %q", cfg.Fetch.UserAgent)
	}
	if cfg.Fetch.Timeout.Duration != 5*time.Second {
		t.Errorf("timeout = %v, want 5s", cfg.Fetch.Timeout.Duration)
	}
	if cfg.Browser.Enabled {
		t.Error("browser should be disabled")
	}
	if cfg.API.Addr != ":9090" || cfg.API.MaxSessions != 2 {
		t.Errorf("api config = %+v", cfg.API)
	}
	// Unset sections keep their defaults.
	if cfg.Fetch.MaxBodyBytes != Default().Fetch.MaxBodyBytes {
		t.Errorf("max body bytes = %d", cfg.Fetch.MaxBodyBytes)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	if _, err := LoadFromReader(strings.NewReader("fetch:\n  no_such_field: 1\n")); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestDurationUnmarshalYAML(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader("fetch:\n  timeout: 90\n"))
	if err != nil {
		t.Fatalf("numeric seconds rejected: %v", err)
	}
	if cfg.Fetch.Timeout.Duration != 90*time.Second {
		t.Errorf("timeout = %v, want 90s", cfg.Fetch.Timeout.Duration)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Fetch.MaxAttempts = -1
	if err := cfg.Validate(); err == nil {
		t.Error("negative max_attempts accepted")
	}
	cfg = Default()
	cfg.Mapping.Backend = "etcd"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown mapping backend accepted")
	}
	cfg = Default()
	cfg.API.MaxSessions = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero max_sessions accepted")
	}
}
