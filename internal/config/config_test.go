package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 8000 {
		t.Errorf("expected default port 8000, got %d", cfg.Server.Port)
	}
	if cfg.Tenancy.Header != "X-Tenant-ID" {
		t.Errorf("unexpected tenant header %q", cfg.Tenancy.Header)
	}
	if !cfg.RateLimit.Enabled || cfg.RateLimit.Window != time.Minute {
		t.Errorf("unexpected rate limit defaults: %+v", cfg.RateLimit)
	}
	if cfg.Auth.RequireRead || cfg.Auth.RequireWrite {
		t.Error("auth should be disabled by default")
	}
	if len(cfg.Simulation.AllowedEnvKeys) == 0 {
		t.Error("expected a default env allow-list")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LIVEBENCH_PORT", "9001")
	t.Setenv("LIVEBENCH_RATE_LIMIT_WINDOW", "30s")
	t.Setenv("LIVEBENCH_ALLOWED_ENV_KEYS", "A_KEY,B_KEY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9001 {
		t.Errorf("port override ignored: %d", cfg.Server.Port)
	}
	if cfg.RateLimit.Window != 30*time.Second {
		t.Errorf("window override ignored: %v", cfg.RateLimit.Window)
	}
	if len(cfg.Simulation.AllowedEnvKeys) != 2 || cfg.Simulation.AllowedEnvKeys[1] != "B_KEY" {
		t.Errorf("allow-list override ignored: %v", cfg.Simulation.AllowedEnvKeys)
	}
}

func TestValidate_AuthRequiresToken(t *testing.T) {
	t.Setenv("LIVEBENCH_AUTH_REQUIRE_WRITE", "true")

	if _, err := Load(); err == nil {
		t.Fatal("expected load to fail without a token")
	} else if !strings.Contains(err.Error(), "LIVEBENCH_AUTH_TOKEN") {
		t.Errorf("unexpected error: %v", err)
	}

	t.Setenv("LIVEBENCH_AUTH_TOKEN", "secret")
	if _, err := Load(); err != nil {
		t.Errorf("load with token failed: %v", err)
	}
}

func TestValidate_Ranges(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"bad port", "LIVEBENCH_PORT", "70000"},
		{"bad log level", "LIVEBENCH_LOG_LEVEL", "verbose"},
		{"bad log format", "LIVEBENCH_LOG_FORMAT", "xml"},
		{"zero read limit", "LIVEBENCH_RATE_LIMIT_READ", "0"},
		{"file sink without path", "LIVEBENCH_AUDIT_SINK", "file"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected validation error for %s=%s", tc.key, tc.value)
			}
		})
	}
}

func TestAddress(t *testing.T) {
	cfg := &Config{Server: ServerConfig{Host: "0.0.0.0", Port: 8000}}
	if got := cfg.Address(); got != "0.0.0.0:8000" {
		t.Errorf("unexpected address %q", got)
	}
}
