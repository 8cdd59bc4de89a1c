package config

import (
	"testing"
	"time"

	"github.com/phoenixkit/phoenixkit/pkg/observability"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Database.SchemaPrefix != "public" {
		t.Errorf("Expected default schema prefix 'public', got %q", cfg.Database.SchemaPrefix)
	}
	if !cfg.Provision.Enabled {
		t.Error("Expected auto-provisioning enabled by default")
	}
	if cfg.Auth.SessionTokenValidity != 60*24*time.Hour {
		t.Errorf("Expected 60 day session validity, got %v", cfg.Auth.SessionTokenValidity)
	}
	if cfg.Observability.LogLevel != observability.InfoLevel {
		t.Errorf("Expected info log level, got %v", cfg.Observability.LogLevel)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("PHOENIXKIT_DATABASE_URL", "postgres://localhost/app_dev")
	t.Setenv("PHOENIXKIT_SCHEMA_PREFIX", "tenant_a")
	t.Setenv("PHOENIXKIT_LOG_LEVEL", "debug")
	t.Setenv("PHOENIXKIT_DB_TIMEOUT", "3s")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Database.URL != "postgres://localhost/app_dev" {
		t.Errorf("Unexpected database URL: %q", cfg.Database.URL)
	}
	if cfg.Database.SchemaPrefix != "tenant_a" {
		t.Errorf("Unexpected schema prefix: %q", cfg.Database.SchemaPrefix)
	}
	if cfg.Observability.LogLevel != observability.DebugLevel {
		t.Errorf("Expected debug level, got %v", cfg.Observability.LogLevel)
	}
	if cfg.Database.Timeout != 3*time.Second {
		t.Errorf("Expected 3s timeout, got %v", cfg.Database.Timeout)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"empty prefix", func(c *Config) { c.Database.SchemaPrefix = "" }, true},
		{"prefix with quote", func(c *Config) { c.Database.SchemaPrefix = `pub"lic` }, true},
		{"max below min conns", func(c *Config) { c.Database.MaxConns = 1; c.Database.MinConns = 5 }, true},
		{"negative target version", func(c *Config) { c.Provision.TargetVersion = -1 }, true},
		{"zero session validity", func(c *Config) { c.Auth.SessionTokenValidity = 0 }, true},
		{"empty janitor schedule", func(c *Config) { c.Auth.JanitorSchedule = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Database:  loadDatabaseConfig(),
				Provision: loadProvisionConfig(),
				Auth:      loadAuthConfig(),
			}
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("Expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		})
	}
}
