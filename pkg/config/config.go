package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/phoenixkit/phoenixkit/pkg/observability"
)

// Config holds all PhoenixKit configuration
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// Provisioning configuration
	Provision ProvisionConfig

	// Auth configuration
	Auth AuthConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	// URL is the explicit PostgreSQL DSN. When empty the auto-provisioner
	// falls back to convention-based discovery.
	URL string

	// SchemaPrefix isolates one tenant's tables from another's within
	// the same store.
	SchemaPrefix string

	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// ProvisionConfig holds auto-provisioning configuration
type ProvisionConfig struct {
	// Enabled toggles lazy schema provisioning on first use
	Enabled bool

	// AppName is an optional host application hint used by the
	// convention-based DSN discovery strategies.
	AppName string

	// TargetVersion pins the schema version to provision to. Zero means
	// the latest known version.
	TargetVersion int
}

// AuthConfig holds credential and session token configuration
type AuthConfig struct {
	// SessionTokenValidity is how long a session token stays valid
	SessionTokenValidity time.Duration

	// JanitorSchedule is a cron expression for the expired-token purge
	JanitorSchedule string

	// BcryptCost overrides the bcrypt work factor. Zero uses the default.
	BcryptCost int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// DefaultConfig returns the built-in defaults without consulting the
// environment. Useful for embedding hosts that configure
// programmatically.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			SchemaPrefix: "public",
			MaxConns:     10,
			MinConns:     2,
			Timeout:      10 * time.Second,
			MaxLifetime:  1 * time.Hour,
			MaxIdleTime:  10 * time.Minute,
		},
		Provision: ProvisionConfig{
			Enabled: true,
		},
		Auth: AuthConfig{
			SessionTokenValidity: 60 * 24 * time.Hour,
			JanitorSchedule:      "@hourly",
		},
		Observability: ObservabilityConfig{
			LogLevel:       observability.InfoLevel,
			MetricsEnabled: true,
		},
	}
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Database:      loadDatabaseConfig(),
		Provision:     loadProvisionConfig(),
		Auth:          loadAuthConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:          getEnv("PHOENIXKIT_DATABASE_URL", ""),
		SchemaPrefix: getEnv("PHOENIXKIT_SCHEMA_PREFIX", "public"),
		MaxConns:     getEnvInt("PHOENIXKIT_DB_MAX_CONNS", 10),
		MinConns:     getEnvInt("PHOENIXKIT_DB_MIN_CONNS", 2),
		Timeout:      getEnvDuration("PHOENIXKIT_DB_TIMEOUT", 10*time.Second),
		MaxLifetime:  getEnvDuration("PHOENIXKIT_DB_MAX_LIFETIME", 1*time.Hour),
		MaxIdleTime:  getEnvDuration("PHOENIXKIT_DB_MAX_IDLE_TIME", 10*time.Minute),
	}
}

func loadProvisionConfig() ProvisionConfig {
	return ProvisionConfig{
		Enabled:       getEnvBool("PHOENIXKIT_AUTO_PROVISION", true),
		AppName:       getEnv("PHOENIXKIT_APP_NAME", ""),
		TargetVersion: getEnvInt("PHOENIXKIT_TARGET_VERSION", 0),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		SessionTokenValidity: getEnvDuration("PHOENIXKIT_SESSION_VALIDITY", 60*24*time.Hour),
		JanitorSchedule:      getEnv("PHOENIXKIT_JANITOR_SCHEDULE", "@hourly"),
		BcryptCost:           getEnvInt("PHOENIXKIT_BCRYPT_COST", 0),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       parseLogLevel(getEnv("PHOENIXKIT_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("PHOENIXKIT_METRICS_ENABLED", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Database.SchemaPrefix == "" {
		return fmt.Errorf("schema prefix is required")
	}
	if strings.ContainsAny(c.Database.SchemaPrefix, `";`) {
		return fmt.Errorf("schema prefix contains invalid characters: %s", c.Database.SchemaPrefix)
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max connections (%d) must not be lower than min connections (%d)",
			c.Database.MaxConns, c.Database.MinConns)
	}
	if c.Provision.TargetVersion < 0 {
		return fmt.Errorf("target version must not be negative")
	}
	if c.Auth.SessionTokenValidity <= 0 {
		return fmt.Errorf("session token validity must be positive")
	}
	if c.Auth.JanitorSchedule == "" {
		return fmt.Errorf("janitor schedule is required")
	}
	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
