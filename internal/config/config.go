// Package config loads the service configuration from a YAML file with
// environment-variable overrides for secrets and deploy-specific values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Sentry    SentryConfig    `yaml:"sentry"`
	Discord   DiscordConfig   `yaml:"discord"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" env:"GAVEL_PORT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// AllowedOrigins is the CORS allowlist for browser clients.
	AllowedOrigins []string `yaml:"allowed_origins"`
	// HistoryTail caps the number of history entries returned in snapshots.
	HistoryTail int `yaml:"history_tail"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host" env:"GAVEL_DB_HOST"`
	Port     int    `yaml:"port" env:"GAVEL_DB_PORT"`
	User     string `yaml:"user" env:"GAVEL_DB_USER"`
	Password string `yaml:"password" env:"GAVEL_DB_PASSWORD"`
	DBName   string `yaml:"dbname" env:"GAVEL_DB_NAME"`
	SSLMode  string `yaml:"sslmode"`
	Driver   string `yaml:"driver"` // "postgres" or "memory"
}

// DSN returns the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	OTLPEndpoint   string `yaml:"otlp_endpoint" env:"GAVEL_OTLP_ENDPOINT"`
	Insecure       bool   `yaml:"insecure"`
}

// SentryConfig holds error reporting settings. Reporting is disabled when
// DSN is empty.
type SentryConfig struct {
	DSN         string `yaml:"dsn" env:"GAVEL_SENTRY_DSN"`
	Environment string `yaml:"environment"`
}

// DiscordConfig holds the optional settlement announcer settings. The
// announcer is disabled unless both fields are set.
type DiscordConfig struct {
	Token     string `yaml:"token" env:"GAVEL_DISCORD_TOKEN"`
	ChannelID string `yaml:"channel_id"`
}

// Load reads a YAML configuration file from the given path and applies
// environment overrides on top.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
			HistoryTail:     20,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
			Driver:  "postgres",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "gaveld",
			ServiceVersion: "0.1.0",
		},
		Sentry: SentryConfig{
			Environment: "development",
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("applying env overrides: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
		// valid
	default:
		return fmt.Errorf("unsupported database driver %q: must be \"postgres\" or \"memory\"", c.Database.Driver)
	}
	if c.Server.HistoryTail < 0 {
		return fmt.Errorf("server.history_tail must not be negative")
	}
	return nil
}
