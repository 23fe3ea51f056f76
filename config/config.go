// Package config loads server configuration from an optional YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML can carry "60s"/"24h" literals.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the plain time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds everything the binary needs to wire the core.
type Config struct {
	// ListenAddr is the HTTP endpoint address.
	ListenAddr string `yaml:"listenAddr"`

	// DatabaseURL selects the backend; postgres://... or an SQLite DSN.
	DatabaseURL      string `yaml:"databaseUrl"`
	DatabaseUser     string `yaml:"databaseUser"`
	DatabasePassword string `yaml:"databasePassword"`

	TTLSweepInterval Duration `yaml:"ttlSweepInterval"`
	TTLBatchSize     int      `yaml:"ttlBatchSize"`

	StreamRetention       Duration `yaml:"streamRetention"`
	StreamPruneInterval   Duration `yaml:"streamPruneInterval"`
	DefaultStreamViewType string   `yaml:"defaultStreamViewType"`

	// RequestTimeout bounds each operation; zero disables the deadline.
	RequestTimeout Duration `yaml:"requestTimeout"`

	LogLevel string `yaml:"logLevel"`
}

// Load reads the YAML file at path (optional, may be empty) and applies
// environment overrides on top.
func Load(path string) (*Config, error) {
	cfg := &Config{
		ListenAddr:          ":8000",
		DatabaseURL:         ":memory:",
		TTLSweepInterval:    Duration(time.Minute),
		TTLBatchSize:        500,
		StreamRetention:     Duration(24 * time.Hour),
		StreamPruneInterval: Duration(time.Minute),
		LogLevel:            "info",
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.ListenAddr = getEnv("PRETENDER_LISTEN_ADDR", cfg.ListenAddr)
	cfg.DatabaseURL = getEnv("PRETENDER_DATABASE_URL", cfg.DatabaseURL)
	cfg.DatabaseUser = getEnv("PRETENDER_DATABASE_USER", cfg.DatabaseUser)
	cfg.DatabasePassword = getEnv("PRETENDER_DATABASE_PASSWORD", cfg.DatabasePassword)
	cfg.LogLevel = getEnv("PRETENDER_LOG_LEVEL", cfg.LogLevel)
	cfg.DefaultStreamViewType = getEnv("PRETENDER_DEFAULT_STREAM_VIEW_TYPE", cfg.DefaultStreamViewType)
	cfg.TTLSweepInterval = getEnvDuration("PRETENDER_TTL_SWEEP_INTERVAL", cfg.TTLSweepInterval)
	cfg.TTLBatchSize = getEnvInt("PRETENDER_TTL_BATCH_SIZE", cfg.TTLBatchSize)
	cfg.StreamRetention = getEnvDuration("PRETENDER_STREAM_RETENTION", cfg.StreamRetention)
	cfg.StreamPruneInterval = getEnvDuration("PRETENDER_STREAM_PRUNE_INTERVAL", cfg.StreamPruneInterval)
	cfg.RequestTimeout = getEnvDuration("PRETENDER_REQUEST_TIMEOUT", cfg.RequestTimeout)

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("databaseUrl is required")
	}
	if c.TTLBatchSize < 1 {
		return fmt.Errorf("ttlBatchSize must be positive")
	}
	if c.StreamRetention <= 0 {
		return fmt.Errorf("streamRetention must be positive")
	}
	return nil
}

// EffectiveDatabaseURL folds the separate user/password settings into the URL
// when the backend is PostgreSQL.
func (c *Config) EffectiveDatabaseURL() string {
	if c.DatabaseUser == "" {
		return c.DatabaseURL
	}
	u, err := url.Parse(c.DatabaseURL)
	if err != nil || u.Scheme == "" {
		return c.DatabaseURL
	}
	if c.DatabasePassword != "" {
		u.User = url.UserPassword(c.DatabaseUser, c.DatabasePassword)
	} else {
		u.User = url.User(c.DatabaseUser)
	}
	return u.String()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback Duration) Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return Duration(d)
		}
	}
	return fallback
}
