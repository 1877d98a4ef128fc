// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Harvest HarvestConfig `mapstructure:"harvest"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Store   StoreConfig   `mapstructure:"store"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// HarvestConfig governs the fetch and reconcile pipeline.
type HarvestConfig struct {
	PageCount       int     `mapstructure:"page_count"`
	FirstPageCutoff int     `mapstructure:"first_page_cutoff"`
	Concurrency     int     `mapstructure:"concurrency"`
	RetryLimit      int     `mapstructure:"retry_limit"`
	BackoffBaseMs   int     `mapstructure:"backoff_base_ms"`
	RateLimitRPS    float64 `mapstructure:"rate_limit_rps"`
	IntervalMinutes int     `mapstructure:"interval_minutes"`
}

// HTTPConfig configures the outbound HTTP client.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
}

// StoreConfig selects and configures the snapshot ledger backend.
type StoreConfig struct {
	Provider string         `mapstructure:"provider"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// SQLiteConfig sets the embedded database location.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// PostgresConfig controls access to the relational database.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// NotifyConfig selects the run-event publisher.
type NotifyConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HNWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("harvest.page_count", 10)
	v.SetDefault("harvest.first_page_cutoff", 30)
	v.SetDefault("harvest.concurrency", 4)
	v.SetDefault("harvest.retry_limit", 3)
	v.SetDefault("harvest.backoff_base_ms", 250)
	v.SetDefault("harvest.rate_limit_rps", 1.0)
	v.SetDefault("harvest.interval_minutes", 10)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.user_agent", "hnwatch/0.1")
	v.SetDefault("store.provider", "sqlite")
	v.SetDefault("store.sqlite.path", "hnwatch.db")
	v.SetDefault("notify.provider", "noop")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Harvest.PageCount <= 0 {
		return fmt.Errorf("harvest.page_count must be > 0")
	}
	if c.Harvest.FirstPageCutoff <= 0 {
		return fmt.Errorf("harvest.first_page_cutoff must be > 0")
	}
	if c.Harvest.Concurrency <= 0 {
		return fmt.Errorf("harvest.concurrency must be > 0")
	}
	if c.Harvest.IntervalMinutes <= 0 {
		return fmt.Errorf("harvest.interval_minutes must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	switch c.Store.Provider {
	case "sqlite":
		if c.Store.SQLite.Path == "" {
			return fmt.Errorf("store.sqlite.path must be set")
		}
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn must be set")
		}
	default:
		return fmt.Errorf("store.provider must be sqlite or postgres")
	}
	switch c.Notify.Provider {
	case "noop", "memory":
	case "pubsub":
		if c.Notify.ProjectID == "" || c.Notify.TopicName == "" {
			return fmt.Errorf("notify.project_id and notify.topic_name must be set for pubsub")
		}
	default:
		return fmt.Errorf("notify.provider must be noop, memory, or pubsub")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// HarvestInterval returns the scheduler period as a duration.
func (c Config) HarvestInterval() time.Duration {
	return time.Duration(c.Harvest.IntervalMinutes) * time.Minute
}

// RequestTimeout returns the API request budget as a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}

// HTTPTimeout returns the outbound fetch budget as a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// BackoffBase returns the initial retry delay as a duration.
func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.Harvest.BackoffBaseMs) * time.Millisecond
}
