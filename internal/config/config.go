// Package config loads engine configuration from YAML with .env and
// environment variable overrides.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ignite/omnichannel-engine/internal/capping"
)

// Config holds all configuration for the engine.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	SES      SESConfig      `yaml:"ses"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Journeys JourneyConfig  `yaml:"journeys"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Cleanup  CleanupConfig  `yaml:"cleanup"`
	Capping  CappingConfig  `yaml:"capping"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds the optional Postgres connection. Empty URL disables
// journey persistence.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig holds the optional Redis connection. Empty URL falls back to
// in-memory send history (single process only).
type RedisConfig struct {
	URL            string `yaml:"url"`
	RetentionHours int    `yaml:"retention_hours"`
}

// SESConfig holds AWS SES email gateway credentials. Disabled unless both
// keys are set; deliveries then log instead of sending.
type SESConfig struct {
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	FromEmail string `yaml:"from_email"`
	FromName  string `yaml:"from_name"`
}

// Enabled reports whether SES credentials are configured.
func (c SESConfig) Enabled() bool {
	return c.AccessKey != "" && c.SecretKey != ""
}

// WebhookConfig holds the push/web delivery endpoint.
type WebhookConfig struct {
	Endpoint   string `yaml:"endpoint"`
	MaxRetries int    `yaml:"max_retries"`
}

// JourneyConfig holds executor tuning.
type JourneyConfig struct {
	TickMillis       int `yaml:"tick_millis"`
	DeferMinutes     int `yaml:"defer_minutes"`
	LockTTLSeconds   int `yaml:"lock_ttl_seconds"`
	DistributedLocks bool `yaml:"distributed_locks"`
}

// Tick returns the scheduler tick interval.
func (c JourneyConfig) Tick() time.Duration {
	return time.Duration(c.TickMillis) * time.Millisecond
}

// DeferInterval returns the retry delay for deferred steps.
func (c JourneyConfig) DeferInterval() time.Duration {
	return time.Duration(c.DeferMinutes) * time.Minute
}

// LockTTL returns the distributed lock TTL.
func (c JourneyConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// RealtimeConfig holds the refresh interval for recommendation re-ranking.
type RealtimeConfig struct {
	RefreshMillis int `yaml:"refresh_millis"`
}

// Refresh returns the refresh interval.
func (c RealtimeConfig) Refresh() time.Duration {
	return time.Duration(c.RefreshMillis) * time.Millisecond
}

// CleanupConfig holds the stale-data cleanup loop settings.
type CleanupConfig struct {
	IntervalMinutes int `yaml:"interval_minutes"`
	StaleAfterDays  int `yaml:"stale_after_days"`
}

// Interval returns the cleanup tick interval.
func (c CleanupConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// StaleAfter returns the retention horizon for unconverted records.
func (c CleanupConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterDays) * 24 * time.Hour
}

// CappingConfig holds the frequency capping rule set.
type CappingConfig struct {
	RuleSpecs []CappingRule `yaml:"rules"`
}

// CappingRule is the YAML form of a capping rule; windows are hours.
type CappingRule struct {
	ID           string             `yaml:"id"`
	Name         string             `yaml:"name"`
	Scope        string             `yaml:"scope"`
	WindowHours  int                `yaml:"window_hours"`
	MaxExposures int                `yaml:"max_exposures"`
	Channels     []string           `yaml:"channels"`
	Priority     int                `yaml:"priority"`
	Exceptions   []capping.Exception `yaml:"exceptions"`
}

// Rules converts the YAML rules to engine rules.
func (c CappingConfig) Rules() []capping.Rule {
	out := make([]capping.Rule, 0, len(c.RuleSpecs))
	for _, r := range c.RuleSpecs {
		out = append(out, capping.Rule{
			ID:           r.ID,
			Name:         r.Name,
			Scope:        r.Scope,
			Window:       time.Duration(r.WindowHours) * time.Hour,
			MaxExposures: r.MaxExposures,
			Channels:     r.Channels,
			Priority:     r.Priority,
			Exceptions:   r.Exceptions,
		})
	}
	return out
}

// Load reads and parses the configuration file. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Redis.RetentionHours == 0 {
		cfg.Redis.RetentionHours = 7 * 24
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-west-2"
	}
	if cfg.Webhook.MaxRetries == 0 {
		cfg.Webhook.MaxRetries = 3
	}
	if cfg.Journeys.TickMillis == 0 {
		cfg.Journeys.TickMillis = 100
	}
	if cfg.Journeys.DeferMinutes == 0 {
		cfg.Journeys.DeferMinutes = 15
	}
	if cfg.Journeys.LockTTLSeconds == 0 {
		cfg.Journeys.LockTTLSeconds = 30
	}
	if cfg.Realtime.RefreshMillis == 0 {
		cfg.Realtime.RefreshMillis = 500
	}
	if cfg.Cleanup.IntervalMinutes == 0 {
		cfg.Cleanup.IntervalMinutes = 60
	}
	if cfg.Cleanup.StaleAfterDays == 0 {
		cfg.Cleanup.StaleAfterDays = 30
	}
	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides. A
// .env file (if present) is loaded first, so secrets can live in .env
// locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("SES_FROM_EMAIL"); v != "" {
		cfg.SES.FromEmail = v
	}
	if v := os.Getenv("WEBHOOK_ENDPOINT"); v != "" {
		cfg.Webhook.Endpoint = v
	}
	return cfg, nil
}
