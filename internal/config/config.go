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
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Portal      PortalConfig      `mapstructure:"portal"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	RateLimit   RateLimitConfig   `mapstructure:"ratelimit"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Sms         SmsConfig         `mapstructure:"sms"`
	Screenshots ScreenshotsConfig `mapstructure:"screenshots"`
	Audit       AuditConfig       `mapstructure:"audit"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int `mapstructure:"port"`
	TimeoutSeconds  int `mapstructure:"timeout_seconds"`
	ShutdownSeconds int `mapstructure:"shutdown_seconds"`
}

// AuthConfig defines webhook authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// PortalConfig identifies and authenticates against the permit portal.
type PortalConfig struct {
	LoginURL           string `mapstructure:"login_url"`
	ListingURL         string `mapstructure:"listing_url"`
	Username           string `mapstructure:"username"`
	Password           string `mapstructure:"password"`
	UserAgent          string `mapstructure:"user_agent"`
	NavTimeoutSec      int    `mapstructure:"nav_timeout_seconds"`
	ProbeTimeoutSec    int    `mapstructure:"probe_timeout_seconds"`
	LoginAttempts      int    `mapstructure:"login_attempts"`
	PreflightIntervalS int    `mapstructure:"preflight_interval_seconds"`
}

// WorkerConfig governs the job pool and retry behavior.
type WorkerConfig struct {
	Concurrency       int `mapstructure:"concurrency"`
	MaxAttempts       int `mapstructure:"max_attempts"`
	JobTimeoutSeconds int `mapstructure:"job_timeout_seconds"`
	ListLimit         int `mapstructure:"list_limit"`
	QueueDepth        int `mapstructure:"queue_depth"`
}

// RateLimitConfig bounds per-sender command volume.
type RateLimitConfig struct {
	HourlyQuota   int    `mapstructure:"hourly_quota"`
	WindowSeconds int    `mapstructure:"window_seconds"`
	RedisAddr     string `mapstructure:"redis_addr"`
	KeyPrefix     string `mapstructure:"key_prefix"`
}

// QueueConfig selects the job queue backend.
type QueueConfig struct {
	// Provider is "memory" or "pubsub".
	Provider     string `mapstructure:"provider"`
	ProjectID    string `mapstructure:"project_id"`
	TopicName    string `mapstructure:"topic_name"`
	Subscription string `mapstructure:"subscription"`
}

// SmsConfig selects the outbound SMS provider.
type SmsConfig struct {
	// Provider is "log" or "webhook".
	Provider       string `mapstructure:"provider"`
	WebhookURL     string `mapstructure:"webhook_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ScreenshotsConfig selects where failure screenshots are persisted.
type ScreenshotsConfig struct {
	// Provider is "local" or "gcs".
	Provider  string `mapstructure:"provider"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// AuditConfig controls the optional job transition log.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
	Table   string `mapstructure:"table"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PERMITBOT")
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
	v.SetDefault("server.timeout_seconds", 30)
	v.SetDefault("server.shutdown_seconds", 30)
	v.SetDefault("portal.user_agent", "permitbot/0.1")
	v.SetDefault("portal.nav_timeout_seconds", 25)
	v.SetDefault("portal.probe_timeout_seconds", 2)
	v.SetDefault("portal.login_attempts", 2)
	v.SetDefault("portal.preflight_interval_seconds", 60)
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("worker.job_timeout_seconds", 120)
	v.SetDefault("worker.list_limit", 5)
	v.SetDefault("worker.queue_depth", 64)
	v.SetDefault("ratelimit.hourly_quota", 10)
	v.SetDefault("ratelimit.window_seconds", 3600)
	v.SetDefault("ratelimit.redis_addr", "localhost:6379")
	v.SetDefault("ratelimit.key_prefix", "quota")
	v.SetDefault("queue.provider", "memory")
	v.SetDefault("sms.provider", "log")
	v.SetDefault("sms.timeout_seconds", 10)
	v.SetDefault("screenshots.provider", "local")
	v.SetDefault("screenshots.local_dir", "screenshots")
	v.SetDefault("screenshots.prefix", "failures")
	v.SetDefault("audit.table", "job_transitions")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Portal.LoginURL == "" {
		return fmt.Errorf("portal.login_url must be set")
	}
	if c.Portal.ListingURL == "" {
		return fmt.Errorf("portal.listing_url must be set")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("worker.max_attempts must be > 0")
	}
	if c.RateLimit.HourlyQuota <= 0 {
		return fmt.Errorf("ratelimit.hourly_quota must be > 0")
	}
	switch c.Queue.Provider {
	case "memory":
	case "pubsub":
		if c.Queue.ProjectID == "" || c.Queue.TopicName == "" || c.Queue.Subscription == "" {
			return fmt.Errorf("queue.project_id, queue.topic_name and queue.subscription must be set for the pubsub provider")
		}
	default:
		return fmt.Errorf("queue.provider must be memory or pubsub")
	}
	switch c.Sms.Provider {
	case "log":
	case "webhook":
		if c.Sms.WebhookURL == "" {
			return fmt.Errorf("sms.webhook_url must be set for the webhook provider")
		}
	default:
		return fmt.Errorf("sms.provider must be log or webhook")
	}
	switch c.Screenshots.Provider {
	case "local":
	case "gcs":
		if c.Screenshots.GCSBucket == "" {
			return fmt.Errorf("screenshots.gcs_bucket must be set for the gcs provider")
		}
	default:
		return fmt.Errorf("screenshots.provider must be local or gcs")
	}
	if c.Audit.Enabled && c.Audit.DSN == "" {
		return fmt.Errorf("audit.dsn must be set when audit is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// ServerTimeout converts the request timeout to a duration.
func (c Config) ServerTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}

// ShutdownTimeout converts the drain budget to a duration.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownSeconds) * time.Second
}

// JobTimeout converts the per-job budget to a duration.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.Worker.JobTimeoutSeconds) * time.Second
}

// RateLimitWindow converts the quota window to a duration.
func (c Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowSeconds) * time.Second
}
