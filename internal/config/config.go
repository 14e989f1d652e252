// Package config loads the service configuration from YAML with .env and
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/JAKOBGTAG/multi-email-sender/internal/domain"
	"github.com/JAKOBGTAG/multi-email-sender/internal/esp"
	"github.com/JAKOBGTAG/multi-email-sender/internal/ratelimit"
	"github.com/JAKOBGTAG/multi-email-sender/internal/retry"
	"github.com/JAKOBGTAG/multi-email-sender/internal/service/dispatch"
	"github.com/JAKOBGTAG/multi-email-sender/internal/storage"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig   `yaml:"server"`
	Dispatch  DispatchConfig `yaml:"dispatch"`
	Transport esp.Config     `yaml:"transport"`
	Redis     RedisConfig    `yaml:"redis"`
	Database  DatabaseConfig `yaml:"database"`
	Snapshot  storage.Config `yaml:"snapshot"`
	Lock      LockConfig     `yaml:"lock"`
	Logging   LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port              int      `yaml:"port"`
	Host              string   `yaml:"host"`
	AllowedOrigins    []string `yaml:"allowed_origins"`
	ShutdownTimeoutMs int      `yaml:"shutdown_timeout_ms"`
	ResultBuffer      int      `yaml:"result_buffer"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr is the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// ShutdownTimeout bounds graceful shutdown.
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutMs) * time.Millisecond
}

// DispatchConfig holds the sending limits and retry behavior. A missing
// daily_limit defaults to 100; a negative one disables the quota.
type DispatchConfig struct {
	DailyLimit           int             `yaml:"daily_limit"`
	DelayBetweenEmailsMs *int            `yaml:"delay_between_emails_ms"`
	TimeoutMs            *int            `yaml:"timeout_ms"`
	SpendBurst           bool            `yaml:"spend_burst"`
	RetryPreset          string          `yaml:"retry_preset"`
	Retry                retry.Config    `yaml:"retry"`
	RateLimit            RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig configures the limiter. Store "redis" shares the window
// across processes through the redis section.
type RateLimitConfig struct {
	Enabled         *bool              `yaml:"enabled"`
	MaxPerMinute    int                `yaml:"max_per_minute"`
	MaxPerHour      int                `yaml:"max_per_hour"`
	Strategy        ratelimit.Strategy `yaml:"strategy"`
	BurstLimit      int                `yaml:"burst_limit"`
	BurstCooldownMs int                `yaml:"burst_cooldown_ms"`
	Store           string             `yaml:"store"`
	Name            string             `yaml:"name"`
}

// RedisConfig holds the optional Redis connection.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// DatabaseConfig holds the optional Postgres connection.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// LockConfig configures the distributed batch lock.
type LockConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Key       string `yaml:"key"`
	TTLMs     int    `yaml:"ttl_ms"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// TTL is the lock expiry.
func (c LockConfig) TTL() time.Duration { return time.Duration(c.TTLMs) * time.Millisecond }

// Timeout bounds the wait for the lock.
func (c LockConfig) Timeout() time.Duration { return time.Duration(c.TimeoutMs) * time.Millisecond }

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Redact reports whether PII redaction is on. It defaults to true.
func (c LoggingConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// RetryConfig resolves the preset and overrides into a retry config.
func (c DispatchConfig) RetryConfig() (retry.Config, error) {
	base, _ := retry.Preset(retry.PresetDefault)
	if c.RetryPreset != "" {
		p, ok := retry.Preset(c.RetryPreset)
		if !ok {
			return retry.Config{}, fmt.Errorf("unknown retry preset: %s", c.RetryPreset)
		}
		base = p
	}
	override := c.Retry
	if override.BaseDelay <= 0 && override.BaseDelayMs > 0 {
		override.BaseDelay = time.Duration(override.BaseDelayMs) * time.Millisecond
	}
	if override.MaxDelay <= 0 && override.MaxDelayMs > 0 {
		override.MaxDelay = time.Duration(override.MaxDelayMs) * time.Millisecond
	}
	return retry.Merge(base, override), nil
}

// LimiterConfig converts the rate_limit section.
func (c RateLimitConfig) LimiterConfig() ratelimit.Config {
	out := ratelimit.DefaultConfig()
	if c.Enabled != nil {
		out.Enabled = *c.Enabled
	}
	if c.MaxPerMinute != 0 {
		out.MaxPerMinute = c.MaxPerMinute
	}
	if c.MaxPerHour != 0 {
		out.MaxPerHour = c.MaxPerHour
	}
	if c.Strategy != "" {
		out.Strategy = c.Strategy
	}
	out.BurstLimit = c.BurstLimit
	out.BurstCooldown = time.Duration(c.BurstCooldownMs) * time.Millisecond
	return out
}

// ServiceConfig builds the dispatch service configuration.
func (c *Config) ServiceConfig() (dispatch.Config, error) {
	out := dispatch.DefaultConfig()
	out.DailyLimit = c.Dispatch.DailyLimit
	if c.Dispatch.DelayBetweenEmailsMs != nil {
		out.DelayBetweenEmails = time.Duration(*c.Dispatch.DelayBetweenEmailsMs) * time.Millisecond
	}
	if c.Dispatch.TimeoutMs != nil {
		out.Timeout = time.Duration(*c.Dispatch.TimeoutMs) * time.Millisecond
	}
	out.SpendBurst = c.Dispatch.SpendBurst
	out.RateLimit = c.Dispatch.RateLimit.LimiterConfig()
	out.LockTimeout = c.Lock.Timeout()

	rc, err := c.Dispatch.RetryConfig()
	if err != nil {
		return dispatch.Config{}, err
	}
	out.Retry = rc
	return out, nil
}

// Load reads the YAML file at path and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with only defaults applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.ShutdownTimeoutMs == 0 {
		cfg.Server.ShutdownTimeoutMs = 15000
	}
	if cfg.Server.ResultBuffer == 0 {
		cfg.Server.ResultBuffer = 500
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"*"}
	}
	if cfg.Dispatch.DailyLimit == 0 {
		cfg.Dispatch.DailyLimit = 100
	}
	if cfg.Dispatch.RateLimit.Store == "" {
		cfg.Dispatch.RateLimit.Store = "memory"
	}
	if cfg.Dispatch.RateLimit.Name == "" {
		cfg.Dispatch.RateLimit.Name = "default"
	}
	if cfg.Transport.Type == "" {
		cfg.Transport.Type = domain.ESPLog
	}
	if cfg.Transport.SES.Region == "" {
		cfg.Transport.SES.Region = "us-east-1"
	}
	if cfg.Transport.SparkPost.TimeoutMs == 0 {
		cfg.Transport.SparkPost.TimeoutMs = 30000
	}
	if cfg.Transport.SMTP.Port == 0 {
		cfg.Transport.SMTP.Port = 587
	}
	if cfg.Snapshot.Type == "" {
		cfg.Snapshot.Type = "none"
	}
	if cfg.Lock.Key == "" {
		cfg.Lock.Key = "dispatch:batch"
	}
	if cfg.Lock.TTLMs == 0 {
		cfg.Lock.TTLMs = 10 * 60 * 1000
	}
	if cfg.Lock.TimeoutMs == 0 {
		cfg.Lock.TimeoutMs = 30000
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file in the working directory is read first when present. An empty
// path skips the YAML file and starts from defaults.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (ignore errors)
	_ = godotenv.Load()

	var cfg *Config
	if path == "" {
		cfg = Default()
	} else {
		var err error
		cfg, err = Load(path)
		if err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (cfg *Config) applyEnv() {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("DAILY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Dispatch.DailyLimit = n
		}
	}
	if v := os.Getenv("TRANSPORT_TYPE"); v != "" {
		cfg.Transport.Type = domain.ESPType(v)
	}
	if v := os.Getenv("SPARKPOST_API_KEY"); v != "" {
		cfg.Transport.SparkPost.APIKey = v
	}
	if v := os.Getenv("SPARKPOST_BASE_URL"); v != "" {
		cfg.Transport.SparkPost.BaseURL = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.Transport.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.Transport.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.Transport.SES.Region = v
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Transport.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Transport.SMTP.Port = p
		}
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		cfg.Transport.SMTP.Username = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		cfg.Transport.SMTP.Password = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
