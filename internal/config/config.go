// Package config handles configuration loading and validation for fastmine.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for fastmine's ambient and domain stack.
type Config struct {
	Client    ClientConfig    `mapstructure:"client"`
	Mining    MiningConfig    `mapstructure:"mining"`
	Cache     CacheConfig     `mapstructure:"cache"`
	API       APIConfig       `mapstructure:"api"`
	Security  SecurityConfig  `mapstructure:"security"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Profiling ProfilingConfig `mapstructure:"profiling"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Log       LogConfig       `mapstructure:"log"`
}

// ClientConfig defines the DUCO-style pool-dispatcher client settings.
type ClientConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	PoolURL     string        `mapstructure:"pool_url"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	BackoffMin  time.Duration `mapstructure:"backoff_min"`
	BackoffMax  time.Duration `mapstructure:"backoff_max"`
}

// MiningConfig defines the core inversion driver's parameters.
type MiningConfig struct {
	Seed        uint64 `mapstructure:"seed"`
	NumericOnly bool   `mapstructure:"numeric_only"`
}

// CacheConfig defines Redis connection settings for the result cache.
type CacheConfig struct {
	URL      string        `mapstructure:"url"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// APIConfig defines the HTTP solve-API server settings.
type APIConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Bind        string        `mapstructure:"bind"`
	StatsCache  time.Duration `mapstructure:"stats_cache"`
	CORSOrigins []string      `mapstructure:"cors_origins"`
}

// SecurityConfig defines the IP rate-limiter/policy settings.
type SecurityConfig struct {
	MaxConnectionsPerIP int           `mapstructure:"max_connections_per_ip"`
	BanThreshold        int           `mapstructure:"ban_threshold"`
	BanDuration         time.Duration `mapstructure:"ban_duration"`
	ScoreResetInterval  time.Duration `mapstructure:"score_reset_interval"`
	RateLimitRequests   int           `mapstructure:"rate_limit_requests"`
}

// TelemetryConfig defines the New Relic APM agent settings.
type TelemetryConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	AppName    string `mapstructure:"app_name"`
	LicenseKey string `mapstructure:"license_key"`
}

// ProfilingConfig defines the pprof debug server settings.
type ProfilingConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Bind    string `mapstructure:"bind"`
}

// NotifyConfig defines the Discord/Telegram webhook notifier settings.
type NotifyConfig struct {
	DiscordWebhook string `mapstructure:"discord_webhook"`
	TelegramToken  string `mapstructure:"telegram_token"`
	TelegramChatID string `mapstructure:"telegram_chat_id"`
}

// LogConfig defines logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// Load reads configuration from file and environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/fastmine")
	}

	// Read environment variables
	v.SetEnvPrefix("FASTMINE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Client defaults
	v.SetDefault("client.enabled", true)
	v.SetDefault("client.dial_timeout", "10s")
	v.SetDefault("client.backoff_min", "1s")
	v.SetDefault("client.backoff_max", "60s")

	// Mining defaults
	v.SetDefault("mining.seed", 2811)
	v.SetDefault("mining.numeric_only", true)

	// Cache defaults
	v.SetDefault("cache.url", "127.0.0.1:6379")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", "10m")

	// API defaults
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.bind", "0.0.0.0:8080")
	v.SetDefault("api.stats_cache", "10s")
	v.SetDefault("api.cors_origins", []string{"*"})

	// Security defaults
	v.SetDefault("security.max_connections_per_ip", 100)
	v.SetDefault("security.ban_threshold", 30)
	v.SetDefault("security.ban_duration", "1h")
	v.SetDefault("security.score_reset_interval", "10m")
	v.SetDefault("security.rate_limit_requests", 100)

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.app_name", "fastmine")

	// Profiling defaults
	v.SetDefault("profiling.enabled", false)
	v.SetDefault("profiling.bind", "127.0.0.1:6060")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.Client.Enabled && c.Client.PoolURL == "" {
		return fmt.Errorf("client.pool_url is required when client is enabled")
	}

	if c.Mining.Seed == 0 {
		return fmt.Errorf("mining.seed must be non-zero")
	}

	if c.API.Enabled && c.API.Bind == "" {
		return fmt.Errorf("api.bind is required when api is enabled")
	}

	if c.Security.BanThreshold <= 0 {
		return fmt.Errorf("security.ban_threshold must be positive")
	}

	if c.Security.MaxConnectionsPerIP <= 0 {
		return fmt.Errorf("security.max_connections_per_ip must be positive")
	}

	if c.Telemetry.Enabled && c.Telemetry.AppName == "" {
		return fmt.Errorf("telemetry.app_name is required when telemetry is enabled")
	}

	if c.Profiling.Enabled && c.Profiling.Bind == "" {
		return fmt.Errorf("profiling.bind is required when profiling is enabled")
	}

	return nil
}

// IsClientMode returns true if the pool-dispatcher client is the active role.
func (c *Config) IsClientMode() bool {
	return c.Client.Enabled
}

// IsAPIMode returns true if the HTTP solve API is the active role.
func (c *Config) IsAPIMode() bool {
	return c.API.Enabled
}
