package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig        `mapstructure:"server"`
	Logging   LoggingConfig       `mapstructure:"logging"`
	Sandbox   SandboxConfig       `mapstructure:"sandbox"`
	Retry     RetryConfig         `mapstructure:"retry"`
	RateLimit RateLimitConfig     `mapstructure:"ratelimit"`
	Cache     CacheConfig         `mapstructure:"cache"`
	NATS      NATSConfig          `mapstructure:"nats"`
	Metrics   MetricsConfig       `mapstructure:"metrics"`
	Languages map[string]Language `mapstructure:"languages"`
}

// MaxCodeBytesLimit is the largest accepted sandbox.max_code_bytes. It leaves
// room for the wrapper template and shell quoting within one exec argument.
const MaxCodeBytesLimit = 96 * 1024

// ServerConfig holds server configuration
type ServerConfig struct {
	Host               string `mapstructure:"host"`
	Ports              []int  `mapstructure:"ports"`
	Transport          string `mapstructure:"transport"`
	ShutdownTimeoutSec int    `mapstructure:"shutdown_timeout_sec"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// SandboxConfig holds container pool configuration
type SandboxConfig struct {
	MaxPoolSize       int    `mapstructure:"max_pool_size"`
	MemoryLimitBytes  int64  `mapstructure:"memory_limit_bytes"`
	CPUPeriod         int64  `mapstructure:"cpu_period"`
	CPUQuota          int64  `mapstructure:"cpu_quota"`
	ExecTimeoutSec    int    `mapstructure:"exec_timeout_sec"`
	MonitorIntervalMs int    `mapstructure:"monitor_interval_ms"`
	WorkDir           string `mapstructure:"workdir"`
	ImagePrefix       string `mapstructure:"image_prefix"`
	NetworkDisabled   bool   `mapstructure:"network_disabled"`
	MaxCodeBytes      int    `mapstructure:"max_code_bytes"`
	MaxOutputBytes    int    `mapstructure:"max_output_bytes"`
}

// RetryConfig holds the backoff policy for transient runtime failures
type RetryConfig struct {
	MaxAttempts    int     `mapstructure:"max_attempts"`
	InitialDelayMs int     `mapstructure:"initial_delay_ms"`
	MaxDelayMs     int     `mapstructure:"max_delay_ms"`
	Multiplier     float64 `mapstructure:"multiplier"`
	Jitter         bool    `mapstructure:"jitter"`
}

// RateLimitConfig holds request admission configuration
type RateLimitConfig struct {
	Rate  int `mapstructure:"rate"`
	Burst int `mapstructure:"burst"`
}

// CacheConfig holds result cache configuration
type CacheConfig struct {
	Backend   string `mapstructure:"backend"`
	TTLSec    int    `mapstructure:"ttl_sec"`
	RedisURL  string `mapstructure:"redis_url"`
	BadgerDir string `mapstructure:"badger_dir"`
}

// NATSConfig holds the NATS bridge configuration
type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
	Queue   string `mapstructure:"queue"`
}

// MetricsConfig holds Prometheus configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Language holds per-language overrides
type Language struct {
	Image       string            `mapstructure:"image"`
	Environment map[string]string `mapstructure:"environment"`
}

// New loads .env, config.yaml and the environment, then validates the result
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	return load(v)
}

// Load reads the configuration from an explicit file path
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix("CODEPOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unprefixed names kept for compatibility with existing deployments
	bindings := map[string]string{
		"server.host":     "HOST",
		"server.ports":    "PORT",
		"cache.redis_url": "REDIS_URL",
		"nats.url":        "NATS_URL",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, "CODEPOOL_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("error binding %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.ports", []int{3001, 3002, 3003, 3004, 3005})
	v.SetDefault("server.transport", "http")
	v.SetDefault("server.shutdown_timeout_sec", 15)

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")

	v.SetDefault("sandbox.max_pool_size", 5)
	v.SetDefault("sandbox.memory_limit_bytes", 512*1024*1024)
	v.SetDefault("sandbox.cpu_period", 100000)
	v.SetDefault("sandbox.cpu_quota", 50000)
	v.SetDefault("sandbox.exec_timeout_sec", 10)
	v.SetDefault("sandbox.monitor_interval_ms", 1000)
	v.SetDefault("sandbox.workdir", "/workspace")
	v.SetDefault("sandbox.image_prefix", "compiler-")
	v.SetDefault("sandbox.network_disabled", true)
	v.SetDefault("sandbox.max_code_bytes", 64*1024)
	v.SetDefault("sandbox.max_output_bytes", 1024*1024)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_delay_ms", 100)
	v.SetDefault("retry.max_delay_ms", 2000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter", true)

	v.SetDefault("ratelimit.rate", 10)
	v.SetDefault("ratelimit.burst", 10)

	v.SetDefault("cache.backend", "redis")
	v.SetDefault("cache.ttl_sec", 3600)
	v.SetDefault("cache.redis_url", "redis://127.0.0.1:6379")
	v.SetDefault("cache.badger_dir", "")

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.subject", "compiler.execute.request")
	v.SetDefault("nats.queue", "codepool")

	v.SetDefault("metrics.enabled", true)
}

// validate ensures the configuration is valid
//
//nolint:gocyclo // flat list of independent checks
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Server.Transport == "http" && len(c.Server.Ports) == 0 {
		return fmt.Errorf("server.ports must list at least one port")
	}

	for _, port := range c.Server.Ports {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("invalid port in server.ports: %d", port)
		}
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error", "dpanic", "panic", "fatal":
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	if c.Sandbox.MaxPoolSize <= 0 {
		return fmt.Errorf("sandbox.max_pool_size must be positive, got: %d", c.Sandbox.MaxPoolSize)
	}

	if c.Sandbox.MemoryLimitBytes <= 0 {
		return fmt.Errorf("sandbox.memory_limit_bytes must be positive, got: %d", c.Sandbox.MemoryLimitBytes)
	}

	if c.Sandbox.CPUPeriod <= 0 || c.Sandbox.CPUQuota <= 0 {
		return fmt.Errorf("sandbox.cpu_period and sandbox.cpu_quota must be positive, got: %d/%d",
			c.Sandbox.CPUPeriod, c.Sandbox.CPUQuota)
	}

	if c.Sandbox.ExecTimeoutSec <= 0 {
		return fmt.Errorf("sandbox.exec_timeout_sec must be positive, got: %d", c.Sandbox.ExecTimeoutSec)
	}

	if c.Sandbox.MonitorIntervalMs <= 0 {
		return fmt.Errorf("sandbox.monitor_interval_ms must be positive, got: %d", c.Sandbox.MonitorIntervalMs)
	}

	if !strings.HasPrefix(c.Sandbox.WorkDir, "/") {
		return fmt.Errorf("sandbox.workdir must be an absolute path, got: %q", c.Sandbox.WorkDir)
	}

	// The source travels as a single exec argument, which Linux caps at 128KiB
	if c.Sandbox.MaxCodeBytes <= 0 || c.Sandbox.MaxCodeBytes > MaxCodeBytesLimit {
		return fmt.Errorf("sandbox.max_code_bytes must be between 1 and %d, got: %d", MaxCodeBytesLimit, c.Sandbox.MaxCodeBytes)
	}

	if c.Sandbox.MaxOutputBytes <= 0 {
		return fmt.Errorf("sandbox.max_output_bytes must be positive, got: %d", c.Sandbox.MaxOutputBytes)
	}

	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive, got: %d", c.Retry.MaxAttempts)
	}

	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be at least 1, got: %g", c.Retry.Multiplier)
	}

	if c.RateLimit.Rate <= 0 {
		return fmt.Errorf("ratelimit.rate must be positive, got: %d", c.RateLimit.Rate)
	}

	switch c.Cache.Backend {
	case "redis":
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("cache.redis_url is required for the redis backend")
		}
	case "badger", "none":
	default:
		return fmt.Errorf("unsupported cache.backend: %s", c.Cache.Backend)
	}

	if c.Cache.Backend != "none" && c.Cache.TTLSec <= 0 {
		return fmt.Errorf("cache.ttl_sec must be positive, got: %d", c.Cache.TTLSec)
	}

	if c.NATS.Enabled && (c.NATS.URL == "" || c.NATS.Subject == "") {
		return fmt.Errorf("nats.url and nats.subject are required when nats.enabled is set")
	}

	return nil
}

// GetExecTimeout returns the per-attempt execution timeout
func (c *Config) GetExecTimeout() time.Duration {
	return time.Duration(c.Sandbox.ExecTimeoutSec) * time.Second
}

// GetMonitorInterval returns the resource monitor polling interval
func (c *Config) GetMonitorInterval() time.Duration {
	return time.Duration(c.Sandbox.MonitorIntervalMs) * time.Millisecond
}

// GetCacheTTL returns the result cache entry lifetime
func (c *Config) GetCacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSec) * time.Second
}

// GetShutdownTimeout returns how long shutdown may take
func (c *Config) GetShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSec) * time.Second
}
