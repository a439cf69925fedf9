package common

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all client configuration
type Config struct {
	API     APIConfig
	Retry   RetryConfig
	Cache   CacheConfig
	Log     LogConfig
	Auth    AuthConfig
	Metrics MetricsConfig
}

// APIConfig describes the remote back-office API.
type APIConfig struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	RateLimit float64 // requests per second, 0 = unlimited
	RateBurst int
	Locale    string // used for fallback error messages
}

// RetryConfig holds exponential backoff settings for 5xx responses.
type RetryConfig struct {
	MaxRetries    int
	BaseDelay     time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
}

// Policy converts the configuration to a RetryPolicy.
func (r RetryConfig) Policy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    r.MaxRetries,
		BaseDelay:     r.BaseDelay,
		BackoffFactor: r.BackoffFactor,
		MaxDelay:      r.MaxDelay,
	}
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	Capacity   int
	DefaultTTL time.Duration
}

// AuthConfig holds auth endpoints and credential storage settings.
type AuthConfig struct {
	LoginPath     string
	LogoutPath    string
	RefreshPath   string
	MePath        string
	Store         string // memory or redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
}

type MetricsConfig struct {
	Enabled   bool
	Namespace string
}

// LoadConfig reads configuration from an optional file and environment variables.
// Priority (highest to lowest):
// 1. Environment variables with BACKOFFICE_ prefix (e.g., BACKOFFICE_API_BASE_URL)
// 2. the config file at path, when path is not empty
// 3. Built-in defaults
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("BACKOFFICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		API: APIConfig{
			BaseURL:   strings.TrimRight(v.GetString("api.base_url"), "/"),
			Timeout:   v.GetDuration("api.timeout"),
			UserAgent: v.GetString("api.user_agent"),
			RateLimit: v.GetFloat64("api.rate_limit"),
			RateBurst: v.GetInt("api.rate_burst"),
			Locale:    v.GetString("api.locale"),
		},
		Retry: RetryConfig{
			MaxRetries:    v.GetInt("retry.max_retries"),
			BaseDelay:     v.GetDuration("retry.base_delay"),
			BackoffFactor: v.GetFloat64("retry.backoff_factor"),
			MaxDelay:      v.GetDuration("retry.max_delay"),
		},
		Cache: CacheConfig{
			Capacity:   v.GetInt("cache.capacity"),
			DefaultTTL: v.GetDuration("cache.default_ttl"),
		},
		Log: LogConfig{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Output:     v.GetString("log.output"),
			TimeFormat: v.GetString("log.time_format"),
			BufferSize: v.GetInt("log.buffer_size"),
		},
		Auth: AuthConfig{
			LoginPath:     v.GetString("auth.login_path"),
			LogoutPath:    v.GetString("auth.logout_path"),
			RefreshPath:   v.GetString("auth.refresh_path"),
			MePath:        v.GetString("auth.me_path"),
			Store:         v.GetString("auth.store"),
			RedisAddr:     v.GetString("auth.redis_addr"),
			RedisPassword: v.GetString("auth.redis_password"),
			RedisDB:       v.GetInt("auth.redis_db"),
			KeyPrefix:     v.GetString("auth.key_prefix"),
		},
		Metrics: MetricsConfig{
			Enabled:   v.GetBool("metrics.enabled"),
			Namespace: v.GetString("metrics.namespace"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	logDefaults := DefaultLogConfig()

	v.SetDefault("api.base_url", "http://localhost:8080/api")
	v.SetDefault("api.timeout", DefaultHTTPTimeout)
	v.SetDefault("api.user_agent", DefaultUserAgent)
	v.SetDefault("api.rate_limit", 0)
	v.SetDefault("api.rate_burst", 10)
	v.SetDefault("api.locale", "en")

	v.SetDefault("retry.max_retries", DefaultMaxRetries)
	v.SetDefault("retry.base_delay", DefaultBaseDelay)
	v.SetDefault("retry.backoff_factor", DefaultBackoffFactor)
	v.SetDefault("retry.max_delay", DefaultMaxDelay)

	v.SetDefault("cache.capacity", DefaultCacheCapacity)
	v.SetDefault("cache.default_ttl", DefaultCacheTTL)

	v.SetDefault("log.level", logDefaults.Level)
	v.SetDefault("log.format", logDefaults.Format)
	v.SetDefault("log.output", logDefaults.Output)
	v.SetDefault("log.time_format", logDefaults.TimeFormat)
	v.SetDefault("log.buffer_size", logDefaults.BufferSize)

	v.SetDefault("auth.login_path", "/auth/login")
	v.SetDefault("auth.logout_path", "/auth/logout")
	v.SetDefault("auth.refresh_path", "/auth/refresh")
	v.SetDefault("auth.me_path", "/auth/me")
	v.SetDefault("auth.store", "memory")
	v.SetDefault("auth.redis_addr", "localhost:6379")
	v.SetDefault("auth.redis_password", "")
	v.SetDefault("auth.redis_db", 0)
	v.SetDefault("auth.key_prefix", defaultCredentialKeyPrefix)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.namespace", "backoffice")
}

func (c *Config) validate() error {
	var errs []error

	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("api.base_url must be an absolute URL, got %q", c.API.BaseURL))
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("retry.max_retries must not be negative"))
	}
	if c.Retry.BackoffFactor < 1 {
		errs = append(errs, errors.New("retry.backoff_factor must be at least 1"))
	}
	if c.Cache.Capacity <= 0 {
		errs = append(errs, errors.New("cache.capacity must be positive"))
	}
	if c.Log.BufferSize <= 0 {
		errs = append(errs, errors.New("log.buffer_size must be positive"))
	}
	switch c.Auth.Store {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("auth.store must be memory or redis, got %q", c.Auth.Store))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
