// Package config provides configuration management for Portage. Settings are
// read from an optional YAML file, overridden by PORTAGE_* environment
// variables, and validated before the server starts.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Server defaults.
const (
	DefaultAddr           = ":7777"
	DefaultBaseURL        = "http://localhost:7777"
	DefaultRequestTimeout = 100 * time.Second
)

// Auth defaults.
const (
	DefaultAuthMode    = "static"
	DefaultAuthTimeout = 10 * time.Second
)

// Rate limit defaults.
const (
	DefaultRateLimitEnabled = false
	DefaultRateLimitLimit   = 3600
	DefaultRateLimitWindow  = time.Hour
	DefaultRateLimitStore   = "memory"
	DefaultRedisAddr        = "localhost:6379"
)

// Transfer defaults.
const (
	DefaultChunkSize         = 64 * 1024
	DefaultInactivityTimeout = 10 * time.Minute
)

// Notify defaults.
const DefaultNotifyTimeout = 5 * time.Second

// Logging defaults.
const (
	DefaultLogLevel = "info"
	DefaultLogJSON  = false
)

// Proxy defaults.
const DefaultProxyMode = "no-proxy"

// Config is the top-level configuration for the Portage gateway.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Transfer  TransferConfig  `mapstructure:"transfer"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Proxy     ProxyConfig     `mapstructure:"proxy"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	// Addr is the listen address, host optional.
	Addr string `mapstructure:"addr"`

	// BaseURL is the externally visible URL used when building links.
	BaseURL string `mapstructure:"base_url"`

	// RequestTimeout bounds non-transfer handlers. Uploads, downloads and
	// copies run without it since they are paced by the backends.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig selects and configures the authorization handler.
type AuthConfig struct {
	// Mode is "static" or "remote".
	Mode string `mapstructure:"mode"`

	// URL is the remote auth provider endpoint. Required for mode=remote.
	URL string `mapstructure:"url"`

	// Timeout bounds each grant fetch against the remote provider.
	Timeout time.Duration `mapstructure:"timeout"`

	// Static configures the in-process handler used for mode=static.
	Static StaticAuthConfig `mapstructure:"static"`
}

// StaticAuthConfig is the fixed grant table for single-tenant deployments.
// Credentials configured here are handed to provider adapters and must never
// be logged.
type StaticAuthConfig struct {
	// Token gates all requests behind one shared bearer token. Empty admits
	// anonymous callers.
	Token string `mapstructure:"token"`

	// Identity is stamped on every grant as the acting user.
	Identity IdentityConfig `mapstructure:"identity"`

	// Providers maps provider name to its construction bundle.
	Providers map[string]StaticProviderConfig `mapstructure:"providers"`
}

// IdentityConfig describes the actor recorded on grants and notifications.
type IdentityConfig struct {
	ID    string `mapstructure:"id"`
	Name  string `mapstructure:"name"`
	Email string `mapstructure:"email"`
}

// StaticProviderConfig is one provider's credentials and settings bundle.
type StaticProviderConfig struct {
	Credentials map[string]string `mapstructure:"credentials"`
	Settings    map[string]any    `mapstructure:"settings"`
}

// RateLimitConfig holds fixed-window rate limiter settings.
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Limit is the number of requests allowed per window.
	Limit int64 `mapstructure:"limit"`

	// Window is the fixed window length.
	Window time.Duration `mapstructure:"window"`

	// Store is "memory" or "redis".
	Store string `mapstructure:"store"`

	// CookieName is the session cookie that bypasses limiting. Empty keeps
	// the built-in default.
	CookieName string `mapstructure:"cookie_name"`

	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds connection settings for the redis counter store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// TransferConfig holds streaming pipeline knobs.
type TransferConfig struct {
	// ChunkSize is the copy buffer size in bytes.
	ChunkSize int64 `mapstructure:"chunk_size"`

	// InactivityTimeout aborts a transfer whose stream stops moving.
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout"`
}

// NotifyConfig holds webhook notification settings.
type NotifyConfig struct {
	// URL is the webhook target. Empty disables notifications.
	URL string `mapstructure:"url"`

	// Timeout bounds each delivery attempt.
	Timeout time.Duration `mapstructure:"timeout"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoggingConfig holds zerolog settings.
type LoggingConfig struct {
	// Level is a zerolog level name: trace, debug, info, warn, error.
	Level string `mapstructure:"level"`

	// JSON emits raw JSON lines instead of the console writer.
	JSON bool `mapstructure:"json"`
}

// ProxyConfig holds egress proxy settings for backend traffic.
type ProxyConfig struct {
	// Mode is "no-proxy", "system", "basic" or "ntlm".
	Mode     string `mapstructure:"mode"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	NoProxy  string `mapstructure:"no_proxy"`
}

// Validation errors.
var (
	ErrInvalidAuthMode       = errors.New("auth.mode must be \"static\" or \"remote\"")
	ErrMissingAuthURL        = errors.New("auth.url is required when auth.mode is \"remote\"")
	ErrInvalidRateLimitStore = errors.New("ratelimit.store must be \"memory\" or \"redis\"")
	ErrInvalidRateLimit      = errors.New("ratelimit.limit must be positive")
	ErrInvalidRateWindow     = errors.New("ratelimit.window must be positive")
	ErrInvalidChunkSize      = errors.New("transfer.chunk_size must be positive")
	ErrInvalidProxyMode      = errors.New("proxy.mode must be one of no-proxy, system, basic, ntlm")
	ErrMissingProxyHost      = errors.New("proxy.host is required for basic and ntlm proxy modes")
)

// Validate checks Config invariants and returns the first error found.
func (c *Config) Validate() error {
	switch c.Auth.Mode {
	case "static":
	case "remote":
		if c.Auth.URL == "" {
			return ErrMissingAuthURL
		}
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidAuthMode, c.Auth.Mode)
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Limit <= 0 {
			return ErrInvalidRateLimit
		}
		if c.RateLimit.Window <= 0 {
			return ErrInvalidRateWindow
		}
	}
	switch c.RateLimit.Store {
	case "memory", "redis":
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidRateLimitStore, c.RateLimit.Store)
	}

	if c.Transfer.ChunkSize <= 0 {
		return ErrInvalidChunkSize
	}

	switch c.Proxy.Mode {
	case "no-proxy", "system":
	case "basic", "ntlm":
		if c.Proxy.Host == "" {
			return ErrMissingProxyHost
		}
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidProxyMode, c.Proxy.Mode)
	}

	return nil
}
