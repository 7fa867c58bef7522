// Package config provides configuration types and loading for the telemetry gateway.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Default configuration values.
const (
	DefaultServerAddr      = ":8080"
	DefaultShutdownTimeout = 15 * time.Second

	DefaultRedisAddr        = "localhost:6379"
	DefaultRedisPoolSize    = 10
	DefaultRedisDialTimeout = 5 * time.Second
	DefaultRedisReadTimeout = 3 * time.Second

	DefaultAuthCacheTTL     = time.Minute
	DefaultAuthStoreTimeout = 2 * time.Second
	DefaultKeyPrefix        = "tk_"

	DefaultIPLimit    = 60
	DefaultIPWindow   = time.Minute
	DefaultKeyLimit   = 600
	DefaultKeyWindow  = time.Minute
	DefaultLocalRPS   = 200
	DefaultLocalBurst = 50

	DefaultCacheTTL        = 30 * time.Second
	DefaultCacheMaxEntries = 10000
)

// Config is the root configuration for the gateway.
type Config struct {
	// Server contains HTTP server configuration.
	Server ServerConfig `yaml:"server" json:"server"`

	// Log contains logging configuration.
	Log LogConfig `yaml:"log" json:"log"`

	// Tracing contains OpenTelemetry tracing configuration.
	Tracing TracingConfig `yaml:"tracing,omitempty" json:"tracing,omitempty"`

	// Redis contains the shared Redis connection configuration used by the
	// key store, the rate-limit counter store, and the response cache.
	Redis RedisConfig `yaml:"redis" json:"redis"`

	// Auth contains authentication configuration.
	Auth AuthConfig `yaml:"auth" json:"auth"`

	// RateLimit contains rate limiting configuration.
	RateLimit RateLimitConfig `yaml:"rateLimit" json:"rateLimit"`

	// Cache contains response cache configuration.
	Cache CacheConfig `yaml:"cache" json:"cache"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `yaml:"addr" json:"addr"`

	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout Duration `yaml:"readTimeout,omitempty" json:"readTimeout,omitempty"`

	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout Duration `yaml:"writeTimeout,omitempty" json:"writeTimeout,omitempty"`

	// ShutdownTimeout is the grace period for in-flight requests on shutdown.
	ShutdownTimeout Duration `yaml:"shutdownTimeout,omitempty" json:"shutdownTimeout,omitempty"`
}

// LogConfig contains logging configuration.
type LogConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level" json:"level"`

	// Format is the log output format: json or console.
	Format string `yaml:"format" json:"format"`

	// Output is the log destination: stdout or stderr.
	Output string `yaml:"output,omitempty" json:"output,omitempty"`
}

// TracingConfig contains OpenTelemetry tracing configuration.
type TracingConfig struct {
	// Enabled indicates whether tracing is enabled.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint.
	OTLPEndpoint string `yaml:"otlpEndpoint,omitempty" json:"otlpEndpoint,omitempty"`

	// SamplingRate is the trace sampling rate between 0 and 1.
	SamplingRate float64 `yaml:"samplingRate,omitempty" json:"samplingRate,omitempty"`
}

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis address (host:port).
	Addr string `yaml:"addr" json:"addr"`

	// Password is the Redis password.
	Password string `yaml:"password,omitempty" json:"password,omitempty"`

	// DB is the Redis database number.
	DB int `yaml:"db,omitempty" json:"db,omitempty"`

	// KeyPrefix is prepended to every key written by this service.
	KeyPrefix string `yaml:"keyPrefix,omitempty" json:"keyPrefix,omitempty"`

	// PoolSize is the maximum number of connections in the pool.
	PoolSize int `yaml:"poolSize,omitempty" json:"poolSize,omitempty"`

	// DialTimeout is the timeout for establishing connections.
	DialTimeout Duration `yaml:"dialTimeout,omitempty" json:"dialTimeout,omitempty"`

	// ReadTimeout is the timeout for read operations.
	ReadTimeout Duration `yaml:"readTimeout,omitempty" json:"readTimeout,omitempty"`

	// WriteTimeout is the timeout for write operations.
	WriteTimeout Duration `yaml:"writeTimeout,omitempty" json:"writeTimeout,omitempty"`
}

// AuthConfig contains authentication configuration.
type AuthConfig struct {
	// CacheTTL bounds how long a verified key is served from the in-process
	// cache before forcing a fresh key store lookup.
	CacheTTL Duration `yaml:"cacheTTL,omitempty" json:"cacheTTL,omitempty"`

	// StoreTimeout bounds a single key store lookup during authentication.
	// A timeout fails the request closed.
	StoreTimeout Duration `yaml:"storeTimeout,omitempty" json:"storeTimeout,omitempty"`

	// AdminTokenHash is the bcrypt hash of the bootstrap admin token that
	// grants access to key management endpoints before any key exists.
	// Empty disables token-based admin access.
	AdminTokenHash string `yaml:"adminTokenHash,omitempty" json:"adminTokenHash,omitempty"`

	// AdminProjects lists project IDs whose keys may call key management
	// endpoints.
	AdminProjects []string `yaml:"adminProjects,omitempty" json:"adminProjects,omitempty"`
}

// RateLimitConfig contains rate limiting configuration.
type RateLimitConfig struct {
	// Enabled indicates whether distributed rate limiting is enabled.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// IPLimit is the per-IP request budget per window.
	IPLimit int `yaml:"ipLimit,omitempty" json:"ipLimit,omitempty"`

	// IPWindow is the per-IP window length.
	IPWindow Duration `yaml:"ipWindow,omitempty" json:"ipWindow,omitempty"`

	// KeyLimit is the per-identity request budget per window.
	KeyLimit int `yaml:"keyLimit,omitempty" json:"keyLimit,omitempty"`

	// KeyWindow is the per-identity window length.
	KeyWindow Duration `yaml:"keyWindow,omitempty" json:"keyWindow,omitempty"`

	// LocalRPS is the per-instance requests-per-second cap applied before
	// any distributed check, to shed load without a Redis round trip.
	LocalRPS int `yaml:"localRPS,omitempty" json:"localRPS,omitempty"`

	// LocalBurst is the burst size for the per-instance cap.
	LocalBurst int `yaml:"localBurst,omitempty" json:"localBurst,omitempty"`
}

// CacheConfig contains response cache configuration.
type CacheConfig struct {
	// Enabled indicates whether response caching is enabled.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// TTL is the default time-to-live for cached responses.
	TTL Duration `yaml:"ttl,omitempty" json:"ttl,omitempty"`

	// MaxEntries is the maximum number of in-memory entries.
	MaxEntries int `yaml:"maxEntries,omitempty" json:"maxEntries,omitempty"`

	// MaxAge is the Cache-Control max-age directive.
	MaxAge Duration `yaml:"maxAge,omitempty" json:"maxAge,omitempty"`

	// SMaxAge is the Cache-Control s-maxage directive.
	SMaxAge Duration `yaml:"sMaxAge,omitempty" json:"sMaxAge,omitempty"`

	// StaleWhileRevalidate is the Cache-Control stale-while-revalidate directive.
	StaleWhileRevalidate Duration `yaml:"staleWhileRevalidate,omitempty" json:"staleWhileRevalidate,omitempty"`

	// Public marks cached responses as publicly cacheable.
	Public bool `yaml:"public,omitempty" json:"public,omitempty"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            DefaultServerAddr,
			ShutdownTimeout: Duration(DefaultShutdownTimeout),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Tracing: TracingConfig{
			Enabled:      false,
			SamplingRate: 0.1,
		},
		Redis: RedisConfig{
			Addr:        DefaultRedisAddr,
			KeyPrefix:   "telemetrygw:",
			PoolSize:    DefaultRedisPoolSize,
			DialTimeout: Duration(DefaultRedisDialTimeout),
			ReadTimeout: Duration(DefaultRedisReadTimeout),
		},
		Auth: AuthConfig{
			CacheTTL:     Duration(DefaultAuthCacheTTL),
			StoreTimeout: Duration(DefaultAuthStoreTimeout),
		},
		RateLimit: RateLimitConfig{
			Enabled:    true,
			IPLimit:    DefaultIPLimit,
			IPWindow:   Duration(DefaultIPWindow),
			KeyLimit:   DefaultKeyLimit,
			KeyWindow:  Duration(DefaultKeyWindow),
			LocalRPS:   DefaultLocalRPS,
			LocalBurst: DefaultLocalBurst,
		},
		Cache: CacheConfig{
			Enabled:    true,
			TTL:        Duration(DefaultCacheTTL),
			MaxEntries: DefaultCacheMaxEntries,
			MaxAge:     Duration(DefaultCacheTTL),
			Public:     false,
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Redis.Addr == "" {
		return errors.New("redis.addr is required")
	}
	if c.Auth.CacheTTL < 0 {
		return errors.New("auth.cacheTTL must not be negative")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.IPLimit <= 0 {
			return fmt.Errorf("rateLimit.ipLimit must be positive, got %d", c.RateLimit.IPLimit)
		}
		if c.RateLimit.KeyLimit <= 0 {
			return fmt.Errorf("rateLimit.keyLimit must be positive, got %d", c.RateLimit.KeyLimit)
		}
		if c.RateLimit.IPWindow <= 0 || c.RateLimit.KeyWindow <= 0 {
			return errors.New("rateLimit windows must be positive")
		}
	}
	if c.Tracing.Enabled && (c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1) {
		return fmt.Errorf("tracing.samplingRate must be between 0 and 1, got %v", c.Tracing.SamplingRate)
	}
	return nil
}
