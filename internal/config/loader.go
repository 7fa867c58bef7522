package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Environment variable overrides.
const (
	EnvServerAddr    = "TELEMETRYGW_SERVER_ADDR"
	EnvLogLevel      = "TELEMETRYGW_LOG_LEVEL"
	EnvRedisAddr     = "TELEMETRYGW_REDIS_ADDR"
	EnvRedisPassword = "TELEMETRYGW_REDIS_PASSWORD"
	EnvRedisDB       = "TELEMETRYGW_REDIS_DB"
)

// Load reads configuration from the given YAML file, applies environment
// variable overrides, and validates the result. An empty path returns the
// defaults with overrides applied.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvServerAddr); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv(EnvRedisPassword); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv(EnvRedisDB); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	}
}
