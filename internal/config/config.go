// Package config provides configuration loading for backlogd.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SERVER_PORT, WORKER_ENDPOINT, ...)
//  2. YAML config file
//  3. Hardcoded defaults
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Config is the daemon configuration.
type Config struct {
	Server    ServerConfig  `koanf:"server"`
	Logging   LoggingConfig `koanf:"logging"`
	Worker    WorkerConfig  `koanf:"worker"`
	Workspace string        `koanf:"workspace"`
	Limits    LimitsConfig  `koanf:"limits"`
}

// ServerConfig holds HTTP service mode settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig selects log level and output encoding.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// WorkerConfig points at the worker agent endpoint.
type WorkerConfig struct {
	Endpoint        string        `koanf:"endpoint"`
	DispatchTimeout time.Duration `koanf:"dispatch_timeout"`
}

// LimitsConfig holds default run budgets. A run configuration may
// override both.
type LimitsConfig struct {
	MaxIterations          int `koanf:"max_iterations"`
	MaxConsecutiveFailures int `koanf:"max_consecutive_failures"`
}

// Load reads configuration from an optional YAML file, then overrides
// with environment variables, then applies defaults and validates.
//
// Environment variables use underscore separation and map to YAML
// fields by splitting on the first underscore:
//
//	SERVER_PORT            -> server.port
//	WORKER_ENDPOINT        -> worker.endpoint
//	LIMITS_MAX_ITERATIONS  -> limits.max_iterations
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configPath, err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		lower := strings.ToLower(s)
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Worker.Endpoint == "" {
		cfg.Worker.Endpoint = "code-worker:8080"
	}
	if cfg.Worker.DispatchTimeout == 0 {
		cfg.Worker.DispatchTimeout = 10 * time.Minute
	}

	if cfg.Workspace == "" {
		cfg.Workspace = "/workspace"
	}

	if cfg.Limits.MaxIterations == 0 {
		cfg.Limits.MaxIterations = 100
	}
	if cfg.Limits.MaxConsecutiveFailures == 0 {
		cfg.Limits.MaxConsecutiveFailures = 3
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging format %q (expected json or console)", c.Logging.Format)
	}
	if c.Limits.MaxIterations < 1 {
		return fmt.Errorf("limits.max_iterations must be positive, got %d", c.Limits.MaxIterations)
	}
	if c.Limits.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("limits.max_consecutive_failures must be positive, got %d", c.Limits.MaxConsecutiveFailures)
	}
	return nil
}
