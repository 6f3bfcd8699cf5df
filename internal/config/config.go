// Package config provides configuration parsing and validation for Fenris.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete server configuration, loadable from YAML
// and layered under CLI flags (flags always win).
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Compression CompressionConfig `yaml:"compression"`
	Transfer    TransferConfig    `yaml:"transfer"`
	Health      HealthConfig      `yaml:"health"`
}

// ServerConfig holds the listener and connection-lifecycle settings.
type ServerConfig struct {
	Port             int           `yaml:"port"`
	BaseDir          string        `yaml:"base_dir"`
	MaxConnections   int           `yaml:"max_connections"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	RejectWhenFull   bool          `yaml:"reject_when_full"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// CompressionConfig selects the wire compression codec.
type CompressionConfig struct {
	Algorithm string `yaml:"algorithm"`
	Level     int    `yaml:"level"`
}

// TransferConfig configures the optional write-throttle.
type TransferConfig struct {
	RateLimitBytesPerSec int64 `yaml:"rate_limit_bytes_per_sec"`
}

// HealthConfig configures the optional /healthz + /metrics HTTP server.
type HealthConfig struct {
	Address string `yaml:"address"`
}

// Default returns a Config populated with spec-mandated defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:             5555,
			BaseDir:          os.TempDir(),
			MaxConnections:   1024,
			HandshakeTimeout: 10 * time.Second,
			IdleTimeout:      300 * time.Second,
			RejectWhenFull:   true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Compression: CompressionConfig{
			Algorithm: "none",
			Level:     0,
		},
		Transfer: TransferConfig{
			RateLimitBytesPerSec: 0,
		},
		Health: HealthConfig{
			Address: "",
		},
	}
}

// Load reads and parses a configuration file, layering it over the
// defaults. An empty path is not an error; Default() alone is returned.
// A non-empty path that cannot be read is an error.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes, starting from defaults so
// unset fields keep their spec-mandated values.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for inconsistent or out-of-range values.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}
	if c.Server.BaseDir == "" {
		errs = append(errs, "server.base_dir is required")
	}
	if c.Server.MaxConnections <= 0 {
		errs = append(errs, "server.max_connections must be positive")
	}
	if c.Server.HandshakeTimeout <= 0 {
		errs = append(errs, "server.handshake_timeout must be positive")
	}
	if c.Server.IdleTimeout < 0 {
		errs = append(errs, "server.idle_timeout must not be negative")
	}
	if !isValidLogLevel(c.Logging.Level) {
		errs = append(errs, fmt.Sprintf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level))
	}
	if !isValidLogFormat(c.Logging.Format) {
		errs = append(errs, fmt.Sprintf("invalid logging.format: %s (must be text or json)", c.Logging.Format))
	}
	if !isValidCompression(c.Compression.Algorithm) {
		errs = append(errs, fmt.Sprintf("invalid compression.algorithm: %s (must be none or zstd)", c.Compression.Algorithm))
	}
	if c.Transfer.RateLimitBytesPerSec < 0 {
		errs = append(errs, "transfer.rate_limit_bytes_per_sec must not be negative")
	}

	if len(errs) > 0 {
		msg := errs[0]
		for _, e := range errs[1:] {
			msg += "; " + e
		}
		return fmt.Errorf("%s", msg)
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

func isValidLogFormat(format string) bool {
	switch format {
	case "text", "json":
		return true
	}
	return false
}

func isValidCompression(algo string) bool {
	switch algo {
	case "", "none", "zstd":
		return true
	}
	return false
}
