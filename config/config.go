// Package config holds the TOML configuration for attachsieve.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the root of the attachsieve configuration file.
type Config struct {
	Logging LoggingConfig `toml:"logging"`
	Rules   RulesConfig   `toml:"rules"`
	HTTPAPI HTTPAPIConfig `toml:"http_api"`
}

// LoggingConfig controls log output, format and verbosity.
type LoggingConfig struct {
	Output string `toml:"output"` // "stderr", "stdout", "syslog", or a file path
	Format string `toml:"format"` // "console" or "json"
	Level  string `toml:"level"`  // "debug", "info", "warn", "error"
}

// RulesConfig locates the attachment rule definitions.
type RulesConfig struct {
	// File is the rule definition file, one rule per line:
	//   attachment <NAME> <key> <op> <value> [...]
	File string `toml:"file"`
}

// HTTPAPIConfig configures the optional HTTP scan API.
type HTTPAPIConfig struct {
	Start        bool     `toml:"start"`
	Addr         string   `toml:"addr"`
	APIKey       string   `toml:"api_key"`       // bearer token required on /api/v1 routes
	AllowedHosts []string `toml:"allowed_hosts"` // client IPs or CIDR blocks; empty allows all
	TLS          bool     `toml:"tls"`
	TLSCertFile  string   `toml:"tls_cert_file"`
	TLSKeyFile   string   `toml:"tls_key_file"`
	MaxBodySize  int64    `toml:"max_body_size"` // largest accepted message in bytes
}

// NewDefault returns the built-in configuration defaults.
func NewDefault() Config {
	return Config{
		Logging: LoggingConfig{
			Output: "stderr",
			Format: "console",
			Level:  "info",
		},
		Rules: RulesConfig{
			File: "rules.conf",
		},
		HTTPAPI: HTTPAPIConfig{
			Start:       false,
			Addr:        ":8475",
			MaxBodySize: 50 << 20,
		},
	}
}

// Load reads a TOML configuration file on top of the defaults and validates
// the result.
func Load(path string) (Config, error) {
	cfg := NewDefault()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if os.IsNotExist(err) {
			return cfg, fmt.Errorf("configuration file %s not found: %w", path, err)
		}
		return cfg, fmt.Errorf("failed to parse configuration file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for inconsistencies that would only
// surface later at runtime.
func (c *Config) Validate() error {
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("invalid logging format %q (must be \"console\" or \"json\")", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid logging level %q", c.Logging.Level)
	}
	if c.HTTPAPI.Start {
		if c.HTTPAPI.Addr == "" {
			return fmt.Errorf("http_api.addr is required when the HTTP API is enabled")
		}
		if c.HTTPAPI.APIKey == "" {
			return fmt.Errorf("http_api.api_key is required when the HTTP API is enabled")
		}
		if c.HTTPAPI.TLS && (c.HTTPAPI.TLSCertFile == "" || c.HTTPAPI.TLSKeyFile == "") {
			return fmt.Errorf("http_api.tls_cert_file and http_api.tls_key_file are required when TLS is enabled")
		}
	}
	if c.HTTPAPI.MaxBodySize < 0 {
		return fmt.Errorf("http_api.max_body_size must not be negative")
	}
	return nil
}
