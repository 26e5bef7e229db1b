// Package config loads the fleetroll YAML configuration file: the
// code-host address, the engine's tuning knobs, and the alias sections
// used to expand host references.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fleetroll/fleetroll/pkg/hostlist"
)

// Error is the ConfigurationError kind from the error taxonomy: the file
// could not be read or parsed, or failed validation.
type Error struct {
	Cause error
}

func (e *Error) Error() string { return fmt.Sprintf("configuration error: %v", e.Cause) }
func (e *Error) Unwrap() error { return e.Cause }

// Config is the parsed fleetroll configuration file.
type Config struct {
	CodeHost        string            `yaml:"code_host"`
	Parallelism     int               `yaml:"parallelism"`
	SleepSeconds    int               `yaml:"sleep_seconds"`
	TimeoutSeconds  int               `yaml:"timeout_seconds"`
	DangerouslyFast bool              `yaml:"dangerously_fast"`
	Aliases         map[string][]string `yaml:"aliases"`
	HostSource      HostSourceConfig  `yaml:"host_source"`
	Transport       TransportConfig   `yaml:"transport"`
}

// HostSourceConfig selects and configures a pkg/hostsource backend.
type HostSourceConfig struct {
	Backend    string `yaml:"backend"` // "memory", "sqlite", "postgres"
	SQLitePath string `yaml:"sqlite_path"`
	Postgres   struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Database string `yaml:"database"`
		SSLMode  string `yaml:"ssl_mode"`
	} `yaml:"postgres"`
}

// TransportConfig selects and configures a pkg/transport backend.
type TransportConfig struct {
	Kind   string `yaml:"kind"` // "mock", "shell", "ws"
	Binary string `yaml:"binary"`
	MTLS   struct {
		CACertFile     string `yaml:"ca_cert_file"`
		ClientCertFile string `yaml:"client_cert_file"`
		ClientKeyFile  string `yaml:"client_key_file"`
		ServerName     string `yaml:"server_name"`
	} `yaml:"mtls"`
}

// defaults applied to unset fields, mirroring the zero-value-means-unset
// convention used across the example pack's YAML loaders.
func setDefaults(cfg *Config) {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	if cfg.HostSource.Backend == "" {
		cfg.HostSource.Backend = "memory"
	}
	if cfg.Transport.Kind == "" {
		cfg.Transport.Kind = "mock"
	}
}

// Sleep returns the inter-host pacing duration.
func (c *Config) Sleep() time.Duration { return time.Duration(c.SleepSeconds) * time.Second }

// Timeout returns the per-command execution timeout; zero means none.
func (c *Config) Timeout() time.Duration { return time.Duration(c.TimeoutSeconds) * time.Second }

// AliasTable converts the parsed alias section into a pkg/hostlist Aliases
// map, the Go analogue of rollingpin's ALIAS_SECTION ini block.
func (c *Config) AliasTable() hostlist.Aliases {
	return hostlist.Aliases(c.Aliases)
}

// Parse parses raw YAML into a Config and applies defaults. It does not
// touch the filesystem; most callers should use Load instead.
func Parse(data []byte) (*Config, error) {
	if len(data) == 0 {
		return nil, &Error{Cause: fmt.Errorf("config is empty")}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &Error{Cause: fmt.Errorf("unmarshal yaml: %w", err)}
	}
	setDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, &Error{Cause: err}
	}
	return &cfg, nil
}

// Load reads path and parses it as a fleetroll configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Cause: fmt.Errorf("read %s: %w", path, err)}
	}
	return Parse(data)
}

func validate(cfg *Config) error {
	if cfg.CodeHost == "" {
		return fmt.Errorf("code_host is required")
	}
	switch cfg.HostSource.Backend {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown host_source.backend %q", cfg.HostSource.Backend)
	}
	switch cfg.Transport.Kind {
	case "mock", "shell", "ws":
	default:
		return fmt.Errorf("unknown transport.kind %q", cfg.Transport.Kind)
	}
	return nil
}
