// Copyright 2026 The Light Client Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/manuelwedler/light-client/lib/caps"
)

// EnvConfigPath names the environment variable holding the config file
// path.
const EnvConfigPath = "RAIDEN_TRANSPORT_CONFIG"

// DefaultServerLookup is the directory of public transport servers.
const DefaultServerLookup = "https://raw.githubusercontent.com/raiden-network/raiden-service-bundle/master/known_servers/known_servers-production-v1.2.0.json"

// Config is the transport configuration.
type Config struct {
	// Server pins the Matrix homeserver URL. When set, the directory is
	// never consulted.
	Server string `yaml:"server"`

	// ServerLookup is the URL of the JSON server directory.
	ServerLookup string `yaml:"server_lookup"`

	// HTTPTimeout bounds directory fetches and liveness probes.
	HTTPTimeout time.Duration `yaml:"http_timeout"`

	// PollingInterval is the base delay of every retry and the unit
	// of the sync start delay.
	PollingInterval time.Duration `yaml:"polling_interval"`

	// Network names the chain; it selects the default broadcast rooms.
	Network string `yaml:"network"`

	// BroadcastRooms overrides the broadcast room localparts.
	BroadcastRooms []string `yaml:"broadcast_rooms"`

	// Caps is the capability set advertised in the profile. Nil
	// advertises nothing.
	Caps *caps.Set `yaml:"caps"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// AuthMaxRetries caps login-or-register retries after network errors.
	AuthMaxRetries int `yaml:"auth_max_retries"`

	// ProfileMaxRetries caps profile write retries after rate-limit responses.
	ProfileMaxRetries int `yaml:"profile_max_retries"`

	// SyncMaxRetries caps sync start retries after rate-limit responses.
	SyncMaxRetries int `yaml:"sync_max_retries"`

	// KeyFile holds the hex-encoded signing key.
	KeyFile string `yaml:"key_file"`

	// StatePath is the SQLite database holding the persisted server
	// and credentials.
	StatePath string `yaml:"state_path"`
}

// envOverrides lists the variables that override file values. Empty or
// zero values leave the file value alone.
type envOverrides struct {
	Server          string        `env:"RAIDEN_MATRIX_SERVER"`
	ServerLookup    string        `env:"RAIDEN_MATRIX_SERVER_LOOKUP"`
	HTTPTimeout     time.Duration `env:"RAIDEN_HTTP_TIMEOUT"`
	PollingInterval time.Duration `env:"RAIDEN_POLLING_INTERVAL"`
	Network         string        `env:"RAIDEN_NETWORK"`
	LogLevel        string        `env:"RAIDEN_LOG_LEVEL"`
	KeyFile         string        `env:"RAIDEN_KEY_FILE"`
	StatePath       string        `env:"RAIDEN_STATE_PATH"`
}

// Default returns the configuration used before the file is applied.
func Default() *Config {
	return &Config{
		ServerLookup:      DefaultServerLookup,
		HTTPTimeout:       30 * time.Second,
		PollingInterval:   5 * time.Second,
		Network:           "mainnet",
		LogLevel:          "info",
		AuthMaxRetries:    3,
		ProfileMaxRetries: 3,
		SyncMaxRetries:    10,
		StatePath:         "raiden-transport.db",
	}
}

// Load reads the file named by RAIDEN_TRANSPORT_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvConfigPath)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your transport config file, or use --config flag", EnvConfigPath)
	}
	return LoadFile(path)
}

// LoadFile reads path over the defaults, applies environment overrides
// from the process environment and validates the result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	if err := cfg.ApplyEnv(nil); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults without validating.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables. A nil environ
// reads the process environment.
func (c *Config) ApplyEnv(environ map[string]string) error {
	var overrides envOverrides
	options := env.Options{}
	if environ != nil {
		options.Environment = environ
	}
	if err := env.ParseWithOptions(&overrides, options); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	if overrides.Server != "" {
		c.Server = overrides.Server
	}
	if overrides.ServerLookup != "" {
		c.ServerLookup = overrides.ServerLookup
	}
	if overrides.HTTPTimeout != 0 {
		c.HTTPTimeout = overrides.HTTPTimeout
	}
	if overrides.PollingInterval != 0 {
		c.PollingInterval = overrides.PollingInterval
	}
	if overrides.Network != "" {
		c.Network = overrides.Network
	}
	if overrides.LogLevel != "" {
		c.LogLevel = overrides.LogLevel
	}
	if overrides.KeyFile != "" {
		c.KeyFile = overrides.KeyFile
	}
	if overrides.StatePath != "" {
		c.StatePath = overrides.StatePath
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Server != "" {
		if _, err := url.Parse(c.Server); err != nil {
			errs = append(errs, fmt.Errorf("server: %w", err))
		}
	} else if c.ServerLookup == "" {
		errs = append(errs, fmt.Errorf("one of server or server_lookup is required"))
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("http_timeout must be positive, got %s", c.HTTPTimeout))
	}
	if c.PollingInterval <= 0 {
		errs = append(errs, fmt.Errorf("polling_interval must be positive, got %s", c.PollingInterval))
	}
	if c.Network == "" && len(c.BroadcastRooms) == 0 {
		errs = append(errs, fmt.Errorf("network is required when broadcast_rooms is empty"))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if c.AuthMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("auth_max_retries must not be negative, got %d", c.AuthMaxRetries))
	}
	if c.ProfileMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("profile_max_retries must not be negative, got %d", c.ProfileMaxRetries))
	}
	if c.SyncMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("sync_max_retries must not be negative, got %d", c.SyncMaxRetries))
	}

	return errors.Join(errs...)
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// Rooms returns the broadcast room localparts: BroadcastRooms when set,
// otherwise the discovery and path-finding rooms of Network.
func (c *Config) Rooms() []string {
	if len(c.BroadcastRooms) > 0 {
		return c.BroadcastRooms
	}
	return []string{
		"raiden_" + c.Network + "_discovery",
		"raiden_" + c.Network + "_path_finding",
	}
}
