// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// PathEnvVar names the environment variable holding the config file
// path.
const PathEnvVar = "ACTIONCLIENT_CONFIG"

// envPrefix prefixes every field override variable.
const envPrefix = "ACTIONCLIENT_"

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local runs against the mock executor.
	Development Environment = "development"
	// Production is for runs against a real robot.
	Production Environment = "production"
)

// TransportKind selects the substrate carrying the action protocol.
type TransportKind string

const (
	// TransportSocket is the Unix-socket CBOR substrate.
	TransportSocket TransportKind = "socket"
	// TransportNATS is the NATS subject substrate.
	TransportNATS TransportKind = "nats"
)

// Config is the configuration shared by the action binaries.
type Config struct {
	// Environment identifies the deployment type.
	Environment Environment `yaml:"environment" env:"ENVIRONMENT"`

	// ActionName is the action endpoint, e.g. "dock".
	ActionName string `yaml:"action_name" env:"ACTION_NAME"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`

	// Transport selects and configures the substrate.
	Transport TransportConfig `yaml:"transport"`

	// Client tunes the action client engine.
	Client ClientConfig `yaml:"client"`

	// Per-environment overrides, applied after the base config.
	Development *ConfigOverrides `yaml:"development,omitempty" env:"-"`
	Production  *ConfigOverrides `yaml:"production,omitempty" env:"-"`
}

// ConfigOverrides contains fields that can be overridden per
// environment.
type ConfigOverrides struct {
	LogLevel  string           `yaml:"log_level,omitempty"`
	Transport *TransportConfig `yaml:"transport,omitempty"`
	Client    *ClientOverrides `yaml:"client,omitempty"`
}

// ClientOverrides is the per-environment form of ClientConfig. Unset
// fields leave the base value alone.
type ClientOverrides struct {
	ServerTimeout  time.Duration `yaml:"server_timeout,omitempty"`
	PollInterval   time.Duration `yaml:"poll_interval,omitempty"`
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`
	PushResults    *bool         `yaml:"push_results,omitempty"`
}

// TransportConfig configures the substrate.
type TransportConfig struct {
	// Kind is "socket" or "nats".
	Kind TransportKind `yaml:"kind" env:"TRANSPORT"`

	// SocketPath is the executor's Unix socket.
	SocketPath string `yaml:"socket_path" env:"SOCKET_PATH"`

	// NATSURL is the NATS server URL.
	NATSURL string `yaml:"nats_url" env:"NATS_URL"`

	// NATSPrefix is the subject prefix.
	NATSPrefix string `yaml:"nats_prefix" env:"NATS_PREFIX"`

	// StreamTimeout is how long the socket stream may stay silent.
	StreamTimeout time.Duration `yaml:"stream_timeout" env:"STREAM_TIMEOUT"`
}

// ClientConfig tunes the action client engine.
type ClientConfig struct {
	// ServerTimeout bounds the initial wait for the executor. Zero
	// waits forever.
	ServerTimeout time.Duration `yaml:"server_timeout" env:"SERVER_TIMEOUT"`

	// PollInterval is how often an unreachable executor is re-probed.
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`

	// RequestTimeout bounds each ping, send_goal, and cancel_goal.
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`

	// PushResults takes results from the stream instead of get_result.
	// Needed for feedback-before-result ordering when the stream and
	// the request replies travel on different connections.
	PushResults bool `yaml:"push_results" env:"PUSH_RESULTS"`
}

// Default returns the default configuration, used as the base before
// the config file is applied.
func Default() *Config {
	return &Config{
		Environment: Development,
		ActionName:  "dock",
		LogLevel:    "info",
		Transport: TransportConfig{
			Kind:          TransportSocket,
			SocketPath:    "${XDG_RUNTIME_DIR:-/tmp}/action-${ACTION_NAME}.sock",
			NATSURL:       "nats://127.0.0.1:4222",
			NATSPrefix:    "action",
			StreamTimeout: 30 * time.Second,
		},
		Client: ClientConfig{
			ServerTimeout:  30 * time.Second,
			PollInterval:   250 * time.Millisecond,
			RequestTimeout: 10 * time.Second,
			PushResults:    true,
		},
	}
}

// Load loads configuration from the file named by ACTIONCLIENT_CONFIG.
// It fails if the variable is not set.
func Load() (*Config, error) {
	configPath := os.Getenv(PathEnvVar)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your config file, or use --config", PathEnvVar)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path, applies the section for the
// configured environment, then environment variable overrides.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	return cfg.finish()
}

// Resolve loads the file named by flagPath, or by ACTIONCLIENT_CONFIG
// when flagPath is empty. With neither, it returns the defaults with
// environment variable overrides applied.
func Resolve(flagPath string) (*Config, error) {
	cfg, err := resolveUnexpanded(flagPath)
	if err != nil {
		return nil, err
	}
	cfg.ExpandVariables()
	return cfg, nil
}

// resolveUnexpanded is Resolve without variable expansion, so that
// command-line flags can still change ${ACTION_NAME}.
func resolveUnexpanded(flagPath string) (*Config, error) {
	if flagPath == "" {
		flagPath = os.Getenv(PathEnvVar)
	}
	cfg := Default()
	if flagPath != "" {
		if err := cfg.loadFile(flagPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) finish() (*Config, error) {
	if err := c.applyOverrides(); err != nil {
		return nil, err
	}
	c.ExpandVariables()
	return c, nil
}

// applyOverrides applies the environment section, then the
// ACTIONCLIENT_* variables.
func (c *Config) applyOverrides() error {
	c.applyEnvironmentOverrides()
	if err := env.ParseWithOptions(c, env.Options{Prefix: envPrefix}); err != nil {
		return fmt.Errorf("parsing %s* environment overrides: %w", envPrefix, err)
	}
	return nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

// applyEnvironmentOverrides applies the section matching Environment.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
		// Production defaults: quieter logs.
		if overrides == nil {
			overrides = &ConfigOverrides{LogLevel: "warn"}
		}
	}
	if overrides == nil {
		return
	}

	if overrides.LogLevel != "" {
		c.LogLevel = overrides.LogLevel
	}

	if overrides.Transport != nil {
		if overrides.Transport.Kind != "" {
			c.Transport.Kind = overrides.Transport.Kind
		}
		if overrides.Transport.SocketPath != "" {
			c.Transport.SocketPath = overrides.Transport.SocketPath
		}
		if overrides.Transport.NATSURL != "" {
			c.Transport.NATSURL = overrides.Transport.NATSURL
		}
		if overrides.Transport.NATSPrefix != "" {
			c.Transport.NATSPrefix = overrides.Transport.NATSPrefix
		}
		if overrides.Transport.StreamTimeout != 0 {
			c.Transport.StreamTimeout = overrides.Transport.StreamTimeout
		}
	}

	if overrides.Client != nil {
		if overrides.Client.ServerTimeout != 0 {
			c.Client.ServerTimeout = overrides.Client.ServerTimeout
		}
		if overrides.Client.PollInterval != 0 {
			c.Client.PollInterval = overrides.Client.PollInterval
		}
		if overrides.Client.RequestTimeout != 0 {
			c.Client.RequestTimeout = overrides.Client.RequestTimeout
		}
		if overrides.Client.PushResults != nil {
			c.Client.PushResults = *overrides.Client.PushResults
		}
	}
}

// ExpandVariables expands ${VAR} and ${VAR:-default} in the socket
// path. ${ACTION_NAME} expands to the configured action name. Binaries
// call it again after applying flags.
func (c *Config) ExpandVariables() {
	vars := map[string]string{
		"ACTION_NAME": c.ActionName,
	}
	c.Transport.SocketPath = expandVars(c.Transport.SocketPath, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

var logLevels = []string{"debug", "info", "warn", "warning", "error"}

// Validate reports every configuration problem in one error.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.ActionName == "" {
		errs = append(errs, errors.New("action_name is required"))
	} else if strings.ContainsAny(c.ActionName, ". \t*>") {
		errs = append(errs, fmt.Errorf("action_name %q must be a single word", c.ActionName))
	}

	if !contains(logLevels, strings.ToLower(c.LogLevel)) {
		errs = append(errs, fmt.Errorf("log_level must be one of: %v", logLevels))
	}

	switch c.Transport.Kind {
	case TransportSocket:
		if c.Transport.SocketPath == "" {
			errs = append(errs, errors.New("transport.socket_path is required for the socket transport"))
		}
	case TransportNATS:
		if c.Transport.NATSURL == "" {
			errs = append(errs, errors.New("transport.nats_url is required for the nats transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("transport.kind must be %q or %q, got %q", TransportSocket, TransportNATS, c.Transport.Kind))
	}
	if c.Transport.StreamTimeout < 0 {
		errs = append(errs, errors.New("transport.stream_timeout must not be negative"))
	}

	if c.Client.ServerTimeout < 0 {
		errs = append(errs, errors.New("client.server_timeout must not be negative"))
	}
	if c.Client.PollInterval <= 0 {
		errs = append(errs, errors.New("client.poll_interval must be positive"))
	}
	if c.Client.RequestTimeout <= 0 {
		errs = append(errs, errors.New("client.request_timeout must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
