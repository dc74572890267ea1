// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"time"

	"github.com/spf13/pflag"
)

// Flags holds the command-line overrides shared by the action
// binaries. Only flags the user actually set override the resolved
// configuration.
type Flags struct {
	ConfigPath string

	flagSet       *pflag.FlagSet
	actionName    string
	logLevel      string
	transport     string
	socketPath    string
	natsURL       string
	natsPrefix    string
	streamTimeout time.Duration
	pushResults   bool
}

// AddFlags registers the shared flags on flagSet.
func (f *Flags) AddFlags(flagSet *pflag.FlagSet) {
	f.flagSet = flagSet
	flagSet.StringVar(&f.ConfigPath, "config", "", "path to config file (default: $"+PathEnvVar+", then built-in defaults)")
	flagSet.StringVar(&f.actionName, "action", "", "action name, e.g. dock or undock")
	flagSet.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flagSet.StringVar(&f.transport, "transport", "", "substrate: socket or nats")
	flagSet.StringVar(&f.socketPath, "socket", "", "executor Unix socket path (socket transport)")
	flagSet.StringVar(&f.natsURL, "nats-url", "", "NATS server URL (nats transport)")
	flagSet.StringVar(&f.natsPrefix, "nats-prefix", "", "NATS subject prefix (nats transport)")
	flagSet.DurationVar(&f.streamTimeout, "stream-timeout", 0, "how long the socket stream may stay silent")
	flagSet.BoolVar(&f.pushResults, "push-results", true, "carry results on the stream instead of get_result")
}

// Load resolves the configuration (file, environment section,
// ACTIONCLIENT_* variables), applies the flags that were set, expands
// variables, and validates the result.
func (f *Flags) Load() (*Config, error) {
	cfg, err := resolveUnexpanded(f.ConfigPath)
	if err != nil {
		return nil, err
	}
	f.Apply(cfg)
	cfg.ExpandVariables()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Apply copies every flag the user set into cfg.
func (f *Flags) Apply(cfg *Config) {
	if f.flagSet == nil {
		return
	}
	changed := f.flagSet.Changed
	if changed("action") {
		cfg.ActionName = f.actionName
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if changed("transport") {
		cfg.Transport.Kind = TransportKind(f.transport)
	}
	if changed("socket") {
		cfg.Transport.SocketPath = f.socketPath
	}
	if changed("nats-url") {
		cfg.Transport.NATSURL = f.natsURL
	}
	if changed("nats-prefix") {
		cfg.Transport.NATSPrefix = f.natsPrefix
	}
	if changed("stream-timeout") {
		cfg.Transport.StreamTimeout = f.streamTimeout
	}
	if changed("push-results") {
		cfg.Client.PushResults = f.pushResults
	}
}
