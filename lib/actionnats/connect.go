// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package actionnats

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Config selects the NATS server and subject namespace.
type Config struct {
	// URL of the NATS server. Empty means nats.DefaultURL.
	URL string

	// Prefix is the first subject token(s). Empty means DefaultPrefix.
	Prefix string

	// Name identifies the connection in server monitoring.
	Name string
}

// reconnectWait is the pause between reconnect attempts.
const reconnectWait = 2 * time.Second

// Connect dials the server in config. The connection reconnects
// forever; disconnects and reconnects are logged.
func Connect(config Config, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	url := config.URL
	if url == "" {
		url = nats.DefaultURL
	}
	name := config.Name
	if name == "" {
		name = "action-client"
	}

	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			logger.Info("nats reconnected", "url", conn.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	return conn, nil
}
