// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package actiontransport builds the configured substrate for the
// action binaries: the client side as an action.Transport, and the
// executor side as a server or responder in front of a backend.
package actiontransport

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/actionclient/lib/action"
	"github.com/bureau-foundation/actionclient/lib/actionnats"
	"github.com/bureau-foundation/actionclient/lib/actionsocket"
	"github.com/bureau-foundation/actionclient/lib/config"
)

// Dial returns a client Transport for the substrate in cfg, and a
// release function to call once the client has stopped. cfg must have
// been expanded and validated.
func Dial(cfg *config.Config, logger *slog.Logger) (action.Transport, func(), error) {
	switch cfg.Transport.Kind {
	case config.TransportSocket:
		transport := actionsocket.NewTransport(cfg.Transport.SocketPath, cfg.ActionName)
		if cfg.Transport.StreamTimeout > 0 {
			transport.SetStreamTimeout(cfg.Transport.StreamTimeout)
		}
		logger.Debug("using socket transport", "path", cfg.Transport.SocketPath)
		return transport, func() {}, nil

	case config.TransportNATS:
		conn, err := actionnats.Connect(actionnats.Config{
			URL:    cfg.Transport.NATSURL,
			Prefix: cfg.Transport.NATSPrefix,
			Name:   "action-client-" + cfg.ActionName,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		transport, err := actionnats.NewTransport(conn, cfg.Transport.NATSPrefix, cfg.ActionName)
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		logger.Debug("using nats transport", "url", cfg.Transport.NATSURL, "stream", transport.Subjects().Stream)
		return transport, conn.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
}

// Serve exposes backend as cfg's action on cfg's substrate until ctx is
// cancelled.
func Serve(ctx context.Context, cfg *config.Config, backend action.Transport, logger *slog.Logger) error {
	switch cfg.Transport.Kind {
	case config.TransportSocket:
		server := actionsocket.NewServer(cfg.Transport.SocketPath, cfg.ActionName, logger)
		backendStream, err := server.Expose(ctx, backend)
		if err != nil {
			return err
		}
		defer backendStream.Close()
		return server.Serve(ctx)

	case config.TransportNATS:
		conn, err := actionnats.Connect(actionnats.Config{
			URL:    cfg.Transport.NATSURL,
			Prefix: cfg.Transport.NATSPrefix,
			Name:   "action-executor-" + cfg.ActionName,
		}, logger)
		if err != nil {
			return err
		}
		defer conn.Close()
		responder, err := actionnats.NewResponder(conn, cfg.Transport.NATSPrefix, cfg.ActionName, backend, logger)
		if err != nil {
			return err
		}
		return responder.Serve(ctx)
	}
	return fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
}
