// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// action-client sends one goal to a robot action executor and reports
// its progress: it waits for the executor, submits the goal, logs each
// feedback message and the final result, then shuts the client down.
//
// The substrate (Unix socket or NATS) and timeouts come from the config
// file, ACTIONCLIENT_* environment variables, and flags, in increasing
// precedence. SIGINT or SIGTERM while a goal runs cancels the goal and
// waits briefly for the executor to confirm.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/actionclient/lib/action"
	"github.com/bureau-foundation/actionclient/lib/actiontransport"
	"github.com/bureau-foundation/actionclient/lib/clock"
	"github.com/bureau-foundation/actionclient/lib/config"
	"github.com/bureau-foundation/actionclient/lib/process"
)

// Exit statuses beyond the generic 1.
const (
	exitRejected     = 2
	exitUnavailable  = 3
	exitNotSucceeded = 4
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		flags         config.Flags
		goalFile      string
		serverTimeout time.Duration
		cancelAfter   time.Duration
	)

	flagSet := pflag.NewFlagSet("action-client", pflag.ContinueOnError)
	flags.AddFlags(flagSet)
	flagSet.StringVar(&goalFile, "goal-file", "", "JSONC file holding the goal payload (default: empty goal)")
	flagSet.DurationVar(&serverTimeout, "server-timeout", 0, "how long to wait for the executor; 0 waits forever")
	flagSet.DurationVar(&cancelAfter, "cancel-after", 0, "cancel the goal this long after it is accepted")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cfg, err := flags.Load()
	if err != nil {
		return err
	}
	if flagSet.Changed("server-timeout") {
		cfg.Client.ServerTimeout = serverTimeout
	}

	logger, err := process.NewLogger(os.Stderr, cfg.LogLevel)
	if err != nil {
		return err
	}
	logger = logger.With("action_name", cfg.ActionName)

	request, err := loadGoal(goalFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	transport, release, err := actiontransport.Dial(cfg, logger)
	if err != nil {
		return err
	}
	defer release()

	client, err := action.NewClient(action.ClientConfig{
		Transport:      transport,
		Name:           cfg.ActionName,
		Logger:         logger,
		PollInterval:   cfg.Client.PollInterval,
		RequestTimeout: cfg.Client.RequestTimeout,
		PushResults:    cfg.Client.PushResults,
	})
	if err != nil {
		return err
	}

	// The client outlives ctx so an interrupted goal can still be
	// canceled. It stops once the goal is finished.
	clientCtx, stopClient := context.WithCancel(context.Background())
	clientDone := make(chan error, 1)
	go func() { clientDone <- client.Run(clientCtx) }()
	defer func() {
		stopClient()
		if err := <-clientDone; err != nil {
			logger.Error("action client stopped with error", "error", err)
		}
	}()

	timeout := cfg.Client.ServerTimeout
	if timeout == 0 {
		timeout = action.WaitForever
	}
	logger.Info("waiting for action server", "timeout", cfg.Client.ServerTimeout)
	if !client.WaitForServer(ctx, timeout) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Error("action server not available", "waited", cfg.Client.ServerTimeout)
		return process.WithExitCode(exitUnavailable,
			fmt.Errorf("action server %q not available after %v", cfg.ActionName, cfg.Client.ServerTimeout))
	}

	s := &session{
		client:      client,
		actionName:  cfg.ActionName,
		logger:      logger,
		clock:       clock.Real(),
		cancelAfter: cancelAfter,
	}
	err = s.run(ctx, request)
	if errors.Is(err, context.Canceled) {
		logger.Info("interrupted")
	}
	return err
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `action-client sends one goal to a robot action executor.

It waits for the executor, submits the goal, logs feedback and the
final result, and exits. Exit status is 0 when the goal succeeds (or
is canceled by --cancel-after), 2 when it is rejected, 3 when the
executor never became available, and 4 when the goal was aborted or
canceled by the executor.

Usage: action-client [flags]

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
