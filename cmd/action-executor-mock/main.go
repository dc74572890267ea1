// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// action-executor-mock serves a scripted dock or undock action for
// exercising action-client without a robot. Each accepted goal reports
// executing, then a series of dock feedback messages, then a result.
// Cancel requests end the run as canceled.
//
// It reads the same configuration as action-client, so the two find
// each other on the same socket or NATS subjects by default.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/actionclient/lib/actiontransport"
	"github.com/bureau-foundation/actionclient/lib/config"
	"github.com/bureau-foundation/actionclient/lib/process"
	"github.com/bureau-foundation/actionclient/lib/schema/dock"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		flags            config.Flags
		rejectReason     string
		feedbackInterval time.Duration
		feedbackCount    int
	)

	flagSet := pflag.NewFlagSet("action-executor-mock", pflag.ContinueOnError)
	flags.AddFlags(flagSet)
	flagSet.StringVar(&rejectReason, "reject", "", "reject every goal with this reason")
	flagSet.DurationVar(&feedbackInterval, "feedback-interval", 500*time.Millisecond, "pause between scripted steps")
	flagSet.IntVar(&feedbackCount, "feedback-count", 4, "dock feedback messages per goal")
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
	if feedbackCount < 0 {
		return fmt.Errorf("--feedback-count must not be negative")
	}

	cfg, err := flags.Load()
	if err != nil {
		return err
	}
	if !dock.Known(cfg.ActionName) {
		return fmt.Errorf("the mock executes dock or undock, not %q", cfg.ActionName)
	}

	logger, err := process.NewLogger(os.Stderr, cfg.LogLevel)
	if err != nil {
		return err
	}
	logger = logger.With("action_name", cfg.ActionName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	executor := newScriptedExecutor(scriptConfig{
		ActionName:       cfg.ActionName,
		RejectReason:     rejectReason,
		FeedbackInterval: feedbackInterval,
		FeedbackCount:    feedbackCount,
		PushResults:      cfg.Client.PushResults,
		Logger:           logger,
	})
	defer executor.Stop()

	logger.Info("mock executor starting", "transport", cfg.Transport.Kind)
	return actiontransport.Serve(ctx, cfg, executor, logger)
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `action-executor-mock serves a scripted dock or undock action.

Each accepted goal reports executing, then --feedback-count dock
feedback messages (the robot sees the dock for the second half), then
succeeds. Cancel requests finish the goal as canceled.

Usage: action-executor-mock [flags]

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
