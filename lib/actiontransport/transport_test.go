// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package actiontransport

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/actionclient/lib/actionmem"
	"github.com/bureau-foundation/actionclient/lib/config"
	"github.com/bureau-foundation/actionclient/lib/schema/goal"
	"github.com/bureau-foundation/actionclient/lib/testutil"
)

const waitTimeout = 5 * time.Second

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func socketConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Transport.SocketPath = filepath.Join(testutil.SocketDir(t), "dock.sock")
	cfg.ExpandVariables()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return cfg
}

func TestSocketRoundTrip(t *testing.T) {
	cfg := socketConfig(t)
	executor := actionmem.NewExecutor()
	executor.SetPushResults(true)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- Serve(ctx, cfg, executor, testLogger()) }()
	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, served, waitTimeout, "server shutdown"); err != nil {
			t.Errorf("Serve: %v", err)
		}
	})

	transport, release, err := Dial(cfg, testLogger())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer release()

	deadline := time.Now().Add(waitTimeout)
	for transport.Ping(context.Background()) != nil {
		if time.Now().After(deadline) {
			t.Fatal("server never answered ping")
		}
		time.Sleep(5 * time.Millisecond)
	}

	response, err := transport.SendGoal(context.Background(), goal.SendGoalRequest{
		RequestID:  "r1",
		ActionName: cfg.ActionName,
	})
	if err != nil {
		t.Fatalf("SendGoal: %v", err)
	}
	if !response.Accepted || response.GoalID == "" {
		t.Fatalf("SendGoal = %+v, want accepted with an ID", response)
	}
	if goals := executor.Goals(); len(goals) != 1 || goals[0].RequestID != "r1" {
		t.Errorf("executor goals = %+v", goals)
	}
}

func TestServeRejectsUnknownKind(t *testing.T) {
	cfg := config.Default()
	cfg.Transport.Kind = "carrier-pigeon"
	if err := Serve(context.Background(), cfg, actionmem.NewExecutor(), testLogger()); err == nil {
		t.Error("Serve with unknown kind should fail")
	}
	if _, _, err := Dial(cfg, testLogger()); err == nil {
		t.Error("Dial with unknown kind should fail")
	}
}
