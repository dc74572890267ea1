// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package actionnats

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/bureau-foundation/actionclient/lib/action"
	"github.com/bureau-foundation/actionclient/lib/actionmem"
	"github.com/bureau-foundation/actionclient/lib/schema/goal"
	"github.com/bureau-foundation/actionclient/lib/testutil"
)

const waitTimeout = 5 * time.Second

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// testConn connects to the server named by ACTIONCLIENT_TEST_NATS_URL,
// skipping the test when it is unset.
func testConn(t *testing.T) *nats.Conn {
	t.Helper()
	url := os.Getenv("ACTIONCLIENT_TEST_NATS_URL")
	if url == "" {
		t.Skip("ACTIONCLIENT_TEST_NATS_URL not set")
	}
	conn, err := Connect(Config{URL: url, Name: t.Name()}, testLogger())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(conn.Close)
	return conn
}

// startResponder serves executor under a prefix unique to the test.
func startResponder(t *testing.T, conn *nats.Conn, executor *actionmem.Executor) string {
	t.Helper()
	prefix := testutil.UniqueID("test")
	responder, err := NewResponder(conn, prefix, "dock", executor, testLogger())
	if err != nil {
		t.Fatalf("NewResponder: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- responder.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, done, waitTimeout, "responder shutdown"); err != nil {
			t.Errorf("Serve: %v", err)
		}
	})
	return prefix
}

func TestClientOverNATS(t *testing.T) {
	conn := testConn(t)
	executor := actionmem.NewExecutor()
	executor.SetPushResults(true)
	prefix := startResponder(t, conn, executor)

	transport, err := NewTransport(conn, prefix, "dock")
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	client, err := action.NewClient(action.ClientConfig{
		Transport:   transport,
		Name:        "dock",
		Logger:      testLogger(),
		PushResults: true,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- client.Run(ctx) }()
	defer func() {
		cancel()
		testutil.RequireReceive(t, runDone, waitTimeout, "client shutdown")
	}()

	if !client.WaitForServer(t.Context(), waitTimeout) {
		t.Fatal("WaitForServer = false")
	}

	feedback := make(chan struct{}, 4)
	request, _ := action.NewGoalRequest(map[string]any{})
	handle, err := client.SendGoal(request, func(*action.GoalHandle, action.Feedback) {
		feedback <- struct{}{}
	}).Wait(t.Context())
	if err != nil {
		t.Fatalf("SendGoal: %v", err)
	}

	executor.PublishFeedback(handle.GoalID(), map[string]bool{"sees_dock": true})
	executor.CompleteGoal(handle.GoalID(), goal.StatusSucceeded, map[string]bool{"is_docked": true})

	result, err := handle.Result().Wait(t.Context())
	if err != nil || result.Status != goal.StatusSucceeded {
		t.Fatalf("result = (%+v, %v), want succeeded", result, err)
	}
	testutil.RequireReceive(t, feedback, waitTimeout, "feedback before result")
}

func TestPingWithoutResponder(t *testing.T) {
	conn := testConn(t)
	transport, err := NewTransport(conn, testutil.UniqueID("test"), "dock")
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	ctx, cancel := context.WithTimeout(t.Context(), time.Second)
	defer cancel()
	if err := transport.Ping(ctx); !errors.Is(err, nats.ErrNoResponders) {
		t.Fatalf("Ping = %v, want ErrNoResponders", err)
	}
}

func TestStreamCloseIsClean(t *testing.T) {
	conn := testConn(t)
	transport, err := NewTransport(conn, testutil.UniqueID("test"), "dock")
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	stream, err := transport.Subscribe(t.Context(), func(goal.StreamFrame) {})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	testutil.RequireClosed(t, stream.Done(), waitTimeout, "stream end")
	if stream.Err() != nil {
		t.Errorf("Err = %v, want nil", stream.Err())
	}
}
