// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package action_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/bureau-foundation/actionclient/lib/action"
	"github.com/bureau-foundation/actionclient/lib/actionmem"
	"github.com/bureau-foundation/actionclient/lib/clock"
	"github.com/bureau-foundation/actionclient/lib/future"
	"github.com/bureau-foundation/actionclient/lib/schema/goal"
	"github.com/bureau-foundation/actionclient/lib/testutil"
)

const waitTimeout = 5 * time.Second

type targetFeedback struct {
	SeesTarget bool `json:"seesTarget"`
}

type completionResult struct {
	IsComplete bool `json:"isComplete"`
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// runClient starts the client's event loop and stops it at cleanup.
// It returns the cancel function so tests can stop the loop early.
func runClient(t *testing.T, client *action.Client) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, done, waitTimeout, "client shutdown"); err != nil {
			t.Errorf("Run: %v", err)
		}
	})
	return cancel
}

// startClient returns a running client that has confirmed executor.
func startClient(t *testing.T, executor *actionmem.Executor, configure ...func(*action.ClientConfig)) *action.Client {
	t.Helper()
	config := action.ClientConfig{
		Transport: executor,
		Name:      "dock",
		Logger:    testLogger(),
	}
	for _, fn := range configure {
		fn(&config)
	}
	client, err := action.NewClient(config)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	runClient(t, client)
	if !client.WaitForServer(t.Context(), 0) {
		t.Fatal("WaitForServer: executor not reachable")
	}
	return client
}

// await blocks until f settles and returns its outcome.
func await[T any](t *testing.T, f *future.Future[T], what string) (T, error) {
	t.Helper()
	testutil.RequireClosed(t, f.Done(), waitTimeout, what)
	value, err, _ := f.Result()
	return value, err
}

// submit sends request and waits for the submission future to resolve.
func submit(t *testing.T, client *action.Client, payload any, feedback action.FeedbackFunc) *action.GoalHandle {
	t.Helper()
	request, err := action.NewGoalRequest(payload)
	if err != nil {
		t.Fatalf("NewGoalRequest: %v", err)
	}
	handle, err := await(t, client.SendGoal(request, feedback), "goal response")
	if err != nil {
		t.Fatalf("SendGoal: %v", err)
	}
	return handle
}

// barrier waits until every message queued on the client before the
// call has been processed. Cancelling a finished goal is answered by
// the loop without touching the transport.
func barrier(t *testing.T, client *action.Client, finished *action.GoalHandle) {
	t.Helper()
	if _, err := await(t, client.CancelGoal(finished), "barrier"); err != nil {
		t.Fatalf("barrier cancel: %v", err)
	}
}

func acceptAs(goalID goal.ID) actionmem.GoalFunc {
	return func(context.Context, goal.SendGoalRequest) (goal.SendGoalResponse, error) {
		return goal.SendGoalResponse{Accepted: true, GoalID: goalID}, nil
	}
}

func TestAcceptFeedbackResultScenario(t *testing.T) {
	executor := actionmem.NewExecutor()
	executor.OnGoal(acceptAs("g1"))
	client := startClient(t, executor)

	events := make(chan string, 8)
	handle := submit(t, client, map[string]any{}, func(handle *action.GoalHandle, feedback action.Feedback) {
		var decoded targetFeedback
		if err := feedback.Decode(&decoded); err != nil {
			t.Errorf("decoding feedback: %v", err)
		}
		if feedback.GoalID != "g1" || handle.GoalID() != "g1" {
			t.Errorf("feedback routed to %s/%s, want g1", feedback.GoalID, handle.GoalID())
		}
		if decoded.SeesTarget {
			events <- "feedback:true"
		} else {
			events <- "feedback:false"
		}
	})

	if handle.Status() != goal.StatusAccepted {
		t.Fatalf("status after accept = %s, want accepted", handle.Status())
	}
	if handle.GoalID() != "g1" || !handle.Accepted() {
		t.Fatalf("goal id = %q accepted=%v, want g1 accepted", handle.GoalID(), handle.Accepted())
	}
	if client.LiveGoals() != 1 {
		t.Errorf("LiveGoals = %d, want 1", client.LiveGoals())
	}

	if err := handle.Result().OnComplete(func(action.Result, error) { events <- "result" }); err != nil {
		t.Fatalf("OnComplete: %v", err)
	}

	executor.PublishFeedback("g1", targetFeedback{SeesTarget: false})
	executor.PublishFeedback("g1", targetFeedback{SeesTarget: true})
	if err := executor.CompleteGoal("g1", goal.StatusSucceeded, completionResult{IsComplete: true}); err != nil {
		t.Fatalf("CompleteGoal: %v", err)
	}

	for _, want := range []string{"feedback:false", "feedback:true", "result"} {
		if got := testutil.RequireReceive(t, events, waitTimeout, "event %s", want); got != want {
			t.Fatalf("event = %q, want %q", got, want)
		}
	}

	result, err := await(t, handle.Result(), "result")
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	var decoded completionResult
	if err := result.Decode(&decoded); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if !decoded.IsComplete {
		t.Error("isComplete = false, want true")
	}
	if result.Status != goal.StatusSucceeded || handle.Status() != goal.StatusSucceeded {
		t.Errorf("final status = %s (result %s), want succeeded", handle.Status(), result.Status)
	}
	if client.LiveGoals() != 0 {
		t.Errorf("LiveGoals after result = %d, want 0", client.LiveGoals())
	}
	if stats := client.Stats(); stats.FeedbackDelivered != 2 || stats.ContractViolations != 0 {
		t.Errorf("stats = %+v, want 2 feedback and no violations", stats)
	}
}

func TestRejectedGoalScenario(t *testing.T) {
	executor := actionmem.NewExecutor()
	executor.OnGoal(func(context.Context, goal.SendGoalRequest) (goal.SendGoalResponse, error) {
		return goal.SendGoalResponse{Accepted: false, Reason: "robot is busy"}, nil
	})
	client := startClient(t, executor)

	called := make(chan struct{}, 1)
	handle := submit(t, client, map[string]any{}, func(*action.GoalHandle, action.Feedback) {
		called <- struct{}{}
	})

	if handle.Status() != goal.StatusRejected {
		t.Fatalf("status = %s, want rejected", handle.Status())
	}
	if handle.Accepted() || handle.GoalID() != "" {
		t.Errorf("rejected handle has goal id %q", handle.GoalID())
	}
	if handle.RejectReason() != "robot is busy" {
		t.Errorf("RejectReason = %q", handle.RejectReason())
	}

	result, err := await(t, handle.Result(), "rejected result")
	if err != nil || result.Status != goal.StatusRejected {
		t.Fatalf("result = (%+v, %v), want rejected", result, err)
	}

	// Nothing addressed to the id the executor might have used may
	// reach the callback.
	executor.PublishFeedback("g2", targetFeedback{SeesTarget: true})
	executor.Publish(goal.StreamFrame{Type: goal.FrameResult, GoalID: "g2", Status: goal.StatusSucceeded})
	barrier(t, client, handle)

	select {
	case <-called:
		t.Fatal("feedback callback invoked for rejected goal")
	default:
	}
	stats := client.Stats()
	if stats.StaleFeedback != 1 || stats.StaleResults != 1 {
		t.Errorf("stats = %+v, want one stale feedback and one stale result", stats)
	}
	if handle.Status() != goal.StatusRejected {
		t.Errorf("status changed to %s", handle.Status())
	}
}

func TestWaitForServerZeroTimeoutWithoutExecutor(t *testing.T) {
	executor := actionmem.NewExecutor()
	executor.SetAvailable(false)
	client, err := action.NewClient(action.ClientConfig{Transport: executor, Logger: testLogger()})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	runClient(t, client)

	returned := make(chan bool, 1)
	go func() { returned <- client.WaitForServer(t.Context(), 0) }()
	if testutil.RequireReceive(t, returned, waitTimeout, "WaitForServer(0)") {
		t.Fatal("WaitForServer(0) = true with no executor")
	}

	request, _ := action.NewGoalRequest(map[string]any{})
	if _, err := await(t, client.SendGoal(request, nil), "submission"); !errors.Is(err, action.ErrServerUnavailable) {
		t.Fatalf("SendGoal error = %v, want ErrServerUnavailable", err)
	}
}

func TestWaitForServerPollsUntilAvailable(t *testing.T) {
	executor := actionmem.NewExecutor()
	executor.SetAvailable(false)
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	client, err := action.NewClient(action.ClientConfig{
		Transport:    executor,
		Logger:       testLogger(),
		Clock:        fake,
		PollInterval: time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	runClient(t, client)

	returned := make(chan bool, 1)
	go func() { returned <- client.WaitForServer(t.Context(), 10*time.Second) }()

	// Deadline plus the first poll interval.
	fake.WaitForTimers(2)
	executor.SetAvailable(true)
	fake.Advance(time.Second)

	if !testutil.RequireReceive(t, returned, waitTimeout, "WaitForServer") {
		t.Fatal("WaitForServer = false after executor became available")
	}
	if executor.Subscriptions() != 1 {
		t.Errorf("subscriptions = %d, want 1", executor.Subscriptions())
	}
}

func TestWaitForServerTimesOut(t *testing.T) {
	executor := actionmem.NewExecutor()
	executor.SetAvailable(false)
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	client, err := action.NewClient(action.ClientConfig{
		Transport:    executor,
		Logger:       testLogger(),
		Clock:        fake,
		PollInterval: time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	runClient(t, client)

	returned := make(chan bool, 1)
	go func() { returned <- client.WaitForServer(t.Context(), 3*time.Second) }()

	for range 3 {
		fake.WaitForTimers(2)
		fake.Advance(time.Second)
	}
	if testutil.RequireReceive(t, returned, waitTimeout, "WaitForServer") {
		t.Fatal("WaitForServer = true with no executor")
	}
}

func TestWaitForServerContextCancelled(t *testing.T) {
	executor := actionmem.NewExecutor()
	executor.SetAvailable(false)
	client, err := action.NewClient(action.ClientConfig{Transport: executor, Logger: testLogger()})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	runClient(t, client)

	ctx, cancel := context.WithCancel(t.Context())
	returned := make(chan bool, 1)
	go func() { returned <- client.WaitForServer(ctx, action.WaitForever) }()
	cancel()
	if testutil.RequireReceive(t, returned, waitTimeout, "WaitForServer") {
		t.Fatal("WaitForServer = true after cancellation")
	}
}

func TestExecutingStatusThenResult(t *testing.T) {
	executor := actionmem.NewExecutor()
	client := startClient(t, executor)

	handle := submit(t, client, map[string]any{}, nil)
	executor.PublishStatus(handle.GoalID(), goal.StatusExecuting)
	// accepted after executing would move backwards and is ignored.
	executor.PublishStatus(handle.GoalID(), goal.StatusAccepted)

	executor.CompleteGoal(handle.GoalID(), goal.StatusAborted, nil)
	result, err := await(t, handle.Result(), "result")
	if err != nil || result.Status != goal.StatusAborted {
		t.Fatalf("result = (%+v, %v), want aborted", result, err)
	}
	if err := result.Decode(&completionResult{}); err == nil {
		t.Error("Decode of an empty result payload should fail")
	}

	// A status update after the result is stale and cannot regress
	// the terminal status.
	executor.PublishStatus(handle.GoalID(), goal.StatusExecuting)
	barrier(t, client, handle)
	if handle.Status() != goal.StatusAborted {
		t.Fatalf("status = %s, want aborted", handle.Status())
	}
	if client.Stats().StaleStatus != 1 {
		t.Errorf("StaleStatus = %d, want 1", client.Stats().StaleStatus)
	}
}

func TestExecutingStatusObserved(t *testing.T) {
	executor := actionmem.NewExecutor()
	client := startClient(t, executor)

	handle := submit(t, client, map[string]any{}, nil)
	executor.PublishStatus(handle.GoalID(), goal.StatusExecuting)

	// A second goal's round trip orders after the status frame.
	other := submit(t, client, map[string]any{}, nil)
	executor.CompleteGoal(other.GoalID(), goal.StatusSucceeded, nil)
	await(t, other.Result(), "other result")

	if handle.Status() != goal.StatusExecuting {
		t.Fatalf("status = %s, want executing", handle.Status())
	}
}

func TestCancelLiveGoal(t *testing.T) {
	executor := actionmem.NewExecutor()
	client := startClient(t, executor)

	handle := submit(t, client, map[string]any{}, nil)
	cancelResult, err := await(t, client.CancelGoal(handle), "cancel")
	if err != nil {
		t.Fatalf("CancelGoal: %v", err)
	}
	if !cancelResult.Acknowledged || cancelResult.AlreadyTerminal || cancelResult.GoalID != handle.GoalID() {
		t.Fatalf("cancel result = %+v", cancelResult)
	}
	if cancels := executor.Cancels(); len(cancels) != 1 || cancels[0] != handle.GoalID() {
		t.Fatalf("executor cancels = %v", cancels)
	}

	// Acknowledgement alone does not change status.
	if handle.Status() != goal.StatusAccepted || !handle.CancelRequested() {
		t.Fatalf("status = %s cancelRequested=%v, want accepted and requested", handle.Status(), handle.CancelRequested())
	}

	executor.CompleteGoal(handle.GoalID(), goal.StatusCanceled, nil)
	result, err := await(t, handle.Result(), "result")
	if err != nil || result.Status != goal.StatusCanceled {
		t.Fatalf("result = (%+v, %v), want canceled", result, err)
	}
	if handle.Status() != goal.StatusCanceled {
		t.Errorf("status = %s, want canceled", handle.Status())
	}
}

func TestCancelTerminalGoalIsNoop(t *testing.T) {
	executor := actionmem.NewExecutor()
	client := startClient(t, executor)

	handle := submit(t, client, map[string]any{}, nil)
	executor.CompleteGoal(handle.GoalID(), goal.StatusSucceeded, completionResult{IsComplete: true})
	await(t, handle.Result(), "result")

	for range 2 {
		cancelResult, err := await(t, client.CancelGoal(handle), "cancel")
		if err != nil {
			t.Fatalf("CancelGoal on finished goal: %v", err)
		}
		if !cancelResult.Acknowledged || !cancelResult.AlreadyTerminal {
			t.Fatalf("cancel result = %+v, want acknowledged no-op", cancelResult)
		}
	}
	if len(executor.Cancels()) != 0 {
		t.Errorf("cancel sent for finished goal: %v", executor.Cancels())
	}
	if handle.Status() != goal.StatusSucceeded {
		t.Errorf("status = %s, want succeeded", handle.Status())
	}
}

func TestCancelFailureIsTransportError(t *testing.T) {
	executor := actionmem.NewExecutor()
	client := startClient(t, executor)
	handle := submit(t, client, map[string]any{}, nil)

	cause := errors.New("cancel service down")
	executor.SetCancelError(cause)
	_, err := await(t, client.CancelGoal(handle), "cancel")

	var transportErr *action.TransportError
	if !errors.As(err, &transportErr) || !errors.Is(err, cause) {
		t.Fatalf("cancel error = %v, want TransportError wrapping cause", err)
	}
	if transportErr.Op != goal.ProtocolCancelGoal || transportErr.GoalID != handle.GoalID() {
		t.Errorf("TransportError = %+v", transportErr)
	}
	if handle.Status() != goal.StatusAccepted {
		t.Errorf("status = %s, want accepted", handle.Status())
	}
}

func TestCancelForeignHandle(t *testing.T) {
	executor := actionmem.NewExecutor()
	first := startClient(t, executor)
	second := startClient(t, executor)

	handle := submit(t, first, map[string]any{}, nil)
	if _, err := await(t, second.CancelGoal(handle), "cancel"); !errors.Is(err, action.ErrGoalNotLive) {
		t.Fatalf("cancel error = %v, want ErrGoalNotLive", err)
	}
	if _, err := await(t, second.CancelGoal(nil), "cancel nil"); !errors.Is(err, action.ErrGoalNotLive) {
		t.Fatalf("cancel nil error = %v, want ErrGoalNotLive", err)
	}
}

func TestStaleMessagesAreDropped(t *testing.T) {
	executor := actionmem.NewExecutor()
	client := startClient(t, executor)

	called := make(chan struct{}, 4)
	handle := submit(t, client, map[string]any{}, func(*action.GoalHandle, action.Feedback) {
		called <- struct{}{}
	})

	executor.PublishFeedback("unknown", targetFeedback{})
	executor.PublishStatus("unknown", goal.StatusExecuting)
	executor.Publish(goal.StreamFrame{Type: goal.FrameResult, GoalID: "unknown", Status: goal.StatusSucceeded})

	executor.CompleteGoal(handle.GoalID(), goal.StatusSucceeded, nil)
	await(t, handle.Result(), "result")

	// Feedback after the result is stale too.
	executor.PublishFeedback(handle.GoalID(), targetFeedback{SeesTarget: true})
	barrier(t, client, handle)

	select {
	case <-called:
		t.Fatal("callback invoked for a stale message")
	default:
	}
	stats := client.Stats()
	want := action.Stats{StaleFeedback: 2, StaleStatus: 1, StaleResults: 1}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}

	// The loop is still serving goals.
	next := submit(t, client, map[string]any{}, nil)
	if next.Status() != goal.StatusAccepted {
		t.Errorf("next goal status = %s", next.Status())
	}
}

func TestPushedResults(t *testing.T) {
	executor := actionmem.NewExecutor()
	executor.SetPushResults(true)
	client := startClient(t, executor, func(config *action.ClientConfig) {
		config.PushResults = true
	})

	handle := submit(t, client, map[string]any{}, nil)
	executor.CompleteGoal(handle.GoalID(), goal.StatusSucceeded, completionResult{IsComplete: true})

	result, err := await(t, handle.Result(), "pushed result")
	if err != nil || result.Status != goal.StatusSucceeded {
		t.Fatalf("result = (%+v, %v), want succeeded", result, err)
	}
}

func TestFramesBeforeAcceptAreReplayed(t *testing.T) {
	executor := actionmem.NewExecutor()
	executor.SetPushResults(true)
	// The executor finishes the goal before its accept response is
	// sent, as a fast executor on a separate stream connection can.
	executor.OnGoal(func(context.Context, goal.SendGoalRequest) (goal.SendGoalResponse, error) {
		executor.PublishFeedback("fast", targetFeedback{SeesTarget: true})
		executor.CompleteGoal("fast", goal.StatusSucceeded, completionResult{IsComplete: true})
		return goal.SendGoalResponse{Accepted: true, GoalID: "fast"}, nil
	})
	client := startClient(t, executor, func(config *action.ClientConfig) {
		config.PushResults = true
	})

	events := make(chan string, 4)
	handle := submit(t, client, map[string]any{}, func(*action.GoalHandle, action.Feedback) {
		events <- "feedback"
	})
	result, err := await(t, handle.Result(), "result")
	if err != nil || result.Status != goal.StatusSucceeded {
		t.Fatalf("result = (%+v, %v), want succeeded", result, err)
	}
	if got := testutil.RequireReceive(t, events, waitTimeout, "feedback"); got != "feedback" {
		t.Fatalf("event = %q", got)
	}
	if stats := client.Stats(); stats.StaleFeedback != 0 || stats.StaleResults != 0 {
		t.Errorf("stats = %+v, want nothing stale", stats)
	}
}

func TestEarlyFrameOverflowKeepsResult(t *testing.T) {
	type stepFeedback struct {
		Step int `json:"step"`
	}
	const published = 300

	executor := actionmem.NewExecutor()
	executor.SetPushResults(true)
	// Far more feedback than the client holds, then the result, all
	// before the accept response.
	executor.OnGoal(func(context.Context, goal.SendGoalRequest) (goal.SendGoalResponse, error) {
		for step := 0; step < published; step++ {
			executor.PublishFeedback("flood", stepFeedback{Step: step})
		}
		executor.CompleteGoal("flood", goal.StatusSucceeded, completionResult{IsComplete: true})
		return goal.SendGoalResponse{Accepted: true, GoalID: "flood"}, nil
	})
	client := startClient(t, executor, func(config *action.ClientConfig) {
		config.PushResults = true
	})

	// Feedback callbacks run on the loop before the result resolves,
	// so steps is complete once the result is observed.
	var steps []int
	handle := submit(t, client, map[string]any{}, func(_ *action.GoalHandle, feedback action.Feedback) {
		var decoded stepFeedback
		if err := feedback.Decode(&decoded); err != nil {
			t.Errorf("decoding feedback: %v", err)
		}
		steps = append(steps, decoded.Step)
	})
	result, err := await(t, handle.Result(), "result")
	if err != nil || result.Status != goal.StatusSucceeded {
		t.Fatalf("result = (%+v, %v), want succeeded", result, err)
	}
	if client.LiveGoals() != 0 {
		t.Errorf("LiveGoals = %d, want 0", client.LiveGoals())
	}

	const held = 256
	if len(steps) != held {
		t.Fatalf("delivered %d feedback messages, want %d", len(steps), held)
	}
	if steps[0] != published-held || steps[held-1] != published-1 {
		t.Errorf("delivered steps %d..%d, want the newest %d..%d", steps[0], steps[held-1], published-held, published-1)
	}
	stats := client.Stats()
	if stats.ShedFeedback != published-held || stats.StaleResults != 0 || stats.StaleFeedback != 0 {
		t.Errorf("stats = %+v, want %d shed and nothing stale", stats, published-held)
	}
}

func TestDuplicateResultIsStale(t *testing.T) {
	executor := actionmem.NewExecutor()
	executor.SetPushResults(true)
	client := startClient(t, executor)

	handle := submit(t, client, map[string]any{}, nil)
	executor.CompleteGoal(handle.GoalID(), goal.StatusSucceeded, nil)
	await(t, handle.Result(), "result")

	// Both the pushed frame and the get_result answer arrive; exactly
	// one settles the result future. Wait for the second to be
	// processed before reading the counters.
	deadline := time.Now().Add(waitTimeout)
	for client.Stats().StaleResults != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("stats = %+v, want one stale result", client.Stats())
		}
		barrier(t, client, handle)
	}
	if client.Stats().ContractViolations != 0 {
		t.Errorf("contract violations: %d", client.Stats().ContractViolations)
	}
}

func TestNonTerminalResultFailsGoal(t *testing.T) {
	executor := actionmem.NewExecutor()
	client := startClient(t, executor)
	handle := submit(t, client, map[string]any{}, nil)

	executor.CompleteGoal(handle.GoalID(), goal.StatusExecuting, nil)
	_, err := await(t, handle.Result(), "result")

	var transportErr *action.TransportError
	if !errors.As(err, &transportErr) || transportErr.Op != "result" {
		t.Fatalf("result error = %v, want result TransportError", err)
	}
}

func TestSendGoalTransportFailure(t *testing.T) {
	executor := actionmem.NewExecutor()
	cause := errors.New("connection reset")
	executor.OnGoal(func(context.Context, goal.SendGoalRequest) (goal.SendGoalResponse, error) {
		return goal.SendGoalResponse{}, cause
	})
	client := startClient(t, executor)

	request, _ := action.NewGoalRequest(map[string]any{})
	_, err := await(t, client.SendGoal(request, nil), "submission")
	var transportErr *action.TransportError
	if !errors.As(err, &transportErr) || !errors.Is(err, cause) {
		t.Fatalf("error = %v, want TransportError wrapping cause", err)
	}
	if transportErr.Op != goal.ProtocolSendGoal || transportErr.RequestID == "" {
		t.Errorf("TransportError = %+v", transportErr)
	}
}

func TestMalformedAcceptFailsSubmission(t *testing.T) {
	executor := actionmem.NewExecutor()
	executor.OnGoal(func(context.Context, goal.SendGoalRequest) (goal.SendGoalResponse, error) {
		return goal.SendGoalResponse{Accepted: true}, nil
	})
	client := startClient(t, executor)

	request, _ := action.NewGoalRequest(map[string]any{})
	var transportErr *action.TransportError
	if _, err := await(t, client.SendGoal(request, nil), "submission"); !errors.As(err, &transportErr) {
		t.Fatalf("error = %v, want TransportError", err)
	}
}

func TestDuplicateGoalIDFailsSubmission(t *testing.T) {
	executor := actionmem.NewExecutor()
	executor.OnGoal(acceptAs("same"))
	client := startClient(t, executor)

	first := submit(t, client, map[string]any{}, nil)
	request, _ := action.NewGoalRequest(map[string]any{})
	var transportErr *action.TransportError
	if _, err := await(t, client.SendGoal(request, nil), "second submission"); !errors.As(err, &transportErr) {
		t.Fatalf("error = %v, want TransportError for duplicate id", err)
	}

	// The first goal is unaffected.
	executor.CompleteGoal(first.GoalID(), goal.StatusSucceeded, nil)
	if result, err := await(t, first.Result(), "first result"); err != nil || result.Status != goal.StatusSucceeded {
		t.Fatalf("first result = (%+v, %v)", result, err)
	}
}

func TestStreamLossFailsInFlightGoals(t *testing.T) {
	executor := actionmem.NewExecutor()
	client := startClient(t, executor)

	handle := submit(t, client, map[string]any{}, nil)
	cause := errors.New("broken pipe")
	executor.FailSubscriptions(cause)

	_, err := await(t, handle.Result(), "result after stream loss")
	var transportErr *action.TransportError
	if !errors.As(err, &transportErr) || !errors.Is(err, cause) || transportErr.Op != "subscribe" {
		t.Fatalf("result error = %v, want subscribe TransportError wrapping cause", err)
	}
	if client.LiveGoals() != 0 {
		t.Errorf("LiveGoals = %d, want 0", client.LiveGoals())
	}

	request, _ := action.NewGoalRequest(map[string]any{})
	if _, err := await(t, client.SendGoal(request, nil), "submission"); !errors.Is(err, action.ErrServerUnavailable) {
		t.Fatalf("SendGoal after loss = %v, want ErrServerUnavailable", err)
	}

	// The client recovers once the server is confirmed again.
	if !client.WaitForServer(t.Context(), 0) {
		t.Fatal("WaitForServer after loss = false")
	}
	recovered := submit(t, client, map[string]any{}, nil)
	executor.CompleteGoal(recovered.GoalID(), goal.StatusSucceeded, nil)
	if result, err := await(t, recovered.Result(), "recovered result"); err != nil || result.Status != goal.StatusSucceeded {
		t.Fatalf("recovered result = (%+v, %v)", result, err)
	}
}

func TestShutdownFailsOutstandingFutures(t *testing.T) {
	executor := actionmem.NewExecutor()
	client, err := action.NewClient(action.ClientConfig{Transport: executor, Logger: testLogger()})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	stop := runClient(t, client)
	if !client.WaitForServer(t.Context(), 0) {
		t.Fatal("WaitForServer = false")
	}

	handle := submit(t, client, map[string]any{}, nil)
	stop()

	if _, err := await(t, handle.Result(), "result at shutdown"); !errors.Is(err, action.ErrClientClosed) {
		t.Fatalf("result error = %v, want ErrClientClosed", err)
	}

	testutil.RequireClosed(t, waitForClosed(client), waitTimeout, "client closed")
	request, _ := action.NewGoalRequest(map[string]any{})
	if _, err := await(t, client.SendGoal(request, nil), "submission"); !errors.Is(err, action.ErrClientClosed) {
		t.Fatalf("SendGoal after shutdown = %v, want ErrClientClosed", err)
	}
	if _, err := await(t, client.CancelGoal(handle), "cancel"); !errors.Is(err, action.ErrClientClosed) {
		t.Fatalf("CancelGoal after shutdown = %v, want ErrClientClosed", err)
	}
	if client.WaitForServer(t.Context(), 0) {
		t.Error("WaitForServer after shutdown = true")
	}
}

// waitForClosed returns a channel closed once SendGoal reports the
// client closed.
func waitForClosed(client *action.Client) <-chan struct{} {
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			request, _ := action.NewGoalRequest(map[string]any{})
			_, err, settled := client.SendGoal(request, nil).Result()
			if settled && errors.Is(err, action.ErrClientClosed) {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
	return closed
}

func TestFeedbackPanicDoesNotStopLoop(t *testing.T) {
	executor := actionmem.NewExecutor()
	client := startClient(t, executor)

	handle := submit(t, client, map[string]any{}, func(*action.GoalHandle, action.Feedback) {
		panic("callback bug")
	})
	executor.PublishFeedback(handle.GoalID(), targetFeedback{})
	executor.CompleteGoal(handle.GoalID(), goal.StatusSucceeded, nil)

	if result, err := await(t, handle.Result(), "result"); err != nil || result.Status != goal.StatusSucceeded {
		t.Fatalf("result = (%+v, %v), want succeeded", result, err)
	}
}

func TestGoalPayloadIsCopied(t *testing.T) {
	executor := actionmem.NewExecutor()
	client := startClient(t, executor)

	request, err := action.NewGoalRequest(map[string]any{"speed": 1})
	if err != nil {
		t.Fatalf("NewGoalRequest: %v", err)
	}
	original := bytes.Clone(request.Payload)
	submission := client.SendGoal(request, nil)
	for i := range request.Payload {
		request.Payload[i] = 0
	}
	handle, err := await(t, submission, "submission")
	if err != nil {
		t.Fatalf("SendGoal: %v", err)
	}

	goals := executor.Goals()
	if len(goals) != 1 || !bytes.Equal(goals[0].Goal, original) {
		t.Fatalf("executor saw %x, want %x", goals[0].Goal, original)
	}
	if goals[0].RequestID != handle.RequestID() || handle.RequestID() == "" {
		t.Errorf("request id mismatch: executor %q, handle %q", goals[0].RequestID, handle.RequestID())
	}
	if !bytes.Equal(handle.Request().Payload, original) {
		t.Error("handle request payload changed")
	}
}

func TestHandleTimestampsUseClientClock(t *testing.T) {
	executor := actionmem.NewExecutor()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fake := clock.Fake(start)
	client := startClient(t, executor, func(config *action.ClientConfig) {
		config.Clock = fake
	})

	handle := submit(t, client, map[string]any{}, nil)
	if !handle.SubmittedAt().Equal(start) || !handle.AcceptedAt().Equal(start) {
		t.Errorf("timestamps = %v / %v, want %v", handle.SubmittedAt(), handle.AcceptedAt(), start)
	}
}

func TestRunTwice(t *testing.T) {
	executor := actionmem.NewExecutor()
	client := startClient(t, executor)

	// A completed submission proves the first Run is serving.
	submit(t, client, map[string]any{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.Run(ctx); err == nil {
		t.Fatal("second Run did not report the client already running")
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := action.NewClient(action.ClientConfig{}); err == nil {
		t.Error("NewClient without transport should fail")
	}
	if _, err := action.NewClient(action.ClientConfig{Transport: actionmem.NewExecutor(), PollInterval: -time.Second}); err == nil {
		t.Error("NewClient with negative poll interval should fail")
	}
}
