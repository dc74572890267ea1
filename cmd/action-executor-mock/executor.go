// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/actionclient/lib/actionmem"
	"github.com/bureau-foundation/actionclient/lib/clock"
	"github.com/bureau-foundation/actionclient/lib/schema/dock"
	"github.com/bureau-foundation/actionclient/lib/schema/goal"
)

// scriptConfig shapes how the mock answers goals.
type scriptConfig struct {
	// ActionName decides the payloads: dock produces feedback and ends
	// docked, undock produces no feedback and ends undocked.
	ActionName string

	// RejectReason, when set, rejects every goal with this reason.
	RejectReason string

	// FeedbackInterval is the pause before each scripted step.
	FeedbackInterval time.Duration

	// FeedbackCount is the number of dock feedback messages. The robot
	// sees the dock from the second half of them on.
	FeedbackCount int

	// PushResults also carries results on the stream.
	PushResults bool

	Clock  clock.Clock
	Logger *slog.Logger
}

// scriptedExecutor plays a docking run for each accepted goal on top of
// an actionmem executor, which provides the Transport surface the
// server exposes.
type scriptedExecutor struct {
	*actionmem.Executor

	config scriptConfig

	mu      sync.Mutex
	running map[goal.ID]chan struct{}
	active  sync.WaitGroup
}

func newScriptedExecutor(config scriptConfig) *scriptedExecutor {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	executor := &scriptedExecutor{
		Executor: actionmem.NewExecutor(),
		config:   config,
		running:  make(map[goal.ID]chan struct{}),
	}
	executor.SetPushResults(config.PushResults)
	executor.OnGoal(executor.answer)
	executor.OnCancel(executor.cancel)
	return executor
}

func (e *scriptedExecutor) answer(_ context.Context, request goal.SendGoalRequest) (goal.SendGoalResponse, error) {
	if e.config.RejectReason != "" {
		e.config.Logger.Info("rejecting goal", "request_id", request.RequestID, "reason", e.config.RejectReason)
		return goal.SendGoalResponse{Accepted: false, Reason: e.config.RejectReason}, nil
	}

	goalID := goal.ID(uuid.NewString())
	stop := make(chan struct{})
	e.mu.Lock()
	e.running[goalID] = stop
	e.mu.Unlock()

	e.active.Add(1)
	go func() {
		defer e.active.Done()
		e.execute(goalID, stop)
	}()

	e.config.Logger.Info("goal accepted", "request_id", request.RequestID, "goal_id", goalID)
	return goal.SendGoalResponse{Accepted: true, GoalID: goalID}, nil
}

// cancel stops a running script. The script then finishes the goal as
// canceled. Unknown or finished goals are ignored.
func (e *scriptedExecutor) cancel(goalID goal.ID) {
	e.mu.Lock()
	stop, running := e.running[goalID]
	delete(e.running, goalID)
	e.mu.Unlock()

	if running {
		e.config.Logger.Info("cancel requested", "goal_id", goalID)
		close(stop)
	}
}

func (e *scriptedExecutor) execute(goalID goal.ID, stop <-chan struct{}) {
	e.PublishStatus(goalID, goal.StatusExecuting)

	docking := e.config.ActionName == dock.ActionDock
	feedback := 0
	if docking {
		feedback = e.config.FeedbackCount
	}
	// One pause before each feedback message and one before the result.
	for step := 0; step <= feedback; step++ {
		if !e.pause(stop) {
			// A canceled run leaves the robot where it started.
			e.finish(goalID, goal.StatusCanceled, !docking)
			return
		}
		if step < feedback {
			progress := dock.DockFeedback{SeesDock: step >= feedback/2}
			if err := e.PublishFeedback(goalID, progress); err != nil {
				e.config.Logger.Error("publishing feedback", "goal_id", goalID, "error", err)
			}
		}
	}

	e.mu.Lock()
	delete(e.running, goalID)
	e.mu.Unlock()
	e.finish(goalID, goal.StatusSucceeded, docking)
}

// pause waits one interval. It reports false if the goal was canceled.
func (e *scriptedExecutor) pause(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return false
	case <-e.config.Clock.After(e.config.FeedbackInterval):
		return true
	}
}

func (e *scriptedExecutor) finish(goalID goal.ID, status goal.Status, isDocked bool) {
	var result any = dock.DockResult{IsDocked: isDocked}
	if e.config.ActionName == dock.ActionUndock {
		result = dock.UndockResult{IsDocked: isDocked}
	}
	if err := e.CompleteGoal(goalID, status, result); err != nil {
		e.config.Logger.Error("completing goal", "goal_id", goalID, "error", err)
		return
	}
	e.config.Logger.Info("goal finished", "goal_id", goalID, "status", status, "is_docked", isDocked)
}

// Stop cancels every running script and waits for them to finish.
func (e *scriptedExecutor) Stop() {
	e.mu.Lock()
	running := e.running
	e.running = make(map[goal.ID]chan struct{})
	e.mu.Unlock()

	for _, stop := range running {
		close(stop)
	}
	e.active.Wait()
}
