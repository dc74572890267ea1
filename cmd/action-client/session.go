// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/actionclient/lib/action"
	"github.com/bureau-foundation/actionclient/lib/clock"
	"github.com/bureau-foundation/actionclient/lib/codec"
	"github.com/bureau-foundation/actionclient/lib/process"
	"github.com/bureau-foundation/actionclient/lib/schema/dock"
	"github.com/bureau-foundation/actionclient/lib/schema/goal"
)

// interruptGrace bounds the wait for a canceled goal's result after an
// interrupt.
const interruptGrace = 5 * time.Second

// session drives one goal through a running client.
type session struct {
	client      *action.Client
	actionName  string
	logger      *slog.Logger
	clock       clock.Clock
	cancelAfter time.Duration

	cancelRequested atomic.Bool
}

// run submits request and blocks until the goal finishes. The client
// must have confirmed the server.
func (s *session) run(ctx context.Context, request action.GoalRequest) error {
	handle, err := s.client.SendGoal(request, s.logFeedback).Wait(ctx)
	if err != nil {
		return fmt.Errorf("sending %s goal: %w", s.actionName, err)
	}
	if !handle.Accepted() {
		s.logger.Info("goal rejected", "reason", handle.RejectReason())
		return process.WithExitCode(exitRejected,
			fmt.Errorf("%s goal rejected: %s", s.actionName, handle.RejectReason()))
	}
	s.logger.Info("goal accepted", "goal_id", handle.GoalID())

	if s.cancelAfter > 0 {
		timer := s.clock.AfterFunc(s.cancelAfter, func() { s.requestCancel(handle) })
		defer timer.Stop()
	}

	result, err := handle.Result().Wait(ctx)
	if err == nil {
		return s.finish(result)
	}
	if ctx.Err() == nil {
		return fmt.Errorf("waiting for %s result: %w", s.actionName, err)
	}

	s.logger.Info("canceling goal before exit", "goal_id", handle.GoalID())
	s.requestCancel(handle)
	graceCtx, cancel := context.WithTimeout(context.Background(), interruptGrace)
	defer cancel()
	result, err = handle.Result().Wait(graceCtx)
	if err != nil {
		s.logger.Warn("goal did not finish after cancel", "goal_id", handle.GoalID(), "error", err)
		return ctx.Err()
	}
	s.report(result)
	return ctx.Err()
}

// requestCancel asks the executor to cancel handle's goal. The outcome
// is only logged; the goal's result reports what actually happened.
func (s *session) requestCancel(handle *action.GoalHandle) {
	s.cancelRequested.Store(true)
	s.client.CancelGoal(handle).OnComplete(func(result action.CancelResult, err error) {
		switch {
		case err != nil:
			s.logger.Warn("cancel failed", "goal_id", handle.GoalID(), "error", err)
		case result.AlreadyTerminal:
			s.logger.Info("goal already finished, nothing to cancel", "goal_id", handle.GoalID())
		default:
			s.logger.Info("cancel requested", "goal_id", handle.GoalID(), "acknowledged", result.Acknowledged)
		}
	})
}

// finish reports result and maps it to run's error.
func (s *session) finish(result action.Result) error {
	s.report(result)
	switch {
	case result.Status == goal.StatusSucceeded:
		return nil
	case result.Status == goal.StatusCanceled && s.cancelRequested.Load():
		return nil
	}
	return process.WithExitCode(exitNotSucceeded,
		fmt.Errorf("%s goal %s finished %s", s.actionName, result.GoalID, result.Status))
}

// logFeedback runs on the client's loop for each feedback message.
func (s *session) logFeedback(handle *action.GoalHandle, feedback action.Feedback) {
	if s.actionName == dock.ActionDock {
		var progress dock.DockFeedback
		if err := feedback.Decode(&progress); err != nil {
			s.logger.Warn("undecodable dock feedback", "goal_id", feedback.GoalID, "error", err)
			return
		}
		s.logger.Info("robot sees dock status", "goal_id", feedback.GoalID, "sees_dock", progress.SeesDock)
		return
	}
	s.logger.Info("feedback", "goal_id", feedback.GoalID, "payload", describe(feedback.Payload))
}

// report logs the final status, decoding the docking state for the
// dock-family actions.
func (s *session) report(result action.Result) {
	if dock.Known(s.actionName) && len(result.Payload) > 0 {
		var outcome dock.DockResult
		if err := result.Decode(&outcome); err == nil {
			s.logger.Info("final docking status", "goal_id", result.GoalID, "status", result.Status, "is_docked", outcome.IsDocked)
			return
		}
	}
	s.logger.Info("goal finished", "goal_id", result.GoalID, "status", result.Status, "payload", describe(result.Payload))
}

// describe renders a payload in CBOR diagnostic notation for logs.
func describe(payload codec.RawMessage) string {
	if len(payload) == 0 {
		return ""
	}
	text, err := codec.Diagnose(payload)
	if err != nil {
		return fmt.Sprintf("<%d undecodable bytes>", len(payload))
	}
	return text
}
