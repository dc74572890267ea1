// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package action

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/actionclient/lib/schema/goal"
)

// ErrServerUnavailable fails a submission made before WaitForServer
// confirmed the executor, or after the stream to it was lost.
var ErrServerUnavailable = errors.New("action server unavailable")

// ErrClientClosed fails every future still outstanding when Run
// returns, and every operation requested afterwards.
var ErrClientClosed = errors.New("action client closed")

// ErrGoalNotLive fails a cancel request for a handle this client did
// not create, or for a goal it stopped tracking after a transport
// failure.
var ErrGoalNotLive = errors.New("goal is not live on this client")

// TransportError is a substrate or protocol failure affecting one
// exchange. Op names the exchange ("send_goal", "cancel_goal",
// "get_result", "subscribe", "result").
type TransportError struct {
	Op        string
	RequestID string
	GoalID    goal.ID
	Err       error
}

func (e *TransportError) Error() string {
	switch {
	case e.GoalID != "":
		return fmt.Sprintf("%s for goal %s: %v", e.Op, e.GoalID, e.Err)
	case e.RequestID != "":
		return fmt.Sprintf("%s for request %s: %v", e.Op, e.RequestID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TransitionError reports a status change the goal state machine does
// not allow.
type TransitionError struct {
	GoalID goal.ID
	From   goal.Status
	To     goal.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("goal %s: invalid transition %s -> %s", e.GoalID, e.From, e.To)
}
