// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package action

import (
	"context"

	"github.com/bureau-foundation/actionclient/lib/schema/goal"
)

// Transport is the messaging substrate for one action endpoint. It
// performs the wire exchanges; the Client decides what they mean.
//
// Request methods block until the executor answers, ctx is done, or the
// substrate fails. The Client calls them from its own goroutines, never
// from the event loop.
type Transport interface {
	// Ping checks that the executor serving this action is reachable.
	Ping(ctx context.Context) error

	// SendGoal submits a goal and returns the accept/reject answer.
	SendGoal(ctx context.Context, request goal.SendGoalRequest) (goal.SendGoalResponse, error)

	// CancelGoal asks the executor to cancel an accepted goal.
	CancelGoal(ctx context.Context, goalID goal.ID) (goal.CancelGoalResponse, error)

	// GetResult waits for the terminal result of an accepted goal.
	// It returns when the goal finishes, so ctx carries no deadline.
	GetResult(ctx context.Context, goalID goal.ID) (goal.ResultResponse, error)

	// Subscribe opens the stream of feedback, status, and result
	// frames for this action. deliver is never called concurrently
	// and sees frames in arrival order.
	// Heartbeat frames are consumed by the transport; an error frame
	// ends the subscription.
	Subscribe(ctx context.Context, deliver func(goal.StreamFrame)) (Subscription, error)
}

// Subscription is an open stream created by Transport.Subscribe.
type Subscription interface {
	// Done is closed when the stream ends for any reason.
	Done() <-chan struct{}

	// Err reports why the stream ended. Nil after Close or before
	// Done is closed.
	Err() error

	// Close ends the stream. No deliveries happen after Close
	// returns.
	Close() error
}
