// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package goal

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/actionclient/lib/codec"
)

// ID identifies an accepted goal. The executor assigns it in the
// send_goal response; it is empty while a goal is pending.
type ID string

// Status is a goal's lifecycle state. Values serialize directly as
// CBOR text strings.
type Status string

const (
	// StatusSubmitted means the goal was sent and no accept/reject
	// response has been processed yet.
	StatusSubmitted Status = "submitted"

	// StatusAccepted means the executor accepted the goal and assigned
	// it an ID.
	StatusAccepted Status = "accepted"

	// StatusExecuting means the executor reported that work started.
	// Executors that do not distinguish acceptance from execution
	// never send it.
	StatusExecuting Status = "executing"

	// StatusSucceeded is terminal: the goal completed.
	StatusSucceeded Status = "succeeded"

	// StatusAborted is terminal: the executor gave up on the goal.
	StatusAborted Status = "aborted"

	// StatusCanceled is terminal: the executor honored a cancel
	// request.
	StatusCanceled Status = "canceled"

	// StatusRejected is terminal: the executor refused the goal.
	StatusRejected Status = "rejected"
)

// IsKnown reports whether s is one of the defined statuses.
func (s Status) IsKnown() bool {
	switch s {
	case StatusSubmitted, StatusAccepted, StatusExecuting,
		StatusSucceeded, StatusAborted, StatusCanceled, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether no further transitions can follow s.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusAborted, StatusCanceled, StatusRejected:
		return true
	}
	return false
}

// Protocol exchange names. The socket substrate uses them as the
// request "action" field; the NATS substrate appends them to the
// action's subject prefix.
const (
	ProtocolPing       = "ping"
	ProtocolSendGoal   = "send_goal"
	ProtocolCancelGoal = "cancel_goal"
	ProtocolGetResult  = "get_result"
	ProtocolSubscribe  = "subscribe"
)

// PingRequest asks whether the executor serves ActionName.
type PingRequest struct {
	ActionName string `cbor:"action_name"`
}

// PingResponse confirms the executor serves ActionName.
type PingResponse struct {
	ActionName string `cbor:"action_name"`
}

// SendGoalRequest submits one goal. RequestID is chosen by the client
// and echoed in logs on both sides; it is not the goal ID.
type SendGoalRequest struct {
	RequestID  string           `cbor:"request_id"`
	ActionName string           `cbor:"action_name"`
	Goal       codec.RawMessage `cbor:"goal,omitempty"`
}

// SendGoalResponse is the accept/reject answer to a SendGoalRequest.
// GoalID is set only when Accepted is true.
type SendGoalResponse struct {
	Accepted bool   `cbor:"accepted"`
	GoalID   ID     `cbor:"goal_id,omitempty"`
	Reason   string `cbor:"reason,omitempty"`
}

// Validate checks that an accepted response carries a goal ID.
func (r SendGoalResponse) Validate() error {
	if r.Accepted && r.GoalID == "" {
		return errors.New("accepted goal response has no goal_id")
	}
	return nil
}

// CancelGoalRequest asks the executor to cancel GoalID.
type CancelGoalRequest struct {
	GoalID ID `cbor:"goal_id"`
}

// CancelGoalResponse reports whether the executor will try to cancel
// the goal. Acknowledgement does not change the goal's status; only a
// canceled result does.
type CancelGoalResponse struct {
	Acknowledged bool `cbor:"acknowledged"`
}

// GetResultRequest long-polls for the terminal result of GoalID.
type GetResultRequest struct {
	GoalID ID `cbor:"goal_id"`
}

// ResultResponse is the terminal outcome of a goal.
type ResultResponse struct {
	GoalID ID               `cbor:"goal_id"`
	Status Status           `cbor:"status"`
	Result codec.RawMessage `cbor:"result,omitempty"`
}

// Validate checks that the response names a goal and a terminal
// status.
func (r ResultResponse) Validate() error {
	if r.GoalID == "" {
		return errors.New("result has no goal_id")
	}
	if !r.Status.Terminal() {
		return fmt.Errorf("result for goal %s has non-terminal status %q", r.GoalID, r.Status)
	}
	return nil
}

// SubscribeRequest opens the stream of frames for ActionName.
type SubscribeRequest struct {
	ActionName string `cbor:"action_name"`
}

// FrameType discriminates StreamFrame semantics.
type FrameType string

const (
	// FrameFeedback carries one feedback payload for GoalID.
	FrameFeedback FrameType = "feedback"

	// FrameStatus reports a non-terminal status change for GoalID
	// (in practice, executing).
	FrameStatus FrameType = "status"

	// FrameResult pushes the terminal result for GoalID.
	FrameResult FrameType = "result"

	// FrameHeartbeat is a liveness probe with no payload.
	FrameHeartbeat FrameType = "heartbeat"

	// FrameError is terminal for the stream: the executor is closing
	// it and Message says why.
	FrameError FrameType = "error"
)

// StreamFrame is one value on the subscribe stream.
type StreamFrame struct {
	Type    FrameType        `cbor:"type"`
	GoalID  ID               `cbor:"goal_id,omitempty"`
	Status  Status           `cbor:"status,omitempty"`
	Payload codec.RawMessage `cbor:"payload,omitempty"`
	Message string           `cbor:"message,omitempty"`
}

// Validate checks the fields each frame type requires.
func (f StreamFrame) Validate() error {
	switch f.Type {
	case FrameFeedback:
		if f.GoalID == "" {
			return errors.New("feedback frame has no goal_id")
		}
	case FrameStatus:
		if f.GoalID == "" {
			return errors.New("status frame has no goal_id")
		}
		if !f.Status.IsKnown() || f.Status.Terminal() {
			return fmt.Errorf("status frame for goal %s has invalid status %q", f.GoalID, f.Status)
		}
	case FrameResult:
		return ResultResponse{GoalID: f.GoalID, Status: f.Status}.Validate()
	case FrameHeartbeat, FrameError:
	default:
		return fmt.Errorf("unknown frame type %q", f.Type)
	}
	return nil
}
