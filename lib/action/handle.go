// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package action

import (
	"fmt"
	"sync"
	"time"

	"github.com/bureau-foundation/actionclient/lib/codec"
	"github.com/bureau-foundation/actionclient/lib/future"
	"github.com/bureau-foundation/actionclient/lib/schema/goal"
)

// GoalRequest is the caller's command. The payload is opaque CBOR; the
// client copies it at submission, so later changes to the caller's
// buffer do not affect the goal.
type GoalRequest struct {
	Payload codec.RawMessage
}

// NewGoalRequest encodes value as the payload of a GoalRequest.
func NewGoalRequest(value any) (GoalRequest, error) {
	payload, err := codec.Marshal(value)
	if err != nil {
		return GoalRequest{}, fmt.Errorf("encoding goal payload: %w", err)
	}
	return GoalRequest{Payload: payload}, nil
}

// Feedback is one intermediate progress message for a goal. It is
// handed to the feedback callback and not retained.
type Feedback struct {
	GoalID  goal.ID
	Payload codec.RawMessage
}

// Decode unmarshals the feedback payload into v.
func (f Feedback) Decode(v any) error {
	return codec.Unmarshal(f.Payload, v)
}

// Result is the terminal outcome of a goal. A rejected goal's result
// has Status rejected, an empty GoalID, and no payload.
type Result struct {
	GoalID  goal.ID
	Status  goal.Status
	Payload codec.RawMessage
}

// Decode unmarshals the result payload into v.
func (r Result) Decode(v any) error {
	if len(r.Payload) == 0 {
		return fmt.Errorf("goal %s finished %s without a result payload", r.GoalID, r.Status)
	}
	return codec.Unmarshal(r.Payload, v)
}

// CancelResult is the outcome of CancelGoal. AlreadyTerminal is set when
// the goal had finished before the request, in which case nothing was
// sent and Acknowledged is true.
type CancelResult struct {
	GoalID          goal.ID
	Acknowledged    bool
	AlreadyTerminal bool
}

// FeedbackFunc receives feedback for the goal it was registered with.
// It runs on the client's event loop.
type FeedbackFunc func(handle *GoalHandle, feedback Feedback)

// transitions lists, for each non-terminal status, the statuses it may
// move to.
var transitions = map[goal.Status][]goal.Status{
	goal.StatusSubmitted: {goal.StatusAccepted, goal.StatusRejected},
	goal.StatusAccepted:  {goal.StatusExecuting, goal.StatusSucceeded, goal.StatusAborted, goal.StatusCanceled},
	goal.StatusExecuting: {goal.StatusSucceeded, goal.StatusAborted, goal.StatusCanceled},
}

func transitionAllowed(from, to goal.Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// GoalHandle tracks one submitted goal. Callers receive it from the
// submission future and may read it from any goroutine; only the
// client's event loop changes it.
type GoalHandle struct {
	client      *Client
	requestID   string
	request     GoalRequest
	feedback    FeedbackFunc
	submittedAt time.Time
	result      *future.Future[Result]

	mu              sync.RWMutex
	goalID          goal.ID
	status          goal.Status
	acceptedAt      time.Time
	rejectReason    string
	cancelRequested bool

	// Loop-owned.
	submission *future.Future[*GoalHandle]
}

func newGoalHandle(client *Client, requestID string, request GoalRequest, feedback FeedbackFunc, submittedAt time.Time) *GoalHandle {
	return &GoalHandle{
		client:      client,
		requestID:   requestID,
		request:     GoalRequest{Payload: codec.Clone(request.Payload)},
		feedback:    feedback,
		submittedAt: submittedAt,
		result:      future.New[Result](),
		status:      goal.StatusSubmitted,
		submission:  future.New[*GoalHandle](),
	}
}

// RequestID is the client-chosen identifier sent with the goal.
func (h *GoalHandle) RequestID() string { return h.requestID }

// Request returns the submitted goal.
func (h *GoalHandle) Request() GoalRequest { return h.request }

// SubmittedAt is when SendGoal was called, by the client's clock.
func (h *GoalHandle) SubmittedAt() time.Time { return h.submittedAt }

// Result returns the future resolved with the goal's terminal result.
// It fails with a *TransportError if the outcome can no longer be
// learned, or ErrClientClosed if the client stops first.
func (h *GoalHandle) Result() *future.Future[Result] { return h.result }

// GoalID returns the executor-assigned ID, or "" before acceptance and
// for rejected goals.
func (h *GoalHandle) GoalID() goal.ID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.goalID
}

// Status returns the current lifecycle status.
func (h *GoalHandle) Status() goal.Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// Accepted reports whether the executor accepted the goal. It stays
// true after the goal finishes.
func (h *GoalHandle) Accepted() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.goalID != ""
}

// AcceptedAt is when the accept response was processed. Zero if the
// goal was never accepted.
func (h *GoalHandle) AcceptedAt() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.acceptedAt
}

// RejectReason is the executor's explanation for a rejection, if any.
func (h *GoalHandle) RejectReason() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rejectReason
}

// CancelRequested reports whether CancelGoal was called while the goal
// was still running. The status changes only when the executor reports
// a canceled result.
func (h *GoalHandle) CancelRequested() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cancelRequested
}

// accept records the executor's goal ID and moves to accepted.
func (h *GoalHandle) accept(goalID goal.ID, at time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.transitionLocked(goal.StatusAccepted); err != nil {
		return err
	}
	h.goalID = goalID
	h.acceptedAt = at
	return nil
}

// reject moves to rejected.
func (h *GoalHandle) reject(reason string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.transitionLocked(goal.StatusRejected); err != nil {
		return err
	}
	h.rejectReason = reason
	return nil
}

// transition moves the handle to status. Repeating the current status
// is a no-op; anything the state machine forbids is a
// *TransitionError.
func (h *GoalHandle) transition(status goal.Status) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transitionLocked(status)
}

func (h *GoalHandle) transitionLocked(status goal.Status) error {
	if h.status == status {
		return nil
	}
	if !transitionAllowed(h.status, status) {
		return &TransitionError{GoalID: h.goalID, From: h.status, To: status}
	}
	h.status = status
	return nil
}

func (h *GoalHandle) markCancelRequested() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancelRequested = true
}
