// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package action

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/bureau-foundation/actionclient/lib/future"
	"github.com/bureau-foundation/actionclient/lib/schema/goal"
)

// SendGoal submits request and returns immediately. The returned future
// resolves with the goal's handle once the executor accepts or rejects
// it; a rejection is a normal resolution with a rejected handle.
// feedback, if non-nil, is called on the event loop for every feedback
// message of the accepted goal, always before the handle's result
// future resolves.
//
// The future fails with ErrServerUnavailable if WaitForServer has not
// succeeded, with a *TransportError if the exchange fails, and with
// ErrClientClosed if the client stops first.
func (c *Client) SendGoal(request GoalRequest, feedback FeedbackFunc) *future.Future[*GoalHandle] {
	if c.isClosed() {
		return future.Failed[*GoalHandle](ErrClientClosed)
	}
	if !c.serverConfirmed.Load() {
		return future.Failed[*GoalHandle](ErrServerUnavailable)
	}

	handle := newGoalHandle(c, uuid.NewString(), request, feedback, c.clock.Now())
	if !c.post(func() { c.submit(handle) }) {
		return future.Failed[*GoalHandle](ErrClientClosed)
	}
	return handle.submission
}

// CancelGoal asks the executor to cancel the goal behind handle and
// returns immediately. The goal's status does not change until the
// executor reports a canceled result.
//
// Canceling a finished goal resolves at once with AlreadyTerminal set
// and sends nothing. Canceling a goal the client no longer tracks
// because its result could not be learned fails with ErrGoalNotLive.
func (c *Client) CancelGoal(handle *GoalHandle) *future.Future[CancelResult] {
	if handle == nil || handle.client != c {
		return future.Failed[CancelResult](ErrGoalNotLive)
	}
	result := future.New[CancelResult]()
	if !c.post(func() { c.cancel(handle, result) }) {
		result.Fail(ErrClientClosed)
	}
	return result
}

// submit runs on the loop.
func (c *Client) submit(handle *GoalHandle) {
	if c.stopped {
		c.fail(handle.submission, ErrClientClosed, "submission")
		c.fail(handle.result, ErrClientClosed, "result")
		return
	}

	c.pending[handle.requestID] = handle
	c.logger.Debug("submitting goal", "request_id", handle.requestID)

	request := goal.SendGoalRequest{
		RequestID: handle.requestID,
		Goal:      handle.request.Payload,
	}
	go func() {
		ctx, cancel := context.WithTimeout(c.lifetime, c.requestTimeout)
		defer cancel()
		response, err := c.transport.SendGoal(ctx, request)
		c.post(func() { c.handleGoalResponse(handle, response, err) })
	}()
}

// handleGoalResponse runs on the loop with the outcome of send_goal.
func (c *Client) handleGoalResponse(handle *GoalHandle, response goal.SendGoalResponse, err error) {
	if c.pending[handle.requestID] != handle {
		// Already failed by a lost stream or shutdown.
		return
	}
	delete(c.pending, handle.requestID)
	defer c.replayEarly()

	if err == nil {
		err = response.Validate()
	}
	if err == nil && response.Accepted {
		if _, duplicate := c.live[response.GoalID]; duplicate {
			err = errors.New("executor reused the id of a live goal")
		}
	}
	if err != nil {
		transportErr := &TransportError{Op: goal.ProtocolSendGoal, RequestID: handle.requestID, Err: err}
		c.logger.Warn("goal submission failed", "request_id", handle.requestID, "error", err)
		c.fail(handle.submission, transportErr, "submission")
		c.fail(handle.result, transportErr, "result")
		return
	}

	if !response.Accepted {
		if err := handle.reject(response.Reason); err != nil {
			c.contractViolation("submission", err)
			return
		}
		c.logger.Info("goal rejected", "request_id", handle.requestID, "reason", response.Reason)
		resolve(c, handle.submission, handle, "submission")
		resolve(c, handle.result, Result{Status: goal.StatusRejected}, "result")
		return
	}

	if err := handle.accept(response.GoalID, c.clock.Now()); err != nil {
		c.contractViolation("submission", err)
		return
	}
	c.track(handle)
	c.logger.Info("goal accepted", "request_id", handle.requestID, "goal_id", response.GoalID)

	resolve(c, handle.submission, handle, "submission")

	if !c.pushResults {
		c.requestResult(handle)
	}
}

// requestResult long-polls get_result for an accepted goal.
func (c *Client) requestResult(handle *GoalHandle) {
	goalID := handle.GoalID()
	go func() {
		response, err := c.transport.GetResult(c.lifetime, goalID)
		c.post(func() {
			if err != nil {
				c.handleResultFailure(handle, err)
				return
			}
			c.handleResult(response)
		})
	}()
}

func (c *Client) handleResultFailure(handle *GoalHandle, err error) {
	goalID := handle.GoalID()
	if c.live[goalID] != handle {
		return
	}
	c.untrack(goalID)
	c.logger.Warn("result request failed", "goal_id", goalID, "error", err)
	c.fail(handle.result, &TransportError{Op: goal.ProtocolGetResult, GoalID: goalID, Err: err}, "result")
}

// handleResult finishes a live goal. Results for goals that are not
// live (unknown, or already finished through the other result path)
// are stale and dropped.
func (c *Client) handleResult(response goal.ResultResponse) {
	handle, live := c.live[response.GoalID]
	if !live {
		c.staleResults.Add(1)
		c.logger.Debug("dropping stale result", "goal_id", response.GoalID, "status", response.Status)
		return
	}
	c.untrack(response.GoalID)

	err := response.Validate()
	if err == nil {
		err = handle.transition(response.Status)
	}
	if err != nil {
		c.logger.Warn("invalid result", "goal_id", response.GoalID, "error", err)
		c.fail(handle.result, &TransportError{Op: "result", GoalID: response.GoalID, Err: err}, "result")
		return
	}

	c.logger.Info("goal finished", "goal_id", response.GoalID, "status", response.Status)
	resolve(c, handle.result, Result{
		GoalID:  response.GoalID,
		Status:  response.Status,
		Payload: response.Result,
	}, "result")
}

// dispatchFrame routes one stream frame on the loop. A frame for an
// unknown goal is held while submissions are outstanding: on substrates
// where the stream and the send_goal reply travel separately, a goal's
// first frames can arrive before its accept response.
func (c *Client) dispatchFrame(frame goal.StreamFrame) {
	if _, live := c.live[frame.GoalID]; !live && len(c.pending) > 0 {
		switch frame.Type {
		case goal.FrameFeedback, goal.FrameStatus, goal.FrameResult:
			c.holdEarly(frame)
			return
		}
	}

	switch frame.Type {
	case goal.FrameFeedback:
		c.handleFeedback(frame)
	case goal.FrameStatus:
		c.handleStatus(frame)
	case goal.FrameResult:
		c.handleResult(goal.ResultResponse{GoalID: frame.GoalID, Status: frame.Status, Result: frame.Payload})
	default:
		c.logger.Debug("ignoring stream frame", "type", frame.Type)
	}
}

// holdEarly buffers a frame that arrived ahead of its accept. Only
// feedback counts against maxEarlyFrames: when the buffer is full the
// oldest held feedback is shed, and status and result frames are always
// kept so a goal can still finish.
func (c *Client) holdEarly(frame goal.StreamFrame) {
	if len(c.early) >= maxEarlyFrames {
		shed := -1
		for i, held := range c.early {
			if held.Type == goal.FrameFeedback {
				shed = i
				break
			}
		}
		switch {
		case shed >= 0:
			c.shedFeedback.Add(1)
			c.logger.Warn("early frame buffer full, dropping oldest feedback", "goal_id", c.early[shed].GoalID)
			c.early = append(c.early[:shed], c.early[shed+1:]...)
		case frame.Type == goal.FrameFeedback:
			c.shedFeedback.Add(1)
			c.logger.Warn("early frame buffer full, dropping feedback", "goal_id", frame.GoalID)
			return
		}
	}
	c.early = append(c.early, frame)
}

// replayEarly redispatches held frames in arrival order once a
// submission has been answered. Frames still unclaimed when no
// submission remains outstanding are stale.
func (c *Client) replayEarly() {
	frames := c.early
	c.early = nil
	for _, frame := range frames {
		c.dispatchFrame(frame)
	}
}

// handleFeedback invokes the goal's feedback callback. Feedback for a
// goal that is not live (not yet accepted, finished, or unknown) is
// dropped.
func (c *Client) handleFeedback(frame goal.StreamFrame) {
	handle, live := c.live[frame.GoalID]
	if !live {
		c.staleFeedback.Add(1)
		c.logger.Debug("dropping stale feedback", "goal_id", frame.GoalID)
		return
	}
	if handle.feedback == nil {
		return
	}
	c.feedbackDelivered.Add(1)
	c.guard("feedback", func() {
		handle.feedback(handle, Feedback{GoalID: frame.GoalID, Payload: frame.Payload})
	})
}

// handleStatus applies a non-terminal status update.
func (c *Client) handleStatus(frame goal.StreamFrame) {
	handle, live := c.live[frame.GoalID]
	if !live {
		c.staleStatus.Add(1)
		c.logger.Debug("dropping stale status", "goal_id", frame.GoalID, "status", frame.Status)
		return
	}
	if frame.Status.Terminal() {
		// Terminal outcomes arrive only as results.
		c.logger.Debug("ignoring terminal status frame", "goal_id", frame.GoalID, "status", frame.Status)
		return
	}
	if err := handle.transition(frame.Status); err != nil {
		c.logger.Debug("ignoring status update", "error", err)
		return
	}
	c.logger.Debug("goal status changed", "goal_id", frame.GoalID, "status", frame.Status)
}

// cancel runs on the loop.
func (c *Client) cancel(handle *GoalHandle, result *future.Future[CancelResult]) {
	if c.stopped {
		c.fail(result, ErrClientClosed, "cancel")
		return
	}

	if handle.Status().Terminal() {
		resolve(c, result, CancelResult{
			GoalID:          handle.GoalID(),
			Acknowledged:    true,
			AlreadyTerminal: true,
		}, "cancel")
		return
	}
	if goalID := handle.GoalID(); goalID == "" || c.live[goalID] != handle {
		c.fail(result, ErrGoalNotLive, "cancel")
		return
	}
	c.sendCancel(handle, result)
}

// sendCancel issues cancel_goal for a live goal.
func (c *Client) sendCancel(handle *GoalHandle, result *future.Future[CancelResult]) {
	handle.markCancelRequested()
	c.cancels[result] = handle
	goalID := handle.GoalID()
	c.logger.Info("requesting goal cancellation", "goal_id", goalID)

	go func() {
		ctx, cancel := context.WithTimeout(c.lifetime, c.requestTimeout)
		defer cancel()
		response, err := c.transport.CancelGoal(ctx, goalID)
		c.post(func() { c.handleCancelResponse(goalID, result, response, err) })
	}()
}

func (c *Client) handleCancelResponse(goalID goal.ID, result *future.Future[CancelResult], response goal.CancelGoalResponse, err error) {
	if _, outstanding := c.cancels[result]; !outstanding {
		return
	}
	delete(c.cancels, result)

	if err != nil {
		c.fail(result, &TransportError{Op: goal.ProtocolCancelGoal, GoalID: goalID, Err: err}, "cancel")
		return
	}
	resolve(c, result, CancelResult{GoalID: goalID, Acknowledged: response.Acknowledged}, "cancel")
}

// track adds an accepted goal to the live table.
func (c *Client) track(handle *GoalHandle) {
	c.live[handle.GoalID()] = handle
	c.liveGoals.Add(1)
}

// untrack removes a goal from the live table.
func (c *Client) untrack(goalID goal.ID) {
	if _, live := c.live[goalID]; live {
		delete(c.live, goalID)
		c.liveGoals.Add(-1)
	}
}
