// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package actionmem provides an in-process action.Transport backed by a
// scriptable fake executor. Tests drive the executor directly: decide
// how goals are answered, publish feedback and status frames, complete
// goals, and break the stream, all without a network.
//
// Publish calls deliver frames synchronously, so a frame published
// before CompleteGoal is always queued on the client before the result.
package actionmem

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bureau-foundation/actionclient/lib/action"
	"github.com/bureau-foundation/actionclient/lib/codec"
	"github.com/bureau-foundation/actionclient/lib/schema/goal"
)

// Compile-time interface check.
var _ action.Transport = (*Executor)(nil)

// ErrUnavailable is returned by every exchange while the executor is
// marked unavailable.
var ErrUnavailable = errors.New("executor unavailable")

// GoalFunc decides the answer to a submitted goal. It runs on the
// client's request goroutine and may block to hold the answer back.
type GoalFunc func(ctx context.Context, request goal.SendGoalRequest) (goal.SendGoalResponse, error)

// Executor is a fake remote executor and the Transport that reaches it.
type Executor struct {
	mu          sync.Mutex
	available   bool
	pushResults bool
	onGoal      GoalFunc
	onCancel    func(goal.ID)
	cancelErr   error
	nextID      int

	goals     []goal.SendGoalRequest
	cancels   []goal.ID
	completed map[goal.ID]goal.ResultResponse
	waiters   map[goal.ID][]chan goal.ResultResponse

	subscriptions []*subscription
}

// NewExecutor returns an available executor that accepts every goal
// with IDs "goal-1", "goal-2", and so on.
func NewExecutor() *Executor {
	executor := &Executor{
		available: true,
		completed: make(map[goal.ID]goal.ResultResponse),
		waiters:   make(map[goal.ID][]chan goal.ResultResponse),
	}
	executor.onGoal = executor.acceptAll
	return executor
}

func (e *Executor) acceptAll(context.Context, goal.SendGoalRequest) (goal.SendGoalResponse, error) {
	return goal.SendGoalResponse{Accepted: true, GoalID: e.NextGoalID()}, nil
}

// NextGoalID returns a fresh goal ID.
func (e *Executor) NextGoalID() goal.ID {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	return goal.ID(fmt.Sprintf("goal-%d", e.nextID))
}

// SetAvailable controls whether exchanges succeed.
func (e *Executor) SetAvailable(available bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.available = available
}

// SetPushResults makes CompleteGoal also publish a result frame.
func (e *Executor) SetPushResults(push bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pushResults = push
}

// OnGoal replaces the goal answer policy.
func (e *Executor) OnGoal(fn GoalFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onGoal = fn
}

// OnCancel registers fn to run after each acknowledged cancel_goal.
// It runs on the requesting goroutine without the executor's lock held,
// so it may call CompleteGoal.
func (e *Executor) OnCancel(fn func(goal.ID)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onCancel = fn
}

// SetCancelError makes cancel_goal fail with err. Nil restores success.
func (e *Executor) SetCancelError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelErr = err
}

// Goals returns the goals submitted so far.
func (e *Executor) Goals() []goal.SendGoalRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]goal.SendGoalRequest(nil), e.goals...)
}

// Cancels returns the goal IDs cancel_goal was called with.
func (e *Executor) Cancels() []goal.ID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]goal.ID(nil), e.cancels...)
}

// Ping implements action.Transport.
func (e *Executor) Ping(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.available {
		return ErrUnavailable
	}
	return ctx.Err()
}

// SendGoal implements action.Transport.
func (e *Executor) SendGoal(ctx context.Context, request goal.SendGoalRequest) (goal.SendGoalResponse, error) {
	e.mu.Lock()
	if !e.available {
		e.mu.Unlock()
		return goal.SendGoalResponse{}, ErrUnavailable
	}
	e.goals = append(e.goals, request)
	onGoal := e.onGoal
	e.mu.Unlock()

	return onGoal(ctx, request)
}

// CancelGoal implements action.Transport. It records the request and
// acknowledges it. The goal finishes only when CompleteGoal is called,
// either by the test or by the OnCancel hook.
func (e *Executor) CancelGoal(_ context.Context, goalID goal.ID) (goal.CancelGoalResponse, error) {
	e.mu.Lock()
	if !e.available {
		e.mu.Unlock()
		return goal.CancelGoalResponse{}, ErrUnavailable
	}
	if e.cancelErr != nil {
		err := e.cancelErr
		e.mu.Unlock()
		return goal.CancelGoalResponse{}, err
	}
	e.cancels = append(e.cancels, goalID)
	onCancel := e.onCancel
	e.mu.Unlock()

	if onCancel != nil {
		onCancel(goalID)
	}
	return goal.CancelGoalResponse{Acknowledged: true}, nil
}

// GetResult implements action.Transport. It returns at once if the goal
// was already completed, otherwise when CompleteGoal is called.
func (e *Executor) GetResult(ctx context.Context, goalID goal.ID) (goal.ResultResponse, error) {
	e.mu.Lock()
	if result, done := e.completed[goalID]; done {
		e.mu.Unlock()
		return result, nil
	}
	waiter := make(chan goal.ResultResponse, 1)
	e.waiters[goalID] = append(e.waiters[goalID], waiter)
	e.mu.Unlock()

	select {
	case result := <-waiter:
		return result, nil
	case <-ctx.Done():
		return goal.ResultResponse{}, ctx.Err()
	}
}

// CompleteGoal finishes a goal with status and an optional payload
// value (CBOR-encoded here). Pending GetResult calls return it, and it
// is pushed on the stream when push mode is on.
func (e *Executor) CompleteGoal(goalID goal.ID, status goal.Status, payload any) error {
	var raw codec.RawMessage
	if payload != nil {
		encoded, err := codec.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding result payload: %w", err)
		}
		raw = encoded
	}
	result := goal.ResultResponse{GoalID: goalID, Status: status, Result: raw}

	e.mu.Lock()
	e.completed[goalID] = result
	waiters := e.waiters[goalID]
	delete(e.waiters, goalID)
	push := e.pushResults
	e.mu.Unlock()

	if push {
		e.Publish(goal.StreamFrame{Type: goal.FrameResult, GoalID: goalID, Status: status, Payload: raw})
	}
	for _, waiter := range waiters {
		waiter <- result
	}
	return nil
}

// PublishFeedback encodes payload and publishes it as feedback for
// goalID.
func (e *Executor) PublishFeedback(goalID goal.ID, payload any) error {
	raw, err := codec.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding feedback payload: %w", err)
	}
	e.Publish(goal.StreamFrame{Type: goal.FrameFeedback, GoalID: goalID, Payload: raw})
	return nil
}

// PublishStatus publishes a status frame for goalID.
func (e *Executor) PublishStatus(goalID goal.ID, status goal.Status) {
	e.Publish(goal.StreamFrame{Type: goal.FrameStatus, GoalID: goalID, Status: status})
}

// Publish delivers frame to every open subscription before returning.
func (e *Executor) Publish(frame goal.StreamFrame) {
	e.mu.Lock()
	subscriptions := append([]*subscription(nil), e.subscriptions...)
	e.mu.Unlock()

	for _, sub := range subscriptions {
		sub.send(frame)
	}
}

// FailSubscriptions ends every open subscription with err, as a broken
// connection would.
func (e *Executor) FailSubscriptions(err error) {
	e.mu.Lock()
	subscriptions := e.subscriptions
	e.subscriptions = nil
	e.mu.Unlock()

	for _, sub := range subscriptions {
		sub.end(err)
	}
}

// Subscriptions returns the number of open subscriptions.
func (e *Executor) Subscriptions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subscriptions)
}

// Subscribe implements action.Transport.
func (e *Executor) Subscribe(ctx context.Context, deliver func(goal.StreamFrame)) (action.Subscription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.available {
		return nil, ErrUnavailable
	}
	sub := &subscription{
		executor: e,
		deliver:  deliver,
		done:     make(chan struct{}),
	}
	e.subscriptions = append(e.subscriptions, sub)
	return sub, nil
}

func (e *Executor) remove(target *subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, sub := range e.subscriptions {
		if sub == target {
			e.subscriptions = append(e.subscriptions[:i], e.subscriptions[i+1:]...)
			return
		}
	}
}

// subscription serializes deliveries with mu so frames reach the client
// in publish order even when tests publish from several goroutines.
type subscription struct {
	executor *Executor
	deliver  func(goal.StreamFrame)

	mu    sync.Mutex
	ended bool
	err   error
	done  chan struct{}
}

func (s *subscription) send(frame goal.StreamFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.deliver(frame)
}

func (s *subscription) end(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.err = err
	close(s.done)
}

func (s *subscription) Done() <-chan struct{} { return s.done }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) Close() error {
	s.executor.remove(s)
	s.end(nil)
	return nil
}
