// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package actionnats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/bureau-foundation/actionclient/lib/action"
	"github.com/bureau-foundation/actionclient/lib/codec"
	"github.com/bureau-foundation/actionclient/lib/schema/goal"
)

// Responder serves an action.Transport backend on the NATS subjects of
// one action.
type Responder struct {
	conn       *nats.Conn
	subjects   Subjects
	actionName string
	backend    action.Transport
	logger     *slog.Logger

	active sync.WaitGroup
}

// NewResponder returns a responder for actionName under prefix.
func NewResponder(conn *nats.Conn, prefix, actionName string, backend action.Transport, logger *slog.Logger) (*Responder, error) {
	subjects, err := NewSubjects(prefix, actionName)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Responder{
		conn:       conn,
		subjects:   subjects,
		actionName: actionName,
		backend:    backend,
		logger:     logger,
	}, nil
}

// Serve answers requests and republishes the backend's stream until ctx
// is cancelled, then drains its subscriptions and waits for in-flight
// requests.
func (r *Responder) Serve(ctx context.Context) error {
	backendStream, err := r.backend.Subscribe(ctx, r.publish)
	if err != nil {
		return fmt.Errorf("subscribing to backend: %w", err)
	}
	defer backendStream.Close()

	handlers := map[string]func(context.Context, []byte) (any, error){
		r.subjects.Ping:       r.handlePing,
		r.subjects.SendGoal:   r.handleSendGoal,
		r.subjects.CancelGoal: r.handleCancelGoal,
		r.subjects.GetResult:  r.handleGetResult,
	}
	var subscriptions []*nats.Subscription
	defer func() {
		for _, subscription := range subscriptions {
			subscription.Drain()
		}
		r.active.Wait()
	}()
	for subject, handler := range handlers {
		subscription, err := r.conn.Subscribe(subject, r.dispatch(ctx, handler))
		if err != nil {
			return fmt.Errorf("subscribing to %s: %w", subject, err)
		}
		subscriptions = append(subscriptions, subscription)
	}
	if err := r.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flushing responder subscriptions: %w", err)
	}

	r.logger.Info("action responder serving", "action_name", r.actionName, "stream", r.subjects.Stream)

	select {
	case <-ctx.Done():
		return nil
	case <-backendStream.Done():
		return fmt.Errorf("backend stream ended: %w", backendStream.Err())
	}
}

// dispatch runs each request in its own goroutine; get_result blocks
// until its goal finishes.
func (r *Responder) dispatch(ctx context.Context, handler func(context.Context, []byte) (any, error)) nats.MsgHandler {
	return func(message *nats.Msg) {
		r.active.Add(1)
		go func() {
			defer r.active.Done()
			result, err := handler(ctx, message.Data)
			if err != nil {
				r.logger.Debug("request failed", "subject", message.Subject, "error", err)
			}
			if respondErr := message.Respond(encodeReply(result, err)); respondErr != nil {
				r.logger.Debug("failed to send reply", "subject", message.Subject, "error", respondErr)
			}
		}()
	}
}

// publish forwards one backend frame to the stream subject. The backend
// delivers frames sequentially, so publish order is preserved.
func (r *Responder) publish(frame goal.StreamFrame) {
	data, err := codec.Marshal(frame)
	if err != nil {
		r.logger.Error("encoding stream frame", "goal_id", frame.GoalID, "error", err)
		return
	}
	if err := r.conn.Publish(r.subjects.Stream, data); err != nil {
		r.logger.Warn("publishing stream frame", "goal_id", frame.GoalID, "error", err)
	}
}

func (r *Responder) handlePing(ctx context.Context, _ []byte) (any, error) {
	if err := r.backend.Ping(ctx); err != nil {
		return nil, err
	}
	return goal.PingResponse{ActionName: r.actionName}, nil
}

func (r *Responder) handleSendGoal(ctx context.Context, raw []byte) (any, error) {
	var request goal.SendGoalRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid send_goal request: %w", err)
	}
	return r.backend.SendGoal(ctx, request)
}

func (r *Responder) handleCancelGoal(ctx context.Context, raw []byte) (any, error) {
	var request goal.CancelGoalRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid cancel_goal request: %w", err)
	}
	return r.backend.CancelGoal(ctx, request.GoalID)
}

func (r *Responder) handleGetResult(ctx context.Context, raw []byte) (any, error) {
	var request goal.GetResultRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid get_result request: %w", err)
	}
	return r.backend.GetResult(ctx, request.GoalID)
}
