// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package actionnats

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/bureau-foundation/actionclient/lib/action"
	"github.com/bureau-foundation/actionclient/lib/codec"
	"github.com/bureau-foundation/actionclient/lib/schema/goal"
)

// Transport is the client side of the NATS substrate. It implements
// action.Transport over a connection the caller owns.
type Transport struct {
	conn       *nats.Conn
	subjects   Subjects
	actionName string
}

var _ action.Transport = (*Transport)(nil)

// NewTransport returns a transport for actionName under prefix.
func NewTransport(conn *nats.Conn, prefix, actionName string) (*Transport, error) {
	subjects, err := NewSubjects(prefix, actionName)
	if err != nil {
		return nil, err
	}
	return &Transport{conn: conn, subjects: subjects, actionName: actionName}, nil
}

// Subjects returns the subjects the transport uses.
func (t *Transport) Subjects() Subjects { return t.subjects }

// Ping implements action.Transport. It fails with nats.ErrNoResponders
// when no responder serves the action.
func (t *Transport) Ping(ctx context.Context) error {
	var response goal.PingResponse
	if err := t.request(ctx, t.subjects.Ping, goal.PingRequest{ActionName: t.actionName}, &response); err != nil {
		return err
	}
	if response.ActionName != t.actionName {
		return fmt.Errorf("responder on %s executes %q, not %q", t.subjects.Ping, response.ActionName, t.actionName)
	}
	return nil
}

// SendGoal implements action.Transport.
func (t *Transport) SendGoal(ctx context.Context, request goal.SendGoalRequest) (goal.SendGoalResponse, error) {
	request.ActionName = t.actionName
	var response goal.SendGoalResponse
	err := t.request(ctx, t.subjects.SendGoal, request, &response)
	return response, err
}

// CancelGoal implements action.Transport.
func (t *Transport) CancelGoal(ctx context.Context, goalID goal.ID) (goal.CancelGoalResponse, error) {
	var response goal.CancelGoalResponse
	err := t.request(ctx, t.subjects.CancelGoal, goal.CancelGoalRequest{GoalID: goalID}, &response)
	return response, err
}

// GetResult implements action.Transport. The responder replies when
// the goal finishes, so ctx alone bounds the wait.
func (t *Transport) GetResult(ctx context.Context, goalID goal.ID) (goal.ResultResponse, error) {
	var response goal.ResultResponse
	err := t.request(ctx, t.subjects.GetResult, goal.GetResultRequest{GoalID: goalID}, &response)
	return response, err
}

func (t *Transport) request(ctx context.Context, subject string, request, result any) error {
	data, err := codec.Marshal(request)
	if err != nil {
		return fmt.Errorf("encoding request for %s: %w", subject, err)
	}
	message, err := t.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", subject, err)
	}
	return decodeReply(subject, message.Data, result)
}

// Subscribe implements action.Transport. NATS calls deliver
// sequentially from the subscription's dispatch goroutine. The stream
// ends with an error when the connection drops or closes, since frames
// published while disconnected are lost.
func (t *Transport) Subscribe(ctx context.Context, deliver func(goal.StreamFrame)) (action.Subscription, error) {
	stream := &stream{
		conn:     t.conn,
		statuses: t.conn.StatusChanged(nats.DISCONNECTED, nats.CLOSED),
		done:     make(chan struct{}),
	}

	subscription, err := t.conn.Subscribe(t.subjects.Stream, func(message *nats.Msg) {
		var frame goal.StreamFrame
		if err := codec.Unmarshal(message.Data, &frame); err != nil {
			stream.finish(fmt.Errorf("decoding frame on %s: %w", message.Subject, err))
			return
		}
		if frame.Type == goal.FrameHeartbeat {
			return
		}
		deliver(frame)
	})
	if err != nil {
		t.conn.RemoveStatusListener(stream.statuses)
		return nil, fmt.Errorf("subscribing to %s: %w", t.subjects.Stream, err)
	}
	stream.subscription = subscription

	// The subscription must be registered with the server before
	// frames published after Subscribe returns can reach it.
	if err := t.conn.FlushWithContext(ctx); err != nil {
		stream.Close()
		return nil, fmt.Errorf("flushing subscription to %s: %w", t.subjects.Stream, err)
	}

	go stream.watch(ctx)
	return stream, nil
}

type stream struct {
	conn         *nats.Conn
	subscription *nats.Subscription
	statuses     chan nats.Status

	mu     sync.Mutex
	ended  bool
	closed bool
	err    error
	done   chan struct{}
}

func (s *stream) watch(ctx context.Context) {
	select {
	case <-ctx.Done():
		s.Close()
	case status := <-s.statuses:
		s.finish(fmt.Errorf("nats connection %s", status))
	case <-s.done:
	}
}

func (s *stream) Done() <-chan struct{} { return s.done }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close unsubscribes and ends the stream with a nil error.
func (s *stream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	var err error
	if s.subscription != nil {
		if unsubscribeErr := s.subscription.Unsubscribe(); unsubscribeErr != nil && !errors.Is(unsubscribeErr, nats.ErrConnectionClosed) && !errors.Is(unsubscribeErr, nats.ErrBadSubscription) {
			err = unsubscribeErr
		}
	}
	s.finish(nil)
	return err
}

func (s *stream) finish(err error) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	if !s.closed {
		s.err = err
	}
	s.mu.Unlock()

	s.conn.RemoveStatusListener(s.statuses)
	if err != nil && s.subscription != nil {
		s.subscription.Unsubscribe()
	}
	close(s.done)
}
