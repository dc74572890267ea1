// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package actionsocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/bureau-foundation/actionclient/lib/action"
	"github.com/bureau-foundation/actionclient/lib/codec"
	"github.com/bureau-foundation/actionclient/lib/schema/goal"
)

// dialTimeout covers only the connect phase of an exchange.
const dialTimeout = 5 * time.Second

// maxResponseSize matches the server's maxRequestSize.
const maxResponseSize = 1024 * 1024

// DefaultStreamTimeout is how long a stream may stay silent before the
// transport treats it as lost. Twice the default heartbeat interval.
const DefaultStreamTimeout = 2 * DefaultHeartbeatInterval

// RemoteError is returned when the server answers an exchange with
// ok=false.
type RemoteError struct {
	Action  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("action server error on %q: %s", e.Action, e.Message)
}

// Transport is the client side of the socket substrate. It implements
// action.Transport. Each exchange opens a new connection.
type Transport struct {
	socketPath    string
	actionName    string
	streamTimeout time.Duration
}

var _ action.Transport = (*Transport)(nil)

// NewTransport returns a transport for the action server listening on
// socketPath. Ping fails unless the server reports actionName.
func NewTransport(socketPath, actionName string) *Transport {
	return &Transport{
		socketPath:    socketPath,
		actionName:    actionName,
		streamTimeout: DefaultStreamTimeout,
	}
}

// SetStreamTimeout changes how long a silent stream is tolerated. Zero
// disables the check.
func (t *Transport) SetStreamTimeout(timeout time.Duration) {
	t.streamTimeout = timeout
}

// Ping implements action.Transport.
func (t *Transport) Ping(ctx context.Context) error {
	var response goal.PingResponse
	if err := t.call(ctx, goal.ProtocolPing, nil, &response); err != nil {
		return err
	}
	if response.ActionName != t.actionName {
		return fmt.Errorf("server at %s executes %q, not %q", t.socketPath, response.ActionName, t.actionName)
	}
	return nil
}

// SendGoal implements action.Transport.
func (t *Transport) SendGoal(ctx context.Context, request goal.SendGoalRequest) (goal.SendGoalResponse, error) {
	fields := map[string]any{
		"request_id":  request.RequestID,
		"action_name": t.actionName,
	}
	if len(request.Goal) > 0 {
		fields["goal"] = request.Goal
	}
	var response goal.SendGoalResponse
	err := t.call(ctx, goal.ProtocolSendGoal, fields, &response)
	return response, err
}

// CancelGoal implements action.Transport.
func (t *Transport) CancelGoal(ctx context.Context, goalID goal.ID) (goal.CancelGoalResponse, error) {
	var response goal.CancelGoalResponse
	err := t.call(ctx, goal.ProtocolCancelGoal, map[string]any{"goal_id": goalID}, &response)
	return response, err
}

// GetResult implements action.Transport. The server holds the
// connection open until the goal finishes.
func (t *Transport) GetResult(ctx context.Context, goalID goal.ID) (goal.ResultResponse, error) {
	var response goal.ResultResponse
	err := t.call(ctx, goal.ProtocolGetResult, map[string]any{"goal_id": goalID}, &response)
	return response, err
}

// call performs one request-response exchange. The connection is
// closed when ctx is done, which unblocks a pending read; ctx's
// deadline is the only bound on how long the server may take.
func (t *Transport) call(ctx context.Context, protocol string, fields map[string]any, result any) error {
	request := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		request[key] = value
	}
	request["action"] = protocol

	conn, err := t.dial(ctx)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", protocol, t.socketPath, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return t.exchangeError(ctx, protocol, fmt.Errorf("writing request: %w", err))
	}
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return t.exchangeError(ctx, protocol, fmt.Errorf("reading response: %w", err))
	}
	if !response.OK {
		return &RemoteError{Action: protocol, Message: response.Error}
	}
	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", protocol, err)
		}
	}
	return nil
}

// exchangeError reports the context's error in place of the I/O error
// its cancellation caused.
func (t *Transport) exchangeError(ctx context.Context, protocol string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	return fmt.Errorf("calling %q on %s: %w", protocol, t.socketPath, err)
}

func (t *Transport) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", t.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	return conn, nil
}

// Subscribe implements action.Transport. Frames are decoded and
// delivered from a single reader goroutine. The stream ends with an
// error when the connection fails, the server sends an error frame, or
// no frame arrives within the stream timeout; it ends with nil after
// Close or when ctx is done.
func (t *Transport) Subscribe(ctx context.Context, deliver func(goal.StreamFrame)) (action.Subscription, error) {
	conn, err := t.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("subscribing on %s: %w", t.socketPath, err)
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	request := map[string]any{
		"action":      goal.ProtocolSubscribe,
		"action_name": t.actionName,
	}
	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending subscribe request: %w", err)
	}
	conn.SetWriteDeadline(time.Time{})

	stream := &stream{conn: conn, done: make(chan struct{})}
	stop := context.AfterFunc(ctx, func() { stream.Close() })
	go func() {
		defer stop()
		stream.finish(t.readFrames(codec.NewDecoder(conn), conn, deliver))
	}()
	return stream, nil
}

func (t *Transport) readFrames(decoder *codec.Decoder, conn net.Conn, deliver func(goal.StreamFrame)) error {
	for {
		if t.streamTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(t.streamTimeout))
		}
		var frame goal.StreamFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("stream closed by server")
			}
			return fmt.Errorf("reading frame: %w", err)
		}

		switch frame.Type {
		case goal.FrameHeartbeat:
		case goal.FrameError:
			return &RemoteError{Action: goal.ProtocolSubscribe, Message: frame.Message}
		default:
			deliver(frame)
		}
	}
}

// stream is an open subscribe connection.
type stream struct {
	conn net.Conn

	mu     sync.Mutex
	closed bool
	err    error
	done   chan struct{}
}

func (s *stream) Done() <-chan struct{} { return s.done }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the stream. The reader's resulting error is discarded.
func (s *stream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.conn.Close()
}

func (s *stream) finish(err error) {
	s.conn.Close()
	s.mu.Lock()
	if !s.closed {
		s.err = err
	}
	s.mu.Unlock()
	close(s.done)
}
