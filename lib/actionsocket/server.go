// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package actionsocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/actionclient/lib/codec"
	"github.com/bureau-foundation/actionclient/lib/schema/goal"
)

// HandlerFunc processes one request-response exchange. raw is the full
// CBOR request, including the "action" field; handlers decode the
// exchange's fields from it. A nil result produces {ok: true}.
type HandlerFunc func(ctx context.Context, raw []byte) (any, error)

// Response is the envelope for every request-response exchange.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// readTimeout is how long the server waits for a client to send its
// request after connecting.
const readTimeout = 30 * time.Second

// writeTimeout bounds writing a response or a stream frame.
const writeTimeout = 10 * time.Second

// maxRequestSize is the largest request the server decodes. Goal
// payloads are small command structures.
const maxRequestSize = 1024 * 1024

// DefaultHeartbeatInterval is the time between heartbeat frames on an
// idle stream.
const DefaultHeartbeatInterval = 15 * time.Second

// subscriberBufferSize is the per-subscriber frame queue. A subscriber
// that falls this far behind is disconnected with an error frame:
// dropping frames silently would break per-goal ordering.
const subscriberBufferSize = 256

// Server is the executor side of the socket substrate. It answers ping
// and subscribe itself; the remaining exchanges are dispatched to
// handlers registered with Handle before Serve.
type Server struct {
	socketPath        string
	actionName        string
	logger            *slog.Logger
	heartbeatInterval time.Duration
	handlers          map[string]HandlerFunc
	healthCheck       func(context.Context) error

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}

	activeConnections sync.WaitGroup
}

type subscriber struct {
	frames   chan goal.StreamFrame
	overflow chan struct{}
}

// NewServer creates a server for actionName that will listen on
// socketPath.
func NewServer(socketPath, actionName string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		socketPath:        socketPath,
		actionName:        actionName,
		logger:            logger,
		heartbeatInterval: DefaultHeartbeatInterval,
		handlers:          make(map[string]HandlerFunc),
		subscribers:       make(map[*subscriber]struct{}),
	}
}

// SetHeartbeatInterval changes the idle heartbeat period. Call before
// Serve.
func (s *Server) SetHeartbeatInterval(interval time.Duration) {
	s.heartbeatInterval = interval
}

// Handle registers handler for the named exchange. Panics on a
// duplicate registration or on the exchanges the server answers itself.
func (s *Server) Handle(protocol string, handler HandlerFunc) {
	if protocol == goal.ProtocolPing || protocol == goal.ProtocolSubscribe {
		panic(fmt.Sprintf("actionsocket.Server: %q is built in", protocol))
	}
	if _, exists := s.handlers[protocol]; exists {
		panic(fmt.Sprintf("actionsocket.Server: duplicate handler for %q", protocol))
	}
	s.handlers[protocol] = handler
}

// Publish queues frame for every open stream. It never blocks.
func (s *Server) Publish(frame goal.StreamFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subscribers {
		select {
		case sub.frames <- frame:
		default:
			select {
			case <-sub.overflow:
			default:
				close(sub.overflow)
			}
		}
	}
}

// Subscribers returns the number of open streams.
func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}

// Serve accepts connections until ctx is cancelled, then waits for
// in-flight exchanges and streams to finish. A stale socket file at the
// configured path is removed first; the socket is removed on return.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("action server listening", "path", s.socketPath, "action_name", s.actionName)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return
		}
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}
	conn.SetReadDeadline(time.Time{})

	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}

	switch header.Action {
	case "":
		s.writeError(conn, "missing required field: action")
		return
	case goal.ProtocolPing:
		if s.healthCheck != nil {
			if err := s.healthCheck(ctx); err != nil {
				s.writeError(conn, err.Error())
				return
			}
		}
		s.writeSuccess(conn, goal.PingResponse{ActionName: s.actionName})
		return
	case goal.ProtocolSubscribe:
		s.handleSubscribe(ctx, raw, conn)
		return
	}

	handler, exists := s.handlers[header.Action]
	if !exists {
		s.writeError(conn, fmt.Sprintf("unknown action %q", header.Action))
		return
	}

	result, err := handler(ctx, []byte(raw))
	if err != nil {
		s.logger.Debug("exchange failed", "action", header.Action, "error", err)
		s.writeError(conn, err.Error())
		return
	}
	s.writeSuccess(conn, result)
}

// handleSubscribe registers a stream and forwards published frames to
// it until the connection fails, the subscriber falls behind, or ctx
// is cancelled.
func (s *Server) handleSubscribe(ctx context.Context, raw []byte, conn net.Conn) {
	encoder := codec.NewEncoder(conn)
	write := func(frame goal.StreamFrame) error {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return encoder.Encode(frame)
	}

	var request goal.SubscribeRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		write(goal.StreamFrame{Type: goal.FrameError, Message: "invalid request: " + err.Error()})
		return
	}
	if request.ActionName != "" && request.ActionName != s.actionName {
		write(goal.StreamFrame{
			Type:    goal.FrameError,
			Message: fmt.Sprintf("this server executes %q, not %q", s.actionName, request.ActionName),
		})
		return
	}

	sub := &subscriber{
		frames:   make(chan goal.StreamFrame, subscriberBufferSize),
		overflow: make(chan struct{}),
	}
	s.mu.Lock()
	s.subscribers[sub] = struct{}{}
	s.mu.Unlock()
	s.logger.Info("stream opened")

	defer func() {
		s.mu.Lock()
		delete(s.subscribers, sub)
		s.mu.Unlock()
		s.logger.Info("stream closed")
	}()

	// A closed client connection ends the stream even when nothing is
	// being written.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		io.Copy(io.Discard, conn)
	}()

	heartbeat := time.NewTicker(s.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case <-sub.overflow:
			s.logger.Warn("stream subscriber fell behind, disconnecting")
			write(goal.StreamFrame{Type: goal.FrameError, Message: "subscriber fell behind"})
			return
		case frame := <-sub.frames:
			if err := write(frame); err != nil {
				s.logger.Debug("stream write failed", "error", err)
				return
			}
		case <-heartbeat.C:
			if err := write(goal.StreamFrame{Type: goal.FrameHeartbeat}); err != nil {
				s.logger.Debug("stream heartbeat failed", "error", err)
				return
			}
		}
	}
}

func (s *Server) writeError(conn net.Conn, message string) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(Response{OK: false, Error: message}); err != nil {
		s.logger.Debug("failed to write error response", "error", err)
	}
}

func (s *Server) writeSuccess(conn net.Conn, result any) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	response := Response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeError(conn, fmt.Sprintf("internal: marshaling response: %v", err))
			return
		}
		response.Data = data
	}

	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write success response", "error", err)
	}
}
