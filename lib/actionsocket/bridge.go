// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package actionsocket

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/actionclient/lib/action"
	"github.com/bureau-foundation/actionclient/lib/codec"
	"github.com/bureau-foundation/actionclient/lib/schema/goal"
)

// Expose serves backend through s: the request-response exchanges are
// forwarded to it, ping succeeds only while backend answers its own
// ping, and every frame on backend's stream is published to the
// server's subscribers. Call before Serve. The returned subscription is
// backend's stream; close it to stop forwarding.
func (s *Server) Expose(ctx context.Context, backend action.Transport) (action.Subscription, error) {
	s.healthCheck = backend.Ping

	s.Handle(goal.ProtocolSendGoal, func(ctx context.Context, raw []byte) (any, error) {
		var request goal.SendGoalRequest
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, fmt.Errorf("invalid send_goal request: %w", err)
		}
		if request.ActionName != "" && request.ActionName != s.actionName {
			return nil, fmt.Errorf("this server executes %q, not %q", s.actionName, request.ActionName)
		}
		return backend.SendGoal(ctx, request)
	})
	s.Handle(goal.ProtocolCancelGoal, func(ctx context.Context, raw []byte) (any, error) {
		var request goal.CancelGoalRequest
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, fmt.Errorf("invalid cancel_goal request: %w", err)
		}
		return backend.CancelGoal(ctx, request.GoalID)
	})
	s.Handle(goal.ProtocolGetResult, func(ctx context.Context, raw []byte) (any, error) {
		var request goal.GetResultRequest
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, fmt.Errorf("invalid get_result request: %w", err)
		}
		return backend.GetResult(ctx, request.GoalID)
	})

	subscription, err := backend.Subscribe(ctx, s.Publish)
	if err != nil {
		return nil, fmt.Errorf("subscribing to backend: %w", err)
	}
	return subscription, nil
}
