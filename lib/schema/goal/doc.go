// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package goal defines the wire protocol between an action client and a
// remote executor: goal identifiers and statuses, the request/response
// bodies of the ping, send_goal, cancel_goal, and get_result exchanges,
// and the frames of the subscribe stream that carries feedback, status
// updates, and pushed results.
//
// Every substrate (Unix socket, NATS, in-process) moves these types.
// Command payloads (the goal itself, its feedback, its result) are
// opaque CBOR carried in codec.RawMessage fields.
package goal
