// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package actionsocket carries the action protocol over a Unix socket.
//
// Each request-response exchange (ping, send_goal, cancel_goal,
// get_result) uses its own connection: the client writes one CBOR map
// carrying an "action" field naming the exchange, and the server writes
// one [Response] envelope and closes. The subscribe exchange keeps its
// connection open and the server writes a sequence of
// [goal.StreamFrame] values on it until either side closes. Heartbeat
// frames keep an idle stream alive; a stream that stays silent for
// longer than the client's stream timeout is treated as lost.
//
// [Transport] implements the client side for [action.Client]. [Server]
// is the executor side: callers register exchange handlers with Handle
// and push frames to every subscriber with Publish, or hand the whole
// protocol to an [action.Transport] backend with Expose.
package actionsocket
