// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package actionnats carries the action protocol over NATS core
// subjects.
//
// Every action gets five subjects under a shared prefix:
//
//	<prefix>.<action>.ping
//	<prefix>.<action>.send_goal
//	<prefix>.<action>.cancel_goal
//	<prefix>.<action>.get_result
//	<prefix>.<action>.stream
//
// The first four are request-reply subjects whose replies use the same
// CBOR envelope as the socket substrate ({ok, error, data}). The stream
// subject carries one [goal.StreamFrame] per message. NATS core does
// not buffer for disconnected subscribers, so a client treats any
// disconnect as a lost stream.
//
// [Transport] is the client side; [Responder] serves an
// [action.Transport] backend on the subjects.
package actionnats
