// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package action implements the client side of the action protocol:
// submitting long-running, cancelable goals to a remote executor and
// tracking each one through acceptance, feedback, and its terminal
// result without blocking the caller.
//
// # Model
//
// A [Client] talks to one action endpoint through a [Transport], the
// substrate that carries the goal, cancel, and result request/response
// exchanges and the subscribe stream of feedback, status, and pushed
// result frames. The client holds the transport; it does not extend it,
// so any substrate implementing the interface works (see lib/actionsocket,
// lib/actionnats, and lib/actionmem).
//
// Every submitted goal gets a [GoalHandle] whose status follows a fixed
// state machine:
//
//	submitted --accept--> accepted --execute--> executing --result--> succeeded | aborted | canceled
//	submitted --reject--> rejected
//
// A result may follow accepted directly. Status never moves backwards.
//
// # Event loop
//
// [Client.Run] is the single event loop. Transport responses, stream
// frames, and caller requests are queued and processed one at a time in
// receipt order, so goal state needs no further locking and per-goal
// ordering is the order in which messages reached the client: accept
// before feedback, feedback before result. Feedback callbacks and
// future continuations fired by the engine run on the loop and must not
// block it.
//
// [Client.SendGoal] and [Client.CancelGoal] never block; they return
// futures (lib/future) settled from the loop. [Client.WaitForServer]
// blocks the caller until the executor answers a ping or the timeout
// elapses.
//
// # Errors
//
// Rejection is an ordinary outcome: the submission future resolves with
// a rejected handle. Feedback, status, or results for unknown or
// finished goals are stale and silently dropped (counted in [Stats]).
// A failed request or a lost stream fails the affected futures with a
// [*TransportError]; the client stays usable once WaitForServer
// succeeds again. Submitting before the server was confirmed fails with
// [ErrServerUnavailable].
//
// Shutdown belongs to the caller: observe the result future, then
// cancel the context passed to Run.
package action
