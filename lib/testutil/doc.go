// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive] and [RequireClosed] wrap the
// select-with-timeout safety valve so that tests waiting on futures,
// feedback channels, and readiness channels fail instead of hanging.
// They are the only place in the test suite that uses real wall-clock
// timeouts.
//
// [SocketDir] returns a short directory for Unix sockets, whose paths
// are limited to 108 bytes.
//
// [UniqueID] produces monotonically increasing identifiers for goal
// ids and request ids in tests.
//
// All helpers call t.Fatalf on failure.
package testutil
