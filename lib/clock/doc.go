// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// The action client polls for server availability and stamps goal
// handles with submission and acceptance times. Both go through a Clock
// so that tests can drive WaitForServer deterministically:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	client, _ := action.NewClient(action.ClientConfig{Clock: fake, ...})
//	go func() { result <- client.WaitForServer(ctx, 3*time.Second) }()
//	fake.WaitForTimers(1)        // the first poll wait is registered
//	fake.Advance(time.Second)    // fire it
//
// Real() wraps the time package for production.
package clock
