// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package future provides a single-settlement, single-callback future.
//
// A [Future] starts pending and settles exactly once, either resolved
// with a value or failed with an error. The action client hands futures
// back from SendGoal and CancelGoal and settles them from its event
// loop; callers observe the outcome through one of:
//
//   - [Future.OnComplete]: registers the one continuation. If the future
//     has already settled, the callback runs immediately on the
//     registering goroutine. Otherwise it runs on the goroutine that
//     settles the future, after the future's lock is released.
//   - [Future.Wait]: blocks until settlement or context cancellation,
//     for callers that are not themselves running on the event loop.
//   - [Future.Done]: a channel closed at settlement, for select.
//
// Settling twice is a contract violation. The second Resolve or Fail
// returns a [*SettlementError] and leaves the original outcome in
// place. Correct engine code never triggers it; the error exists so
// that tests can detect the bug instead of observing an overwritten
// value.
//
// [Then] composes futures: it takes the source future's continuation
// slot and returns a derived future settled from the source's outcome.
package future
