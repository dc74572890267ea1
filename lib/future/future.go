// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package future

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// State is the settlement state of a Future.
type State int

const (
	// StatePending means neither Resolve nor Fail has been called.
	StatePending State = iota
	// StateResolved means the future settled with a value.
	StateResolved
	// StateFailed means the future settled with an error.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateResolved:
		return "resolved"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ErrAlreadySettled is matched (via errors.Is) by the error returned
// from a second Resolve or Fail.
var ErrAlreadySettled = errors.New("future already settled")

// ErrCallbackRegistered is returned by OnComplete when a continuation
// is already registered.
var ErrCallbackRegistered = errors.New("future already has a completion callback")

// ErrNilFailure is returned by Fail(nil). A failure must carry a
// reason.
var ErrNilFailure = errors.New("future failed with a nil error")

// SettlementError describes an attempt to settle a future that was
// already settled.
type SettlementError struct {
	// Attempt is "resolve" or "fail".
	Attempt string
	// Existing is the state the future was already in.
	Existing State
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("cannot %s future: already %s", e.Attempt, e.Existing)
}

// Is reports whether target is ErrAlreadySettled.
func (e *SettlementError) Is(target error) bool {
	return target == ErrAlreadySettled
}

// Future is a pending asynchronous outcome of type T. The zero value is
// not usable; create futures with New, Resolved, or Failed.
type Future[T any] struct {
	mu       sync.Mutex
	state    State
	value    T
	err      error
	callback func(T, error)
	done     chan struct{}
}

// New returns a pending future.
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a future already resolved with value.
func Resolved[T any](value T) *Future[T] {
	f := New[T]()
	f.Resolve(value)
	return f
}

// Failed returns a future already failed with err.
func Failed[T any](err error) *Future[T] {
	f := New[T]()
	f.Fail(err)
	return f
}

// Resolve settles the future with value and fires the registered
// callback, if any. Returns a *SettlementError if the future already
// settled.
func (f *Future[T]) Resolve(value T) error {
	return f.settle("resolve", StateResolved, value, nil)
}

// Fail settles the future with err and fires the registered callback,
// if any. Returns a *SettlementError if the future already settled and
// ErrNilFailure if err is nil.
func (f *Future[T]) Fail(err error) error {
	if err == nil {
		return ErrNilFailure
	}
	var zero T
	return f.settle("fail", StateFailed, zero, err)
}

func (f *Future[T]) settle(attempt string, state State, value T, err error) error {
	f.mu.Lock()
	if f.state != StatePending {
		existing := f.state
		f.mu.Unlock()
		return &SettlementError{Attempt: attempt, Existing: existing}
	}
	f.state = state
	f.value = value
	f.err = err
	callback := f.callback
	f.callback = nil
	close(f.done)
	f.mu.Unlock()

	if callback != nil {
		callback(value, err)
	}
	return nil
}

// OnComplete registers the future's single continuation. The callback
// receives the value (zero on failure) and the error (nil on success).
// It fires exactly once: immediately if the future has settled,
// otherwise at settlement.
func (f *Future[T]) OnComplete(callback func(T, error)) error {
	f.mu.Lock()
	if f.callback != nil {
		f.mu.Unlock()
		return ErrCallbackRegistered
	}
	if f.state == StatePending {
		f.callback = callback
		f.mu.Unlock()
		return nil
	}
	value, err := f.value, f.err
	f.mu.Unlock()

	callback(value, err)
	return nil
}

// Done returns a channel that is closed when the future settles.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future settles or ctx is done. A context error
// is returned as-is; it does not settle the future.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		value, err, _ := f.Result()
		return value, err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result returns the settled value and error. The final return is
// false while the future is pending.
func (f *Future[T]) Result() (T, error, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err, f.state != StatePending
}

// State returns the current settlement state.
func (f *Future[T]) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Then returns a future settled by applying transform to the resolved
// value of source. A failure of source, or an error from transform,
// fails the derived future. Then consumes the single continuation slot
// of source; it returns a failed future if the slot is taken.
func Then[T, U any](source *Future[T], transform func(T) (U, error)) *Future[U] {
	derived := New[U]()
	err := source.OnComplete(func(value T, err error) {
		if err != nil {
			derived.Fail(err)
			return
		}
		next, err := transform(value)
		if err != nil {
			derived.Fail(err)
			return
		}
		derived.Resolve(next)
	})
	if err != nil {
		derived.Fail(fmt.Errorf("chaining future: %w", err))
	}
	return derived
}
