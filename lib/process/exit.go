// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"os"
)

// ExitError carries a specific exit status out of run().
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode returns the status the process should exit with.
func (e *ExitError) ExitCode() int { return e.Code }

// WithExitCode wraps err so that Fatal exits with code.
func WithExitCode(code int, err error) error {
	return &ExitError{Code: code, Err: err}
}

// Fatal writes "error: err" to stderr and exits. The exit status is 1
// unless err carries another one via ExitError.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(ExitCode(err))
}

// ExitCode returns the exit status for err: 0 for nil, the carried
// code for an ExitError, and 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}
