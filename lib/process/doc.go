// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides entrypoint helpers for the action-client
// binaries: the structured logger they share and fatal error reporting
// for failures that happen before that logger exists.
package process
