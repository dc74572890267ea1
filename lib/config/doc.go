// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the action
// client and the mock executor.
//
// Configuration comes from a single file named by the --config flag or
// the ACTIONCLIENT_CONFIG environment variable. There is no file
// discovery: with neither set, [Resolve] starts from [Default].
//
// The file may contain environment-specific sections (development,
// production) that override base values when [Config].Environment
// matches. After the file, ACTIONCLIENT_* environment variables
// override individual fields (ACTIONCLIENT_TRANSPORT,
// ACTIONCLIENT_SOCKET_PATH, ACTIONCLIENT_NATS_URL, ...). Command-line
// flags registered through [Flags] are applied last, followed by
// [Config.Validate].
//
// ${VAR} and ${VAR:-default} patterns in the socket path are expanded
// once everything else is applied, so a --action flag still changes
// ${ACTION_NAME}.
package config
