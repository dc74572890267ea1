// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding configuration shared by every
// action substrate.
//
// Goal requests, feedback, status updates, and results cross the wire
// as CBOR. The engine never inspects command payloads: they travel as
// [RawMessage] values that only the caller decodes. Both the Unix socket
// substrate and the NATS substrate encode with the modes defined here,
// so a frame produced by one decodes identically in the other.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items.
//
// For buffer-oriented operations (NATS messages, payloads):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (socket connections):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// Wire types use `cbor` struct tags. Command payload types that are also
// read from JSON goal files use `json` tags, which fxamacker/cbor falls
// back to when no `cbor` tag is present.
package codec
