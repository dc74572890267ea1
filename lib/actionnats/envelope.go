// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package actionnats

import (
	"fmt"

	"github.com/bureau-foundation/actionclient/lib/codec"
)

// reply is the envelope for every request-reply exchange.
type reply struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// RemoteError is returned when the responder answers with ok=false.
type RemoteError struct {
	Subject string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("action responder error on %s: %s", e.Subject, e.Message)
}

// encodeReply wraps a handler outcome in the envelope.
func encodeReply(result any, err error) []byte {
	envelope := reply{OK: err == nil}
	if err != nil {
		envelope.Error = err.Error()
	} else if result != nil {
		data, marshalErr := codec.Marshal(result)
		if marshalErr != nil {
			envelope = reply{Error: fmt.Sprintf("internal: marshaling reply: %v", marshalErr)}
		} else {
			envelope.Data = data
		}
	}
	encoded, marshalErr := codec.Marshal(envelope)
	if marshalErr != nil {
		// A reply of only strings and raw CBOR always encodes.
		panic(fmt.Sprintf("encoding reply envelope: %v", marshalErr))
	}
	return encoded
}

// decodeReply unwraps an envelope into result.
func decodeReply(subject string, data []byte, result any) error {
	var envelope reply
	if err := codec.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("decoding reply on %s: %w", subject, err)
	}
	if !envelope.OK {
		return &RemoteError{Subject: subject, Message: envelope.Error}
	}
	if result != nil && len(envelope.Data) > 0 {
		if err := codec.Unmarshal(envelope.Data, result); err != nil {
			return fmt.Errorf("decoding reply data on %s: %w", subject, err)
		}
	}
	return nil
}
