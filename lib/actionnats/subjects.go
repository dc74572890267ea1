// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package actionnats

import (
	"fmt"
	"strings"

	"github.com/bureau-foundation/actionclient/lib/schema/goal"
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "action"

// Subjects are the NATS subjects of one action.
type Subjects struct {
	Ping       string
	SendGoal   string
	CancelGoal string
	GetResult  string
	Stream     string
}

// NewSubjects derives the subjects for actionName under prefix. An
// empty prefix means DefaultPrefix. The action name must be a single
// subject token.
func NewSubjects(prefix, actionName string) (Subjects, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if err := validateTokens(prefix, true); err != nil {
		return Subjects{}, fmt.Errorf("invalid subject prefix %q: %w", prefix, err)
	}
	if err := validateTokens(actionName, false); err != nil {
		return Subjects{}, fmt.Errorf("invalid action name %q: %w", actionName, err)
	}

	base := prefix + "." + actionName + "."
	return Subjects{
		Ping:       base + goal.ProtocolPing,
		SendGoal:   base + goal.ProtocolSendGoal,
		CancelGoal: base + goal.ProtocolCancelGoal,
		GetResult:  base + goal.ProtocolGetResult,
		Stream:     base + "stream",
	}, nil
}

// validateTokens rejects empty tokens, wildcards, and whitespace. A
// dot separates tokens only when multi is set.
func validateTokens(subject string, multi bool) error {
	if subject == "" {
		return fmt.Errorf("empty")
	}
	tokens := []string{subject}
	if multi {
		tokens = strings.Split(subject, ".")
	} else if strings.Contains(subject, ".") {
		return fmt.Errorf("contains '.'")
	}
	for _, token := range tokens {
		if token == "" {
			return fmt.Errorf("empty token")
		}
		if token == "*" || token == ">" {
			return fmt.Errorf("wildcard token %q", token)
		}
		if strings.ContainsAny(token, " \t\r\n") {
			return fmt.Errorf("whitespace in token %q", token)
		}
	}
	return nil
}
