// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/actionclient/lib/action"
)

// loadGoal reads a JSONC goal payload from path and encodes it for the
// wire. An empty path means a goal with no parameters, which is what
// dock and undock take.
func loadGoal(path string) (action.GoalRequest, error) {
	if path == "" {
		return action.NewGoalRequest(map[string]any{})
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return action.GoalRequest{}, fmt.Errorf("reading goal file: %w", err)
	}
	return parseGoal(data)
}

// parseGoal decodes a JSONC document. The top level must be an object.
func parseGoal(data []byte) (action.GoalRequest, error) {
	stripped := jsonc.ToJSON(data)

	decoder := json.NewDecoder(bytes.NewReader(stripped))
	decoder.UseNumber()
	var value map[string]any
	if err := decoder.Decode(&value); err != nil {
		return action.GoalRequest{}, fmt.Errorf("parsing goal file: %w", err)
	}
	if decoder.More() {
		return action.GoalRequest{}, fmt.Errorf("parsing goal file: trailing data after the goal object")
	}
	if value == nil {
		return action.GoalRequest{}, fmt.Errorf("parsing goal file: goal must be an object, got null")
	}
	return action.NewGoalRequest(normalizeNumbers(value))
}

// normalizeNumbers replaces json.Number values with int64 where the
// number is integral and float64 otherwise, so that integer goal
// parameters stay integers on the wire.
func normalizeNumbers(value any) any {
	switch v := value.(type) {
	case json.Number:
		if integer, err := v.Int64(); err == nil {
			return integer
		}
		float, err := v.Float64()
		if err != nil {
			return v.String()
		}
		return float
	case map[string]any:
		for key, element := range v {
			v[key] = normalizeNumbers(element)
		}
		return v
	case []any:
		for i, element := range v {
			v[i] = normalizeNumbers(element)
		}
		return v
	}
	return value
}
