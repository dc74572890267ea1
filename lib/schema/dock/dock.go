// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dock defines the payloads of the Create 3 dock and undock
// actions. The action client treats them as opaque; the CLI encodes
// goals and decodes feedback and results with these types, and the mock
// executor produces them.
//
// Fields use json tags because goal files are written as JSONC and the
// same types are then carried as CBOR.
package dock

// Action names served by a Create 3 executor.
const (
	ActionDock   = "dock"
	ActionUndock = "undock"
)

// DockGoal asks the robot to return to its dock. It has no parameters.
type DockGoal struct{}

// DockFeedback is published while the robot is docking.
type DockFeedback struct {
	// SeesDock reports whether the robot currently sees the dock.
	SeesDock bool `json:"sees_dock"`
}

// DockResult is the final outcome of a dock goal.
type DockResult struct {
	IsDocked bool `json:"is_docked"`
}

// UndockGoal asks the robot to leave its dock. It has no parameters
// and produces no feedback.
type UndockGoal struct{}

// UndockResult is the final outcome of an undock goal.
type UndockResult struct {
	IsDocked bool `json:"is_docked"`
}

// Known reports whether name is a dock-family action.
func Known(name string) bool {
	return name == ActionDock || name == ActionUndock
}
