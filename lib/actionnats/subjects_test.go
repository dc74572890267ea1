// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package actionnats

import (
	"errors"
	"testing"

	"github.com/bureau-foundation/actionclient/lib/schema/goal"
)

func TestNewSubjects(t *testing.T) {
	subjects, err := NewSubjects("", "dock")
	if err != nil {
		t.Fatalf("NewSubjects: %v", err)
	}
	want := Subjects{
		Ping:       "action.dock.ping",
		SendGoal:   "action.dock.send_goal",
		CancelGoal: "action.dock.cancel_goal",
		GetResult:  "action.dock.get_result",
		Stream:     "action.dock.stream",
	}
	if subjects != want {
		t.Errorf("subjects = %+v, want %+v", subjects, want)
	}

	subjects, err = NewSubjects("robot.kitchen", "undock")
	if err != nil {
		t.Fatalf("NewSubjects with dotted prefix: %v", err)
	}
	if subjects.Stream != "robot.kitchen.undock.stream" {
		t.Errorf("stream subject = %q", subjects.Stream)
	}
}

func TestNewSubjectsRejectsInvalidNames(t *testing.T) {
	tests := []struct {
		name       string
		prefix     string
		actionName string
	}{
		{"empty action", "action", ""},
		{"dotted action", "action", "dock.now"},
		{"wildcard action", "action", "*"},
		{"tail wildcard action", "action", ">"},
		{"whitespace action", "action", "do ck"},
		{"empty prefix token", "robot..kitchen", "dock"},
		{"wildcard prefix", "robot.*", "dock"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := NewSubjects(test.prefix, test.actionName); err == nil {
				t.Errorf("NewSubjects(%q, %q) succeeded", test.prefix, test.actionName)
			}
		})
	}
}

func TestReplyEnvelope(t *testing.T) {
	var response goal.SendGoalResponse
	encoded := encodeReply(goal.SendGoalResponse{Accepted: true, GoalID: "g1"}, nil)
	if err := decodeReply("action.dock.send_goal", encoded, &response); err != nil {
		t.Fatalf("decodeReply: %v", err)
	}
	if !response.Accepted || response.GoalID != "g1" {
		t.Errorf("response = %+v", response)
	}

	encoded = encodeReply(nil, errors.New("robot is busy"))
	err := decodeReply("action.dock.send_goal", encoded, &response)
	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) || remoteErr.Message != "robot is busy" {
		t.Fatalf("error = %v, want RemoteError with the handler's message", err)
	}

	// A success without data leaves the result untouched.
	if err := decodeReply("action.dock.ping", encodeReply(nil, nil), nil); err != nil {
		t.Fatalf("decodeReply of empty success: %v", err)
	}

	if err := decodeReply("action.dock.ping", []byte{0xff}, nil); err == nil {
		t.Fatal("decodeReply of garbage succeeded")
	}
}
