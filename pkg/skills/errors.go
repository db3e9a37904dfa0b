// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package skills

import (
	"errors"
	"fmt"
)

// ToolInterrupt is raised by a skill to request user intervention. The
// explore loop propagates it to the frame engine, which parks the frame in
// waiting_for_intervention.
type ToolInterrupt struct {
	Tool   string                 `json:"tool"`
	Args   map[string]interface{} `json:"args,omitempty"`
	Reason string                 `json:"reason,omitempty"`
}

func (e *ToolInterrupt) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("tool %s requires intervention: %s", e.Tool, e.Reason)
	}
	return fmt.Sprintf("tool %s requires intervention", e.Tool)
}

// AsToolInterrupt unwraps err into a *ToolInterrupt if it is one.
func AsToolInterrupt(err error) (*ToolInterrupt, bool) {
	var ti *ToolInterrupt
	if errors.As(err, &ti) {
		return ti, true
	}
	return nil, false
}

// UserInterrupt signals a cooperative pause requested by the user. The
// frame engine converts it to the paused status.
type UserInterrupt struct {
	AgentName string
}

func (e *UserInterrupt) Error() string {
	return fmt.Sprintf("user interrupt for agent %s", e.AgentName)
}

func AsUserInterrupt(err error) (*UserInterrupt, bool) {
	var ui *UserInterrupt
	if errors.As(err, &ui) {
		return ui, true
	}
	return nil, false
}

type DispatchError struct {
	Skill   string
	Action  string
	Message string
	Err     error
}

func (e *DispatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[Dispatcher:%s] %s: %s: %v", e.Action, e.Skill, e.Message, e.Err)
	}
	return fmt.Sprintf("[Dispatcher:%s] %s: %s", e.Action, e.Skill, e.Message)
}

func (e *DispatchError) Unwrap() error { return e.Err }

func newDispatchError(skill, action, message string, err error) *DispatchError {
	return &DispatchError{Skill: skill, Action: action, Message: message, Err: err}
}
