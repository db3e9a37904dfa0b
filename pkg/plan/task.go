// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

// Package plan implements the plan skillkit: a task registry plus the
// control skills an LLM uses to decompose work into subtasks and track
// them to completion.
package plan

import (
	"time"
)

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
	TaskSkipped   TaskStatus = "skipped"
)

// Terminal statuses never revert.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled, TaskSkipped:
		return true
	}
	return false
}

// Task is one unit of planned work, executed as an explore run in a
// child context.
type Task struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Prompt    string        `json:"prompt"`
	Status    TaskStatus    `json:"status"`
	Answer    string        `json:"answer,omitempty"`
	Think     string        `json:"think,omitempty"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Attempt   int           `json:"attempt"`
}

func (t *Task) clone() *Task {
	cp := *t
	return &cp
}
