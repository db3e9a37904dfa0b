// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

// Package frames implements the coroutine engine: resumable execution
// frames, context snapshots with a crash-safe commit protocol, and signed
// resume handles.
package frames

import (
	"time"

	"github.com/praxislang/praxis/pkg/runtime"
)

type Status string

const (
	StatusRunning    Status = "running"
	StatusPausing    Status = "pausing"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusWaiting    Status = "waiting_for_intervention"
	StatusTerminated Status = "terminated"
)

// Terminal reports whether a frame in this status can never run again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusTerminated
}

// Resumable reports whether resume_coroutine may act on this status.
func (s Status) Resumable() bool {
	return s == StatusPaused || s == StatusWaiting
}

// FrameError records why a frame stopped. For tool interventions it carries
// the pending call and the snapshot to resume from.
type FrameError struct {
	ErrorType              string                 `json:"error_type"`
	Message                string                 `json:"message,omitempty"`
	ToolName               string                 `json:"tool_name,omitempty"`
	ToolArgs               map[string]interface{} `json:"tool_args,omitempty"`
	AtBlock                int                    `json:"at_block"`
	InterventionSnapshotID string                 `json:"intervention_snapshot_id,omitempty"`
}

// StackEntry records where execution sits inside the block list.
type StackEntry struct {
	Kind  string `json:"kind"`
	Index int    `json:"index"`
}

// ExecutionFrame is one resumable execution of a block program. All frame
// mutations go through the store's compare-and-swap on Version.
type ExecutionFrame struct {
	FrameID           string       `json:"frame_id"`
	ParentID          string       `json:"parent_id,omitempty"`
	AgentID           string       `json:"agent_id"`
	BlockPointer      int          `json:"block_pointer"`
	BlockStack        []StackEntry `json:"block_stack,omitempty"`
	Status            Status       `json:"status"`
	DesiredStatus     Status       `json:"desired_status,omitempty"`
	ContextSnapshotID string       `json:"context_snapshot_id"`
	Children          []string     `json:"children,omitempty"`
	Version           int          `json:"version"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
	OriginalContent   string       `json:"original_content"`
	Error             *FrameError  `json:"error,omitempty"`
}

func (f *ExecutionFrame) Clone() *ExecutionFrame {
	cp := *f
	cp.BlockStack = append([]StackEntry(nil), f.BlockStack...)
	cp.Children = append([]string(nil), f.Children...)
	if f.Error != nil {
		e := *f.Error
		cp.Error = &e
	}
	return &cp
}

// StoredSnapshot wraps a context snapshot with its identity in the store.
type StoredSnapshot struct {
	SnapshotID string            `json:"snapshot_id"`
	FrameID    string            `json:"frame_id"`
	Timestamp  time.Time         `json:"timestamp"`
	State      *runtime.Snapshot `json:"state"`
}

// SupervisionPolicy decides what a parent does when a child frame fails.
type SupervisionPolicy string

const (
	OneForOne      SupervisionPolicy = "one_for_one"
	AllForOne      SupervisionPolicy = "all_for_one"
	AlwaysContinue SupervisionPolicy = "always_continue"
)
