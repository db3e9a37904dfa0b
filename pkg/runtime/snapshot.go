// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package runtime

import (
	"fmt"

	"github.com/praxislang/praxis/pkg/contexteng"
	"github.com/praxislang/praxis/pkg/vars"
)

// SnapshotSchemaVersion guards against replaying snapshots across
// incompatible layouts.
const SnapshotSchemaVersion = 1

// Snapshot is the fully serializable state of a Context. Runtime handles
// (in-flight streams, locks, the recorder tree) never appear here.
type Snapshot struct {
	SchemaVersion int                    `json:"schema_version"`
	Variables     vars.Snapshot          `json:"variables"`
	Messages      contexteng.Snapshot    `json:"messages"`
	RuntimeState  map[string]interface{} `json:"runtime_state,omitempty"`
	SkillkitState map[string]interface{} `json:"skillkit_state,omitempty"`
}

// Snapshot captures the context state for persistence.
func (c *Context) Snapshot() *Snapshot {
	snap := &Snapshot{
		SchemaVersion: SnapshotSchemaVersion,
		Variables:     c.pool.Snapshot(),
		Messages:      c.store.Snapshot(),
		RuntimeState:  map[string]interface{}{"agent_name": c.agentName},
	}
	if plan := c.PlanState(); plan != nil {
		snap.SkillkitState = plan.SnapshotState()
	}
	return snap
}

// RestoreSnapshot replaces the mutable context state from a snapshot.
func (c *Context) RestoreSnapshot(snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("nil snapshot")
	}
	if snap.SchemaVersion != SnapshotSchemaVersion {
		return fmt.Errorf("unsupported snapshot schema version %d", snap.SchemaVersion)
	}
	c.pool.Restore(snap.Variables)
	c.store.Restore(snap.Messages)
	if plan := c.PlanState(); plan != nil && snap.SkillkitState != nil {
		if err := plan.RestoreState(snap.SkillkitState); err != nil {
			return fmt.Errorf("failed to restore plan state: %w", err)
		}
	}
	return nil
}
