// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package graph

import (
	"time"

	"github.com/google/uuid"
)

type StageKind string

const (
	StageLLM          StageKind = "llm"
	StageSkill        StageKind = "skill"
	StageAssign       StageKind = "assign"
	StageToolCall     StageKind = "tool_call"
	StageToolResponse StageKind = "tool_response"
)

type StageStatus string

const (
	StageProcessing StageStatus = "processing"
	StageCompleted  StageStatus = "completed"
	StageFailed     StageStatus = "failed"
)

// Stage is one atomic observable step. It belongs to a Progress; a stage
// that spawns a sub-agent links to that agent's node.
type Stage struct {
	ID          string                 `json:"id"`
	Kind        StageKind              `json:"kind"`
	Status      StageStatus            `json:"status"`
	AgentName   string                 `json:"agent_name"`
	Answer      string                 `json:"answer,omitempty"`
	Think       string                 `json:"think,omitempty"`
	Delta       string                 `json:"delta,omitempty"`
	SkillInfo   map[string]interface{} `json:"skill_info,omitempty"`
	BlockAnswer string                 `json:"block_answer,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`

	SubAgent *AgentNode `json:"sub_agent,omitempty"`
}

func (s *Stage) ToDict() map[string]interface{} {
	d := map[string]interface{}{
		"id":         s.ID,
		"kind":       string(s.Kind),
		"status":     string(s.Status),
		"agent_name": s.AgentName,
		"created_at": s.CreatedAt,
		"updated_at": s.UpdatedAt,
	}
	if s.Answer != "" {
		d["answer"] = s.Answer
	}
	if s.Think != "" {
		d["think"] = s.Think
	}
	if s.Delta != "" {
		d["delta"] = s.Delta
	}
	if s.SkillInfo != nil {
		d["skill_info"] = s.SkillInfo
	}
	if s.BlockAnswer != "" {
		d["block_answer"] = s.BlockAnswer
	}
	if s.Metadata != nil {
		d["metadata"] = s.Metadata
	}
	return d
}

// Progress owns the ordered stages of one block execution.
type Progress struct {
	ID     string   `json:"id"`
	Stages []*Stage `json:"stages"`
}

// BlockNode is the observation of one block instance.
type BlockNode struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	OutputVar string    `json:"output_var,omitempty"`
	Progress  *Progress `json:"progress"`
}

// AgentNode roots the observation tree for one agent run.
type AgentNode struct {
	Name   string       `json:"name"`
	Blocks []*BlockNode `json:"blocks"`
}

func newStage(kind StageKind, agentName string) *Stage {
	now := time.Now()
	return &Stage{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    StageProcessing,
		AgentName: agentName,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
