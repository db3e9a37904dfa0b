// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package graph

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/praxislang/praxis/pkg/vars"
)

// ProgressVar mirrors the current block's stages into the variable pool so
// stream subscribers observe progress. ArtifactsVar carries artifact
// summaries without content.
const (
	ProgressVar  = "_progress"
	ArtifactsVar = "_artifacts"
)

// StageUpdate carries partial stage mutations; nil fields are untouched.
type StageUpdate struct {
	Answer      *string
	Think       *string
	SkillInfo   map[string]interface{}
	BlockAnswer *string
	Metadata    map[string]interface{}
}

// Recorder maintains the observation tree and publishes progress into the
// pool. The tree is ephemeral and never enters snapshots.
type Recorder struct {
	mu        sync.Mutex
	root      *AgentNode
	agentPath []*AgentNode
	block     *BlockNode
	stage     *Stage
	pool      *vars.Pool
	deltaMode bool
	artifacts []interface{}
}

func NewRecorder(agentName string, pool *vars.Pool, deltaMode bool) *Recorder {
	root := &AgentNode{Name: agentName}
	return &Recorder{root: root, agentPath: []*AgentNode{root}, pool: pool, deltaMode: deltaMode}
}

func (r *Recorder) Root() *AgentNode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.root
}

func (r *Recorder) currentAgent() *AgentNode {
	return r.agentPath[len(r.agentPath)-1]
}

// StartSubAgent attaches a sub-agent node under the current stage and makes
// it the recording target until EndSubAgent.
func (r *Recorder) StartSubAgent(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	node := &AgentNode{Name: name}
	if r.stage != nil {
		r.stage.SubAgent = node
	}
	r.agentPath = append(r.agentPath, node)
}

func (r *Recorder) EndSubAgent() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.agentPath) > 1 {
		r.agentPath = r.agentPath[:len(r.agentPath)-1]
	}
}

// StartBlock opens the observation of one block instance.
func (r *Recorder) StartBlock(kind, outputVar string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.block = &BlockNode{
		ID:        uuid.NewString(),
		Kind:      kind,
		OutputVar: outputVar,
		Progress:  &Progress{ID: uuid.NewString()},
	}
	agent := r.currentAgent()
	agent.Blocks = append(agent.Blocks, r.block)
}

// StartStage opens a new stage in the current block's progress.
func (r *Recorder) StartStage(kind StageKind) *Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.block == nil {
		r.block = &BlockNode{ID: uuid.NewString(), Progress: &Progress{ID: uuid.NewString()}}
		r.currentAgent().Blocks = append(r.currentAgent().Blocks, r.block)
	}
	stage := newStage(kind, r.currentAgent().Name)
	r.block.Progress.Stages = append(r.block.Progress.Stages, stage)
	r.stage = stage
	r.syncProgress()
	return stage
}

// UpdateStage applies a partial update to the current stage and republishes
// progress. In delta mode the answer increment is surfaced as Delta.
func (r *Recorder) UpdateStage(update StageUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stage == nil {
		return
	}
	if update.Answer != nil {
		if r.deltaMode {
			r.stage.Delta = answerDelta(r.stage.Answer, *update.Answer)
		}
		r.stage.Answer = *update.Answer
	}
	if update.Think != nil {
		r.stage.Think = *update.Think
	}
	if update.SkillInfo != nil {
		r.stage.SkillInfo = update.SkillInfo
	}
	if update.BlockAnswer != nil {
		r.stage.BlockAnswer = *update.BlockAnswer
	}
	if update.Metadata != nil {
		if r.stage.Metadata == nil {
			r.stage.Metadata = map[string]interface{}{}
		}
		for k, v := range update.Metadata {
			r.stage.Metadata[k] = v
		}
	}
	r.stage.UpdatedAt = time.Now()
	r.syncProgress()
}

// EndStage closes the current stage with a terminal status.
func (r *Recorder) EndStage(status StageStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stage == nil {
		return
	}
	r.stage.Status = status
	r.stage.UpdatedAt = time.Now()
	r.syncProgress()
	r.stage = nil
}

// RecordArtifactEvent surfaces an artifact mutation as a skill stage and
// refreshes the artifact summary variable.
func (r *Recorder) RecordArtifactEvent(action, artifactID string, version int, summary string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	event := map[string]interface{}{
		"action":      action,
		"artifact_id": artifactID,
		"version":     version,
		"summary":     summary,
	}
	r.artifacts = append(r.artifacts, event)

	if r.block != nil {
		stage := newStage(StageSkill, r.currentAgent().Name)
		stage.Status = StageCompleted
		stage.Metadata = map[string]interface{}{"artifact_event": event}
		r.block.Progress.Stages = append(r.block.Progress.Stages, stage)
	}
	if err := r.pool.SetReserved(ArtifactsVar, r.artifacts); err != nil {
		slog.Debug("Failed to publish artifacts", "error", err)
	}
	r.syncProgress()
}

// Branch creates an independent recorder for a concurrent child context.
// Each branch keeps its own stage cursor and publishes into its own pool,
// so sibling branches never interleave on one cursor. Merge folds the
// branch tree back in when the branch joins.
func (r *Recorder) Branch(agentName string, pool *vars.Pool) *Recorder {
	r.mu.Lock()
	deltaMode := r.deltaMode
	r.mu.Unlock()
	return NewRecorder(agentName, pool, deltaMode)
}

// Merge appends a settled branch's blocks and artifact events under the
// current agent. The branch must have stopped recording.
func (r *Recorder) Merge(branch *Recorder) {
	if branch == nil || branch == r {
		return
	}
	branch.mu.Lock()
	blocks := branch.root.Blocks
	artifacts := branch.artifacts
	branch.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	agent := r.currentAgent()
	agent.Blocks = append(agent.Blocks, blocks...)
	if len(artifacts) > 0 {
		r.artifacts = append(r.artifacts, artifacts...)
		if r.pool != nil {
			if err := r.pool.SetReserved(ArtifactsVar, r.artifacts); err != nil {
				slog.Debug("Failed to publish artifacts", "error", err)
			}
		}
	}
	r.syncProgress()
}

// syncProgress publishes the current progress stages; callers hold the lock.
func (r *Recorder) syncProgress() {
	if r.pool == nil || r.block == nil {
		return
	}
	stages := make([]interface{}, 0, len(r.block.Progress.Stages))
	for _, s := range r.block.Progress.Stages {
		stages = append(stages, s.ToDict())
	}
	if err := r.pool.SetReserved(ProgressVar, stages); err != nil {
		slog.Debug("Failed to publish progress", "error", err)
	}
}

// answerDelta returns the suffix newly appended to prev. A rewritten answer
// falls back to the full text.
func answerDelta(prev, next string) string {
	if strings.HasPrefix(next, prev) {
		return next[len(prev):]
	}
	return next
}
