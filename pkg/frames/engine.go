// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package frames

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/praxislang/praxis/pkg/dsl"
	"github.com/praxislang/praxis/pkg/executor"
	"github.com/praxislang/praxis/pkg/explore"
	"github.com/praxislang/praxis/pkg/runtime"
	"github.com/praxislang/praxis/pkg/skills"
	"github.com/praxislang/praxis/pkg/vars"
)

// ContextFactory builds a fresh runtime context for an agent; the engine
// restores snapshot state into it before each step.
type ContextFactory func(agentID string) *runtime.Context

type Options struct {
	Store      Store
	Executor   *executor.Executor
	Tokens     *TokenIssuer
	NewContext ContextFactory
	// OrphanAge bounds how long a pending snapshot may linger before
	// collection. Zero means one hour.
	OrphanAge time.Duration
}

// StepResult is the outcome of one step_coroutine call. Handle is set
// when the frame parked in a resumable status during the step.
type StepResult struct {
	Done   bool
	Frame  *ExecutionFrame
	Handle *ResumeHandle
}

// Engine drives frames one atomic unit at a time. A compound block counts
// as one unit. Each unit commits a snapshot before the frame advances, so
// a crash never loses committed progress.
type Engine struct {
	store      Store
	exec       *executor.Executor
	tokens     *TokenIssuer
	newContext ContextFactory
	orphanAge  time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	live  map[string]*runtime.Context
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.Store == nil || opts.Executor == nil || opts.Tokens == nil || opts.NewContext == nil {
		return nil, fmt.Errorf("store, executor, tokens and context factory are required")
	}
	age := opts.OrphanAge
	if age <= 0 {
		age = time.Hour
	}
	return &Engine{
		store:      opts.Store,
		exec:       opts.Executor,
		tokens:     opts.Tokens,
		newContext: opts.NewContext,
		orphanAge:  age,
		locks:      map[string]*sync.Mutex{},
		live:       map[string]*runtime.Context{},
	}, nil
}

// frameLock serializes the commit-critical section per frame. It does not
// bracket anything long-running except the step body itself, which is the
// unit callers expect to be exclusive.
func (e *Engine) frameLock(frameID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[frameID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[frameID] = lock
	}
	return lock
}

// StartCoroutine parses the content, registers a root frame in running
// state and commits the initial context snapshot.
func (e *Engine) StartCoroutine(agentID, content string, inputs map[string]interface{}) (*ExecutionFrame, error) {
	return e.start(agentID, "", content, nil, inputs)
}

// StartCoroutineFromSnapshot starts a new frame whose initial context is
// restored from an earlier snapshot, so conversation state carries over.
func (e *Engine) StartCoroutineFromSnapshot(agentID, content string, from *runtime.Snapshot, inputs map[string]interface{}) (*ExecutionFrame, error) {
	return e.start(agentID, "", content, from, inputs)
}

// SnapshotState returns the context state a frame currently points at.
func (e *Engine) SnapshotState(frameID string) (*runtime.Snapshot, error) {
	frame, err := e.store.LoadFrame(frameID)
	if err != nil {
		return nil, err
	}
	snap, err := e.store.LoadSnapshot(frame.ContextSnapshotID)
	if err != nil {
		return nil, err
	}
	return snap.State, nil
}

// SpawnChild registers a child frame under a parent; the registry tracks
// the tree for termination and supervision.
func (e *Engine) SpawnChild(parentID, agentID, content string, inputs map[string]interface{}) (*ExecutionFrame, error) {
	lock := e.frameLock(parentID)
	lock.Lock()
	defer lock.Unlock()

	parent, err := e.store.LoadFrame(parentID)
	if err != nil {
		return nil, err
	}
	child, err := e.start(agentID, parentID, content, nil, inputs)
	if err != nil {
		return nil, err
	}
	parent.Children = append(parent.Children, child.FrameID)
	if err := e.commit(parent, nil); err != nil {
		return nil, err
	}
	return child, nil
}

func (e *Engine) start(agentID, parentID, content string, from *runtime.Snapshot, inputs map[string]interface{}) (*ExecutionFrame, error) {
	if _, err := dsl.Parse(content); err != nil {
		return nil, err
	}

	rctx := e.newContext(agentID)
	if from != nil {
		if err := rctx.RestoreSnapshot(from); err != nil {
			return nil, err
		}
	}
	for k, v := range inputs {
		if err := rctx.Pool().Set(k, v, vars.ModeOverwrite); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	frame := &ExecutionFrame{
		FrameID:         uuid.NewString(),
		ParentID:        parentID,
		AgentID:         agentID,
		Status:          StatusRunning,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
		OriginalContent: content,
	}
	snap := &StoredSnapshot{
		SnapshotID: uuid.NewString(),
		FrameID:    frame.FrameID,
		Timestamp:  now,
		State:      rctx.Snapshot(),
	}
	if err := e.store.PutPendingSnapshot(snap); err != nil {
		return nil, err
	}
	frame.ContextSnapshotID = snap.SnapshotID
	if err := e.store.SaveFrame(frame, 0); err != nil {
		return nil, err
	}
	if err := e.store.FinalizeSnapshot(snap.SnapshotID); err != nil {
		return nil, err
	}
	return frame, nil
}

// StepCoroutine executes exactly one atomic unit of the frame.
func (e *Engine) StepCoroutine(ctx context.Context, frameID string) (*StepResult, error) {
	lock := e.frameLock(frameID)
	lock.Lock()
	defer lock.Unlock()

	frame, err := e.store.LoadFrame(frameID)
	if err != nil {
		return nil, err
	}
	if frame.Status.Terminal() {
		return &StepResult{Done: true, Frame: frame}, nil
	}
	if frame.DesiredStatus == StatusPausing {
		return e.park(frame, StatusPaused, nil, "")
	}
	if frame.Status != StatusRunning {
		return nil, fmt.Errorf("frame %s is %s; resume it before stepping", frameID, frame.Status)
	}

	blocks, err := dsl.Parse(frame.OriginalContent)
	if err != nil {
		return nil, err
	}
	if frame.BlockPointer >= len(blocks) {
		frame.Status = StatusCompleted
		if err := e.commit(frame, nil); err != nil {
			return nil, err
		}
		return &StepResult{Done: true, Frame: frame}, nil
	}

	snap, err := e.store.LoadSnapshot(frame.ContextSnapshotID)
	if err != nil {
		return nil, err
	}
	rctx := e.newContext(frame.AgentID)
	if err := rctx.RestoreSnapshot(snap.State); err != nil {
		return nil, err
	}

	e.setLive(frameID, rctx)
	defer e.clearLive(frameID)

	block := blocks[frame.BlockPointer]
	_, runErr := e.exec.RunBlock(ctx, rctx, block)

	if runErr != nil {
		if ti, ok := skills.AsToolInterrupt(runErr); ok {
			frame.Error = &FrameError{
				ErrorType: "ToolInterrupt",
				ToolName:  ti.Tool,
				ToolArgs:  ti.Args,
				AtBlock:   frame.BlockPointer,
			}
			return e.park(frame, StatusWaiting, rctx, "intervention")
		}
		if _, ok := skills.AsUserInterrupt(runErr); ok {
			return e.park(frame, StatusPaused, rctx, "")
		}
		frame.Status = StatusFailed
		frame.Error = &FrameError{
			ErrorType: "Error",
			Message:   runErr.Error(),
			AtBlock:   frame.BlockPointer,
		}
		if err := e.commit(frame, nil); err != nil {
			return nil, err
		}
		return &StepResult{Done: true, Frame: frame}, runErr
	}

	frame.BlockPointer++
	frame.BlockStack = []StackEntry{{Kind: string(block.Kind), Index: frame.BlockPointer - 1}}
	if frame.BlockPointer >= len(blocks) {
		frame.Status = StatusCompleted
	}
	if err := e.commitWithContext(frame, rctx); err != nil {
		return nil, err
	}
	return &StepResult{Done: frame.Status.Terminal(), Frame: frame}, nil
}

// park snapshots the context (when present), moves the frame to a
// resumable status and returns a handle bound to the committed version.
func (e *Engine) park(frame *ExecutionFrame, status Status, rctx *runtime.Context, label string) (*StepResult, error) {
	frame.Status = status
	frame.DesiredStatus = ""
	var err error
	if rctx != nil {
		err = e.commitWithContext(frame, rctx)
	} else {
		err = e.commit(frame, nil)
	}
	if err != nil {
		return nil, err
	}
	if label == "intervention" && frame.Error != nil {
		frame.Error.InterventionSnapshotID = frame.ContextSnapshotID
		if err := e.commit(frame, nil); err != nil {
			return nil, err
		}
	}
	handle, err := e.tokens.Issue(frame)
	if err != nil {
		return nil, err
	}
	return &StepResult{Frame: frame, Handle: handle}, nil
}

// PauseCoroutine is cooperative: it interrupts any in-flight step, waits
// for the step boundary and parks the frame.
func (e *Engine) PauseCoroutine(frameID string) (*ResumeHandle, error) {
	if rctx := e.liveContext(frameID); rctx != nil {
		rctx.Interrupt()
	}

	lock := e.frameLock(frameID)
	lock.Lock()
	defer lock.Unlock()

	frame, err := e.store.LoadFrame(frameID)
	if err != nil {
		return nil, err
	}
	if frame.Status.Terminal() {
		return nil, fmt.Errorf("frame %s is already %s", frameID, frame.Status)
	}
	if frame.Status == StatusRunning {
		frame.Status = StatusPaused
		if err := e.commit(frame, nil); err != nil {
			return nil, err
		}
	}
	return e.tokens.Issue(frame)
}

// ResumeCoroutine validates the handle, restores the bound snapshot,
// applies updates and puts the frame back in running state. The
// tool_result update key feeds a parked tool intervention.
func (e *Engine) ResumeCoroutine(token string, updates map[string]interface{}) (*ExecutionFrame, error) {
	frameID, err := e.tokens.Parse(token)
	if err != nil {
		return nil, err
	}

	lock := e.frameLock(frameID)
	lock.Lock()
	defer lock.Unlock()

	frame, err := e.store.LoadFrame(frameID)
	if err != nil {
		return nil, err
	}
	snapshotID, err := e.tokens.Validate(token, frame)
	if err != nil {
		return nil, err
	}

	snap, err := e.store.LoadSnapshot(snapshotID)
	if err != nil {
		return nil, err
	}
	rctx := e.newContext(frame.AgentID)
	if err := rctx.RestoreSnapshot(snap.State); err != nil {
		return nil, err
	}
	for k, v := range updates {
		if k == "tool_result" {
			if err := rctx.Pool().SetReserved(explore.ToolResultVar, v); err != nil {
				return nil, err
			}
			continue
		}
		if err := rctx.Pool().Set(k, v, vars.ModeOverwrite); err != nil {
			return nil, err
		}
	}

	frame.Status = StatusRunning
	frame.DesiredStatus = ""
	frame.Error = nil
	if err := e.commitWithContext(frame, rctx); err != nil {
		return nil, err
	}
	return frame, nil
}

// Terminate cancels the frame and its subtree. In-flight work sees the
// interrupt at its next suspension point.
func (e *Engine) Terminate(frameID string) error {
	if rctx := e.liveContext(frameID); rctx != nil {
		rctx.Interrupt()
	}

	lock := e.frameLock(frameID)
	lock.Lock()
	frame, err := e.store.LoadFrame(frameID)
	if err != nil {
		lock.Unlock()
		return err
	}
	children := append([]string(nil), frame.Children...)
	if !frame.Status.Terminal() {
		frame.Status = StatusTerminated
		if err := e.commit(frame, nil); err != nil {
			lock.Unlock()
			return err
		}
	}
	lock.Unlock()

	for _, child := range children {
		if err := e.Terminate(child); err != nil {
			slog.Warn("failed to terminate child frame", "frame_id", child, "error", err)
		}
	}
	return nil
}

// HandleChildFailure applies a supervision policy after a child frame
// failed and returns the frames that were restarted.
func (e *Engine) HandleChildFailure(parentID, childID string, policy SupervisionPolicy) ([]string, error) {
	switch policy {
	case OneForOne:
		if err := e.restart(childID); err != nil {
			return nil, err
		}
		return []string{childID}, nil
	case AllForOne:
		parent, err := e.store.LoadFrame(parentID)
		if err != nil {
			return nil, err
		}
		restarted := make([]string, 0, len(parent.Children))
		for _, id := range parent.Children {
			if err := e.restart(id); err != nil {
				return restarted, err
			}
			restarted = append(restarted, id)
		}
		return restarted, nil
	case AlwaysContinue, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown supervision policy %q", policy)
	}
}

// restart rewinds a frame to its first block, keeping the current
// snapshot as the starting context.
func (e *Engine) restart(frameID string) error {
	lock := e.frameLock(frameID)
	lock.Lock()
	defer lock.Unlock()

	frame, err := e.store.LoadFrame(frameID)
	if err != nil {
		return err
	}
	frame.BlockPointer = 0
	frame.BlockStack = nil
	frame.Status = StatusRunning
	frame.Error = nil
	return e.commit(frame, nil)
}

// CollectOrphans removes pending snapshots abandoned by crashed commits.
func (e *Engine) CollectOrphans() (int, error) {
	return e.store.CollectOrphans(e.orphanAge)
}

func (e *Engine) ListFrames() ([]*ExecutionFrame, error) { return e.store.ListFrames() }

func (e *Engine) LoadFrame(frameID string) (*ExecutionFrame, error) {
	return e.store.LoadFrame(frameID)
}

// commitWithContext runs the commit protocol with a fresh snapshot of the
// given context: pending write, CAS frame update, finalize.
func (e *Engine) commitWithContext(frame *ExecutionFrame, rctx *runtime.Context) error {
	snap := &StoredSnapshot{
		SnapshotID: uuid.NewString(),
		FrameID:    frame.FrameID,
		Timestamp:  time.Now(),
		State:      rctx.Snapshot(),
	}
	return e.commit(frame, snap)
}

func (e *Engine) commit(frame *ExecutionFrame, snap *StoredSnapshot) error {
	previous := frame.ContextSnapshotID
	if snap != nil {
		if err := e.store.PutPendingSnapshot(snap); err != nil {
			return err
		}
		frame.ContextSnapshotID = snap.SnapshotID
	}

	expected := frame.Version
	frame.Version++
	frame.UpdatedAt = time.Now()
	if err := e.store.SaveFrame(frame, expected); err != nil {
		frame.Version = expected
		frame.ContextSnapshotID = previous
		return err
	}
	if snap == nil {
		return nil
	}
	if err := e.store.FinalizeSnapshot(snap.SnapshotID); err != nil {
		return err
	}
	// the frame has progressed past the previous snapshot; keep the
	// intervention snapshot, prune the rest
	if previous != "" && previous != snap.SnapshotID && !e.isIntervention(frame, previous) {
		if err := e.store.DeleteSnapshot(previous); err != nil {
			slog.Debug("failed to prune snapshot", "snapshot_id", previous, "error", err)
		}
	}
	return nil
}

func (e *Engine) isIntervention(frame *ExecutionFrame, snapshotID string) bool {
	return frame.Error != nil && frame.Error.InterventionSnapshotID == snapshotID
}

func (e *Engine) setLive(frameID string, rctx *runtime.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.live[frameID] = rctx
}

func (e *Engine) clearLive(frameID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.live, frameID)
}

func (e *Engine) liveContext(frameID string) *runtime.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.live[frameID]
}
