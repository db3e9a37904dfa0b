// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

// Package agent ties the runtime together: lifecycle state machine, lazy
// initialization, streaming runs and pause/resume over the frame engine.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/praxislang/praxis/pkg/config"
	"github.com/praxislang/praxis/pkg/executor"
	"github.com/praxislang/praxis/pkg/explore"
	"github.com/praxislang/praxis/pkg/frames"
	"github.com/praxislang/praxis/pkg/graph"
	"github.com/praxislang/praxis/pkg/llms"
	"github.com/praxislang/praxis/pkg/resultcache"
	"github.com/praxislang/praxis/pkg/runtime"
	"github.com/praxislang/praxis/pkg/skills"
	"github.com/praxislang/praxis/pkg/vars"
)

// ErrNeedResume is returned by ContinueChat when the agent is parked on a
// tool interrupt; the caller must use Resume with updates instead.
var ErrNeedResume = errors.New("NEED_RESUME")

// StreamMode selects full accumulated answers or per-chunk deltas.
type StreamMode string

const (
	StreamFull  StreamMode = "full"
	StreamDelta StreamMode = "delta"
)

// StreamItem is one element of the run output stream.
type StreamItem struct {
	ModelName string                 `json:"model_name,omitempty"`
	Status    string                 `json:"_status"`
	Progress  []interface{}          `json:"_progress"`
	Artifacts []interface{}          `json:"_artifacts,omitempty"`
	Plan      map[string]interface{} `json:"_plan,omitempty"`
	Verdict   map[string]interface{} `json:"_verdict,omitempty"`
	Result    interface{}            `json:"result,omitempty"`
}

type Options struct {
	// Name identifies the agent in stages, logs and frames.
	Name string
	// Content is the block program source.
	Content string
	Config  *config.Config
	// LLM overrides the driver built from Config.
	LLM llms.Driver
	// Registry overrides the default empty skill registry.
	Registry *skills.Registry
	Output   runtime.OutputSink
	// Store overrides the snapshot store built from Config.
	Store frames.Store
}

type Agent struct {
	name    string
	content string
	cfg     *config.Config
	output  runtime.OutputSink

	mu        sync.Mutex
	state     State
	med       *mediator
	listeners map[EventKind][]Listener

	llm       llms.Driver
	registry  *skills.Registry
	store     frames.Store
	engine    *frames.Engine
	deltaMode bool

	frameID  string
	handle   *frames.ResumeHandle
	pausedBy string
}

func New(opts Options) (*Agent, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("agent name is required")
	}
	if opts.Content == "" {
		return nil, fmt.Errorf("agent content is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	return &Agent{
		name:      opts.Name,
		content:   opts.Content,
		cfg:       cfg,
		llm:       opts.LLM,
		registry:  opts.Registry,
		store:     opts.Store,
		output:    opts.Output,
		state:     StateCreated,
		med:       newMediator(),
		listeners: map[EventKind][]Listener{},
	}, nil
}

func (a *Agent) Name() string { return a.name }

func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// On registers a listener for an event kind. Listeners run synchronously
// on the transitioning goroutine and must not block.
func (a *Agent) On(kind EventKind, l Listener) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners[kind] = append(a.listeners[kind], l)
}

func (a *Agent) emit(kind EventKind, data map[string]interface{}) {
	a.mu.Lock()
	handlers := append([]Listener(nil), a.listeners[kind]...)
	a.mu.Unlock()
	for _, h := range handlers {
		h(kind, data)
	}
}

func (a *Agent) transition(to State) error {
	a.mu.Lock()
	from := a.state
	if err := a.med.validate(from, to); err != nil {
		a.mu.Unlock()
		return err
	}
	a.state = to
	a.mu.Unlock()

	a.emit(EventStateChanged, map[string]interface{}{"from": string(from), "to": string(to)})
	return nil
}

/// initialize is lazy: the first ARun or ContinueChat triggers it.
func (a *Agent) initialize() error {
	a.mu.Lock()
	initialized := a.engine != nil
	a.mu.Unlock()
	if initialized {
		return nil
	}

	if a.llm == nil {
		driver, err := llms.New(a.cfg.LLM)
		if err != nil {
			return fmt.Errorf("failed to build llm driver: %w", err)
		}
		a.llm = driver
	}
	if a.registry == nil {
		cache, err := resultcache.New()
		if err != nil {
			return err
		}
		a.registry = skills.NewRegistry(cache)
	}
	if a.store == nil {
		store, err := frames.OpenStore(a.cfg.Frames)
		if err != nil {
			return err
		}
		a.store = store
	}

	secret := a.cfg.Frames.TokenSecret
	if secret == "" {
		secret = "praxis-dev-secret"
	}
	tokens, err := frames.NewTokenIssuer(secret, a.cfg.Frames.TokenTTL)
	if err != nil {
		return err
	}

	engine, err := frames.NewEngine(frames.Options{
		Store:    a.store,
		Executor: executor.New(nil),
		Tokens:   tokens,
		NewContext: func(agentID string) *runtime.Context {
			a.mu.Lock()
			delta := a.deltaMode
			a.mu.Unlock()
			return runtime.NewContext(runtime.Options{
				AgentName: agentID,
				Config:    a.cfg,
				Registry:  a.registry,
				LLM:       a.llm,
				Output:    a.output,
				DeltaMode: delta,
			})
		},
		OrphanAge: a.cfg.Frames.OrphanAge,
	})
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.engine = engine
	a.mu.Unlock()

	if err := a.transition(StateInitialized); err != nil {
		return err
	}
	a.emit(EventInit, map[string]interface{}{"agent": a.name})
	return nil
}

// ARun starts the first execution of the agent program. The query is
// exposed to blocks as the query variable.
func (a *Agent) ARun(ctx context.Context, query string, mode StreamMode) (<-chan StreamItem, error) {
	if err := a.initialize(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.deltaMode = mode == StreamDelta
	a.mu.Unlock()

	frame, err := a.engine.StartCoroutine(a.name, a.content, map[string]interface{}{"query": query})
	if err != nil {
		return nil, err
	}
	return a.launch(ctx, frame.FrameID)
}

// ContinueChat runs one more conversational turn in the accumulated
// context. A tool-interrupted agent fast-fails with ErrNeedResume.
func (a *Agent) ContinueChat(ctx context.Context, message string) (<-chan StreamItem, error) {
	a.mu.Lock()
	if a.state == StatePaused && a.pausedBy == "tool" {
		a.mu.Unlock()
		return nil, ErrNeedResume
	}
	lastFrame := a.frameID
	a.mu.Unlock()

	if err := a.initialize(); err != nil {
		return nil, err
	}

	var from *runtime.Snapshot
	if lastFrame != "" {
		snap, err := a.engine.SnapshotState(lastFrame)
		if err != nil {
			return nil, err
		}
		from = snap
	}

	content := "#explore\n{user_message}"
	frame, err := a.engine.StartCoroutineFromSnapshot(a.name, content, from,
		map[string]interface{}{"user_message": message})
	if err != nil {
		return nil, err
	}
	return a.launch(ctx, frame.FrameID)
}

func (a *Agent) launch(ctx context.Context, frameID string) (<-chan StreamItem, error) {
	if err := a.transition(StateRunning); err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.frameID = frameID
	a.mu.Unlock()

	a.emit(EventStart, map[string]interface{}{"agent": a.name, "frame_id": frameID})

	ch := make(chan StreamItem, 16)
	go a.pump(ctx, frameID, ch)
	return ch, nil
}

// pump steps the frame to a boundary and translates frame state into
// stream items.
func (a *Agent) pump(ctx context.Context, frameID string, ch chan<- StreamItem) {
	defer close(ch)

	for {
		res, err := a.engine.StepCoroutine(ctx, frameID)
		if err != nil && (res == nil || res.Frame == nil) {
			a.fail(ch, frameID, err)
			return
		}

		frame := res.Frame
		switch frame.Status {
		case frames.StatusRunning:
			ch <- a.item(frameID, "running", nil)
		case frames.StatusWaiting:
			a.park(frame, res.Handle, "tool")
			ch <- a.item(frameID, "running", nil)
			return
		case frames.StatusPaused:
			a.park(frame, res.Handle, "user")
			ch <- a.item(frameID, "running", nil)
			return
		case frames.StatusFailed, frames.StatusTerminated:
			a.fail(ch, frameID, err)
			return
		case frames.StatusCompleted:
			result := a.finalResult(frameID)
			if terr := a.transition(StateCompleted); terr != nil {
				slog.Warn("state transition failed", "agent", a.name, "error", terr)
			}
			a.emit(EventComplete, map[string]interface{}{"agent": a.name, "result": result})
			ch <- a.item(frameID, "completed", result)
			return
		}
	}
}

func (a *Agent) park(frame *frames.ExecutionFrame, handle *frames.ResumeHandle, by string) {
	a.mu.Lock()
	a.handle = handle
	a.pausedBy = by
	a.mu.Unlock()
	if err := a.transition(StatePaused); err != nil {
		slog.Warn("state transition failed", "agent", a.name, "error", err)
	}
}

func (a *Agent) fail(ch chan<- StreamItem, frameID string, err error) {
	if terr := a.transition(StateError); terr != nil {
		slog.Warn("state transition failed", "agent", a.name, "error", terr)
	}
	data := map[string]interface{}{"agent": a.name}
	if err != nil {
		data["error"] = err.Error()
	}
	a.emit(EventError, data)
	ch <- a.item(frameID, "failed", nil)
}

// item assembles the streaming envelope from the frame's current snapshot.
func (a *Agent) item(frameID, status string, result interface{}) StreamItem {
	out := StreamItem{Status: status, Progress: []interface{}{}, Result: result}
	if a.llm != nil {
		out.ModelName = a.llm.Model()
	}

	snap, err := a.engine.SnapshotState(frameID)
	if err != nil {
		return out
	}
	pool := vars.NewPool()
	pool.Restore(snap.Variables)

	if progress, ok := pool.Get(graph.ProgressVar); ok {
		if stages, ok := progress.([]interface{}); ok {
			out.Progress = stages
		}
	}
	if artifacts, ok := pool.Get(graph.ArtifactsVar); ok {
		if list, ok := artifacts.([]interface{}); ok {
			out.Artifacts = list
		}
	}
	if plan, ok := pool.Get("_plan"); ok {
		if m, ok := plan.(map[string]interface{}); ok {
			out.Plan = m
		}
	}
	if verdict, ok := pool.Get(explore.VerdictVar); ok {
		if m, ok := verdict.(map[string]interface{}); ok {
			out.Verdict = m
		}
	}
	return out
}

func (a *Agent) finalResult(frameID string) interface{} {
	snap, err := a.engine.SnapshotState(frameID)
	if err != nil {
		return nil
	}
	pool := vars.NewPool()
	pool.Restore(snap.Variables)
	result, _ := pool.Get(executor.AnswerVar)
	return result
}

// Pause requests a cooperative pause and returns the resume handle.
func (a *Agent) Pause() (*frames.ResumeHandle, error) {
	a.mu.Lock()
	frameID := a.frameID
	engine := a.engine
	a.mu.Unlock()
	if engine == nil || frameID == "" {
		return nil, fmt.Errorf("agent %s has no active run", a.name)
	}

	handle, err := engine.PauseCoroutine(frameID)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.handle = handle
	a.pausedBy = "user"
	a.mu.Unlock()
	if a.State() != StatePaused {
		if terr := a.transition(StatePaused); terr != nil {
			slog.Warn("state transition failed", "agent", a.name, "error", terr)
		}
	}
	return handle, nil
}

// Resume continues a paused or tool-interrupted run, applying updates to
// the restored variable pool.
func (a *Agent) Resume(ctx context.Context, updates map[string]interface{}) (<-chan StreamItem, error) {
	a.mu.Lock()
	handle := a.handle
	engine := a.engine
	a.mu.Unlock()
	if engine == nil || handle == nil {
		return nil, fmt.Errorf("agent %s has nothing to resume", a.name)
	}

	frame, err := engine.ResumeCoroutine(handle.Token, updates)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.handle = nil
	a.pausedBy = ""
	a.mu.Unlock()
	return a.launch(ctx, frame.FrameID)
}

// Terminate cancels the active run and ends the lifecycle.
func (a *Agent) Terminate() error {
	a.mu.Lock()
	frameID := a.frameID
	engine := a.engine
	a.mu.Unlock()

	if engine != nil && frameID != "" {
		if err := engine.Terminate(frameID); err != nil {
			return err
		}
	}
	return a.transition(StateTerminated)
}
