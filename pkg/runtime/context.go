// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package runtime

import (
	"sync"
	"sync/atomic"

	"github.com/praxislang/praxis/pkg/config"
	"github.com/praxislang/praxis/pkg/contexteng"
	"github.com/praxislang/praxis/pkg/graph"
	"github.com/praxislang/praxis/pkg/llms"
	"github.com/praxislang/praxis/pkg/protocol"
	"github.com/praxislang/praxis/pkg/skills"
	"github.com/praxislang/praxis/pkg/vars"
)

// PlanState is the narrow view of an active plan the runtime needs for the
// explore guardrail and snapshotting. The plan skillkit implements it.
type PlanState interface {
	HasActivePlan() bool
	AllTasksTerminal() bool
	RunningCount() int
	SnapshotState() map[string]interface{}
	RestoreState(state map[string]interface{}) error
}

// OutputSink receives streaming events for external consumers.
type OutputSink func(eventType string, data map[string]interface{})

// Context is the shared execution state of one agent: variable pool,
// bucketed messages, skill access, LLM driver and recorder. Blocks borrow
// it; they never own state of their own.
type Context struct {
	agentName  string
	pool       *vars.Pool
	store      *contexteng.Store
	engineer   *contexteng.Engineer
	registry   *skills.Registry
	dispatcher *skills.Dispatcher
	llm        llms.Driver
	recorder   *graph.Recorder
	estimator  *protocol.Estimator

	mu          sync.Mutex
	interrupted atomic.Bool
	plan        PlanState
	output      OutputSink
	parent      *Context
}

// Options configures a new Context. Registry and LLM are required; the
// rest defaults from Config.
type Options struct {
	AgentName string
	Config    *config.Config
	Registry  *skills.Registry
	LLM       llms.Driver
	Output    OutputSink
	DeltaMode bool
}

func NewContext(opts Options) *Context {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}

	pool := vars.NewPool()
	store := contexteng.NewStore()
	engineer := contexteng.NewEngineer(store, protocol.NewEstimator(cfg.LLM.Model), contexteng.Config{
		Strategy:       contexteng.Strategy(cfg.Context.Strategy),
		MultimodalMode: contexteng.MultimodalMode(cfg.Context.MultimodalMode),
		TokenBudget:    cfg.Context.TokenBudget,
		WindowSize:     cfg.Context.WindowSize,
		KeepImages:     cfg.Context.KeepImages,
	})

	return &Context{
		agentName:  opts.AgentName,
		pool:       pool,
		store:      store,
		engineer:   engineer,
		registry:   opts.Registry,
		dispatcher: skills.NewDispatcher(opts.Registry),
		llm:        opts.LLM,
		recorder:   graph.NewRecorder(opts.AgentName, pool, opts.DeltaMode),
		estimator:  protocol.NewEstimator(cfg.LLM.Model),
		output:     opts.Output,
	}
}

func (c *Context) AgentName() string              { return c.agentName }
func (c *Context) Pool() *vars.Pool               { return c.pool }
func (c *Context) Store() *contexteng.Store       { return c.store }
func (c *Context) Engineer() *contexteng.Engineer { return c.engineer }
func (c *Context) Skills() *skills.Registry       { return c.registry }
func (c *Context) Dispatcher() *skills.Dispatcher { return c.dispatcher }
func (c *Context) LLM() llms.Driver               { return c.llm }
func (c *Context) Recorder() *graph.Recorder      { return c.recorder }
func (c *Context) Estimator() *protocol.Estimator { return c.estimator }

// Interrupt requests a cooperative pause; the explore loop observes it at
// the next turn boundary.
func (c *Context) Interrupt()      { c.interrupted.Store(true) }
func (c *Context) ClearInterrupt() { c.interrupted.Store(false) }

// CheckInterrupt returns a UserInterrupt when a pause was requested. It
// satisfies skills.CallContext.
func (c *Context) CheckInterrupt() error {
	if c.interrupted.Load() {
		return &skills.UserInterrupt{AgentName: c.agentName}
	}
	return nil
}

func (c *Context) WriteOutput(eventType string, data map[string]interface{}) {
	c.mu.Lock()
	sink := c.output
	c.mu.Unlock()
	if sink != nil {
		sink(eventType, data)
	}
}

func (c *Context) SetOutput(sink OutputSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.output = sink
}

func (c *Context) SetPlanState(plan PlanState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plan = plan
}

func (c *Context) PlanState() PlanState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.plan
}

// HasActivePlan reports whether a plan guardrail should keep the explore
// loop running.
func (c *Context) HasActivePlan() bool {
	c.mu.Lock()
	plan := c.plan
	c.mu.Unlock()
	return plan != nil && plan.HasActivePlan() && !plan.AllTasksTerminal()
}

// AddMessage appends a validated message to a bucket.
func (c *Context) AddMessage(bucket contexteng.BucketName, msg protocol.Message) error {
	return c.store.Add(bucket, msg)
}

// AppendToolResponseMessage routes a cached result through the skill's
// retention policy and appends the tool response to the history bucket.
func (c *Context) AppendToolResponseMessage(toolCallID, refID, skillName string) error {
	content, metadata, err := c.dispatcher.OnBeforeSendToContext(refID, skillName)
	if err != nil {
		return err
	}
	msg := protocol.NewToolResponse(toolCallID, content)
	msg.Metadata = metadata
	return c.store.Add(contexteng.BucketHistory, msg)
}

// NewChildContext builds a copy-on-write child for subtask or verifier
// isolation: variables and messages are deep-copied, the skill registry is
// replaced (usually by a subtask-filtered one), and LLM and estimator are
// shared. The child records into its own recorder branch so concurrent
// siblings never interleave stages; callers fold the branch back with
// MergeRecorder when the child joins.
func (c *Context) NewChildContext(agentName string, registry *skills.Registry) *Context {
	if registry == nil {
		registry = c.registry
	}
	pool := vars.NewPool()
	pool.Restore(c.pool.Snapshot())

	store := contexteng.NewStore()
	store.Restore(c.store.Snapshot())

	child := &Context{
		agentName:  agentName,
		pool:       pool,
		store:      store,
		engineer:   contexteng.NewEngineer(store, c.estimator, c.engineer.Config()),
		registry:   registry,
		dispatcher: skills.NewDispatcher(registry),
		llm:        c.llm,
		recorder:   c.recorder.Branch(agentName, pool),
		estimator:  c.estimator,
		parent:     c,
	}
	c.mu.Lock()
	child.output = c.output
	c.mu.Unlock()
	return child
}

// MergeRecorder folds a joined child's recorder branch into this context's
// observation tree.
func (c *Context) MergeRecorder(child *Context) {
	if child == nil {
		return
	}
	c.recorder.Merge(child.recorder)
}

// MergeToParent copies the named variables back into the parent pool; this
// is the only write-back channel a child context has.
func (c *Context) MergeToParent(names ...string) error {
	if c.parent == nil {
		return nil
	}
	for _, name := range names {
		v, ok := c.pool.Get(name)
		if !ok {
			continue
		}
		if err := c.parent.pool.Set(name, v, vars.ModeOverwrite); err != nil {
			return err
		}
	}
	return nil
}
