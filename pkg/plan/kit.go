// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package plan

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"golang.org/x/sync/semaphore"

	"github.com/praxislang/praxis/pkg/config"
	"github.com/praxislang/praxis/pkg/explore"
	"github.com/praxislang/praxis/pkg/runtime"
	"github.com/praxislang/praxis/pkg/skills"
)

// PlanVar mirrors the plan counters into the variable pool for the
// streaming envelope.
const PlanVar = "_plan"

// Skillkit owns the task registry and exposes the plan control skills.
// It is always excluded from subtask registries, so a subtask can never
// plan recursively.
type Skillkit struct {
	cfg      config.PlanConfig
	registry *TaskRegistry

	mu  sync.Mutex
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

func New(cfg config.PlanConfig) *Skillkit {
	if cfg.ExecutionMode == "" {
		cfg.ExecutionMode = "sequential"
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	return &Skillkit{cfg: cfg, registry: NewTaskRegistry()}
}

func (p *Skillkit) Registry() *TaskRegistry { return p.registry }

// Wait blocks until all spawned subtasks settle. Callers use it at frame
// boundaries and in tests.
func (p *Skillkit) Wait() { p.wg.Wait() }

// Kit builds the registrable skillkit.
func (p *Skillkit) Kit() skills.Skillkit {
	kit := skills.NewKit("plan",
		&skills.Skill{
			Name:        "_plan_tasks",
			Description: "Create a plan from a list of tasks and start executing them. Each task needs id, name and prompt.",
			Parameters: []skills.Parameter{
				{Name: "tasks", Type: "array", Description: "Tasks to register", Required: true},
			},
			NoDedup: true,
			Handler: p.planTasks,
		},
		&skills.Skill{
			Name:        "_check_progress",
			Description: "Check the status of all plan tasks.",
			NoDedup:     true,
			Handler:     p.checkProgress,
		},
		&skills.Skill{
			Name:        "_get_task_output",
			Description: "Get the full output of a completed task.",
			Parameters: []skills.Parameter{
				{Name: "task_id", Type: "string", Description: "Task to read", Required: true},
			},
			NoDedup: true,
			Handler: p.getTaskOutput,
		},
		&skills.Skill{
			Name:        "_wait",
			Description: "Wait the given number of seconds before checking progress again.",
			Parameters: []skills.Parameter{
				{Name: "seconds", Type: "integer", Description: "Seconds to wait", Required: true},
			},
			NoDedup: true,
			Handler: p.wait,
		},
		&skills.Skill{
			Name:        "_kill_task",
			Description: "Cancel a running or pending task.",
			Parameters: []skills.Parameter{
				{Name: "task_id", Type: "string", Description: "Task to cancel", Required: true},
			},
			NoDedup: true,
			Handler: p.killTask,
		},
		&skills.Skill{
			Name:        "_retry_task",
			Description: "Reset a finished task and run it again.",
			Parameters: []skills.Parameter{
				{Name: "task_id", Type: "string", Description: "Task to retry", Required: true},
			},
			NoDedup: true,
			Handler: p.retryTask,
		},
	)
	return kit.Exclude()
}

type taskSpec struct {
	ID     string `mapstructure:"id"`
	Name   string `mapstructure:"name"`
	Prompt string `mapstructure:"prompt"`
}

func (p *Skillkit) planTasks(ctx context.Context, call *skills.Call) (interface{}, error) {
	rctx, err := planContext(call)
	if err != nil {
		return nil, err
	}

	var specs []taskSpec
	if err := mapstructure.Decode(call.Args["tasks"], &specs); err != nil {
		return nil, fmt.Errorf("invalid tasks argument: %w", err)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("tasks must not be empty")
	}

	p.mu.Lock()
	if !p.registry.HasActivePlan() {
		limit := int64(1)
		if p.cfg.ExecutionMode == "parallel" {
			limit = int64(p.cfg.MaxConcurrency)
		}
		p.registry.Reset(uuid.NewString(), p.cfg.ExecutionMode, p.cfg.MaxConcurrency)
		p.sem = semaphore.NewWeighted(limit)
		rctx.SetPlanState(p.registry)
	}
	p.mu.Unlock()

	for _, spec := range specs {
		task := &Task{ID: spec.ID, Name: spec.Name, Prompt: spec.Prompt}
		if task.Name == "" {
			task.Name = task.ID
		}
		if task.Prompt == "" {
			return nil, fmt.Errorf("task %q has no prompt", task.ID)
		}
		if err := p.registry.Add(task); err != nil {
			return nil, err
		}
	}

	rctx.WriteOutput("plan_created", map[string]interface{}{
		"plan_id":         p.registry.PlanID(),
		"tasks":           len(specs),
		"execution_mode":  p.cfg.ExecutionMode,
		"max_concurrency": p.cfg.MaxConcurrency,
	})
	p.publishPlanVar(rctx)
	p.schedule(rctx)

	return fmt.Sprintf("Plan %s created with %d tasks.\n%s",
		p.registry.PlanID(), len(specs), p.registry.Summary()), nil
}

func (p *Skillkit) checkProgress(ctx context.Context, call *skills.Call) (interface{}, error) {
	if !p.registry.HasActivePlan() {
		return "No active plan.", nil
	}
	return p.registry.Summary(), nil
}

func (p *Skillkit) getTaskOutput(ctx context.Context, call *skills.Call) (interface{}, error) {
	taskID, _ := call.Args["task_id"].(string)
	task, ok := p.registry.Get(taskID)
	if !ok {
		return nil, fmt.Errorf("unknown task %q", taskID)
	}
	if task.Status != TaskCompleted {
		return nil, fmt.Errorf("task %q is %s, not completed", taskID, task.Status)
	}
	return task.Answer, nil
}

// wait sleeps cooperatively, checking for a user interrupt at least once
// per second.
func (p *Skillkit) wait(ctx context.Context, call *skills.Call) (interface{}, error) {
	seconds := int(asFloat(call.Args["seconds"]))
	if seconds < 0 {
		return nil, fmt.Errorf("seconds must not be negative")
	}
	for i := 0; i < seconds; i++ {
		if call.Context != nil {
			if err := call.Context.CheckInterrupt(); err != nil {
				return nil, err
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return fmt.Sprintf("Waited %d seconds.", seconds), nil
}

func (p *Skillkit) killTask(ctx context.Context, call *skills.Call) (interface{}, error) {
	rctx, err := planContext(call)
	if err != nil {
		return nil, err
	}
	taskID, _ := call.Args["task_id"].(string)
	if err := p.registry.Cancel(taskID); err != nil {
		return nil, err
	}
	p.emitTaskUpdate(rctx, taskID)
	return fmt.Sprintf("Task %s cancelled.", taskID), nil
}

func (p *Skillkit) retryTask(ctx context.Context, call *skills.Call) (interface{}, error) {
	rctx, err := planContext(call)
	if err != nil {
		return nil, err
	}
	taskID, _ := call.Args["task_id"].(string)
	if err := p.registry.Reopen(taskID); err != nil {
		return nil, err
	}
	p.emitTaskUpdate(rctx, taskID)
	p.schedule(rctx)
	return fmt.Sprintf("Task %s queued for retry.", taskID), nil
}

// schedule claims pending tasks while concurrency slots are free. The
// semaphore weight is 1 in sequential mode, so exactly one task runs.
func (p *Skillkit) schedule(rctx *runtime.Context) {
	p.mu.Lock()
	sem := p.sem
	p.mu.Unlock()
	if sem == nil {
		return
	}

	for sem.TryAcquire(1) {
		task, ok := p.registry.NextPending()
		if !ok {
			sem.Release(1)
			return
		}
		p.wg.Add(1)
		go func(task *Task) {
			defer p.wg.Done()
			defer sem.Release(1)
			p.runSubtask(rctx, task)
			p.schedule(rctx)
		}(task)
	}
}

// runSubtask executes one task as an explore run in a copy-on-write child
// context with the plan kit filtered out.
func (p *Skillkit) runSubtask(rctx *runtime.Context, task *Task) {
	taskCtx, cancel := context.WithCancel(context.Background())
	p.registry.setCancel(task.ID, cancel)
	defer cancel()

	child := rctx.NewChildContext(rctx.AgentName()+"/"+task.ID, rctx.Skills().FilterForSubtask())

	params := explore.DefaultParams()
	params.Tools = child.Skills().Names()
	engine := explore.NewEngine(child, params, nil, nil)

	result, err := engine.Run(taskCtx, task.Prompt)
	switch {
	case taskCtx.Err() != nil:
		// killed; Cancel already wrote the terminal status
	case err != nil:
		p.registry.Finish(task.ID, TaskFailed, "", err.Error())
		slog.Warn("plan task failed", "task_id", task.ID, "error", err)
	default:
		p.registry.Finish(task.ID, TaskCompleted, stringify(result), "")
	}

	rctx.MergeRecorder(child)
	p.emitTaskUpdate(rctx, task.ID)
}

func (p *Skillkit) emitTaskUpdate(rctx *runtime.Context, taskID string) {
	task, ok := p.registry.Get(taskID)
	if !ok {
		return
	}
	rctx.WriteOutput("plan_task_update", map[string]interface{}{
		"plan_id":  p.registry.PlanID(),
		"task_id":  task.ID,
		"status":   string(task.Status),
		"attempt":  task.Attempt,
		"duration": task.Duration.Seconds(),
	})
	p.publishPlanVar(rctx)
}

func (p *Skillkit) publishPlanVar(rctx *runtime.Context) {
	if err := rctx.Pool().SetReserved(PlanVar, p.registry.Counts()); err != nil {
		slog.Debug("failed to publish plan counters", "error", err)
	}
}

func planContext(call *skills.Call) (*runtime.Context, error) {
	rctx, ok := call.Context.(*runtime.Context)
	if !ok {
		return nil, fmt.Errorf("plan skills need the agent runtime context")
	}
	return rctx, nil
}

func asFloat(v interface{}) float64 {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case float64:
		return t
	default:
		return 0
	}
}

func stringify(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
