// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package plan

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// TaskRegistry tracks the tasks of the active plan. It implements the
// runtime plan-state interface, so the explore guardrail can ask whether
// work is still outstanding.
type TaskRegistry struct {
	mu             sync.Mutex
	planID         string
	executionMode  string
	maxConcurrency int
	order          []string
	tasks          map[string]*Task
	cancels        map[string]context.CancelFunc
}

func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{
		tasks:   map[string]*Task{},
		cancels: map[string]context.CancelFunc{},
	}
}

// Reset starts a fresh plan, dropping prior tasks.
func (r *TaskRegistry) Reset(planID, mode string, maxConcurrency int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cancel := range r.cancels {
		cancel()
	}
	r.planID = planID
	r.executionMode = mode
	r.maxConcurrency = maxConcurrency
	r.order = nil
	r.tasks = map[string]*Task{}
	r.cancels = map[string]context.CancelFunc{}
}

func (r *TaskRegistry) PlanID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.planID
}

func (r *TaskRegistry) ExecutionMode() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.executionMode
}

func (r *TaskRegistry) Add(task *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if task.ID == "" {
		return fmt.Errorf("task id is required")
	}
	if _, exists := r.tasks[task.ID]; exists {
		return fmt.Errorf("duplicate task id %q", task.ID)
	}
	task.Status = TaskPending
	r.tasks[task.ID] = task
	r.order = append(r.order, task.ID)
	return nil
}

func (r *TaskRegistry) Get(taskID string) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return nil, false
	}
	return t.clone(), true
}

// List returns tasks in registration order.
func (r *TaskRegistry) List() []*Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Task, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.tasks[id].clone())
	}
	return out
}

// NextPending claims the next pending task and marks it running.
// Claiming inside the lock keeps two schedulers from starting the same
// task.
func (r *TaskRegistry) NextPending() (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		t := r.tasks[id]
		if t.Status == TaskPending {
			t.Status = TaskRunning
			t.StartedAt = time.Now()
			t.Attempt++
			return t.clone(), true
		}
	}
	return nil, false
}

func (r *TaskRegistry) setCancel(taskID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels[taskID] = cancel
}

// Finish records a terminal outcome; durations are computed here. Already
// terminal tasks are left untouched, so a kill beats a late completion.
func (r *TaskRegistry) Finish(taskID string, status TaskStatus, answer, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok || t.Status.Terminal() {
		return
	}
	t.Status = status
	t.Answer = answer
	t.Error = errMsg
	if !t.StartedAt.IsZero() {
		t.Duration = time.Since(t.StartedAt)
	}
	delete(r.cancels, taskID)
}

// Cancel kills a running or pending task.
func (r *TaskRegistry) Cancel(taskID string) error {
	r.mu.Lock()
	t, ok := r.tasks[taskID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("unknown task %q", taskID)
	}
	if t.Status.Terminal() {
		r.mu.Unlock()
		return fmt.Errorf("task %q is already %s", taskID, t.Status)
	}
	cancel := r.cancels[taskID]
	t.Status = TaskCancelled
	if !t.StartedAt.IsZero() {
		t.Duration = time.Since(t.StartedAt)
	}
	delete(r.cancels, taskID)
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

// Reopen resets a terminal task to pending for a retry.
func (r *TaskRegistry) Reopen(taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return fmt.Errorf("unknown task %q", taskID)
	}
	if !t.Status.Terminal() {
		return fmt.Errorf("task %q is still %s", taskID, t.Status)
	}
	t.Status = TaskPending
	t.Answer = ""
	t.Error = ""
	t.Duration = 0
	t.StartedAt = time.Time{}
	return nil
}

// Counts returns per-status totals plus the plan id.
func (r *TaskRegistry) Counts() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[TaskStatus]int{}
	for _, t := range r.tasks {
		counts[t.Status]++
	}
	return map[string]interface{}{
		"plan_id":         r.planID,
		"total_tasks":     len(r.tasks),
		"completed_tasks": counts[TaskCompleted],
		"running_tasks":   counts[TaskRunning],
		"pending_tasks":   counts[TaskPending],
		"failed_tasks":    counts[TaskFailed],
	}
}

// Summary formats a human-readable status table for the LLM.
func (r *TaskRegistry) Summary() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var sb strings.Builder
	fmt.Fprintf(&sb, "Plan %s (%d tasks):\n", r.planID, len(r.tasks))
	for _, id := range r.order {
		t := r.tasks[id]
		fmt.Fprintf(&sb, "- [%s] %s (%s)", t.Status, t.Name, t.ID)
		if t.Error != "" {
			fmt.Fprintf(&sb, ": %s", t.Error)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// HasActivePlan reports whether a plan with tasks exists.
func (r *TaskRegistry) HasActivePlan() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.planID != "" && len(r.tasks) > 0
}

func (r *TaskRegistry) AllTasksTerminal() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tasks {
		if !t.Status.Terminal() {
			return false
		}
	}
	return true
}

func (r *TaskRegistry) RunningCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.tasks {
		if t.Status == TaskRunning || t.Status == TaskPending {
			n++
		}
	}
	return n
}

// SnapshotState serializes the registry for context snapshots. Running
// tasks snapshot as pending: a restored frame restarts them.
func (r *TaskRegistry) SnapshotState() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	tasks := make([]interface{}, 0, len(r.order))
	for _, id := range r.order {
		t := r.tasks[id]
		status := t.Status
		if status == TaskRunning {
			status = TaskPending
		}
		tasks = append(tasks, map[string]interface{}{
			"id":      t.ID,
			"name":    t.Name,
			"prompt":  t.Prompt,
			"status":  string(status),
			"answer":  t.Answer,
			"error":   t.Error,
			"attempt": t.Attempt,
		})
	}
	return map[string]interface{}{
		"plan_id":         r.planID,
		"execution_mode":  r.executionMode,
		"max_concurrency": r.maxConcurrency,
		"tasks":           tasks,
	}
}

func (r *TaskRegistry) RestoreState(state map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.planID, _ = state["plan_id"].(string)
	r.executionMode, _ = state["execution_mode"].(string)
	if mc, ok := state["max_concurrency"].(int); ok {
		r.maxConcurrency = mc
	} else if mc, ok := state["max_concurrency"].(float64); ok {
		r.maxConcurrency = int(mc)
	}

	r.order = nil
	r.tasks = map[string]*Task{}
	rawTasks, _ := state["tasks"].([]interface{})
	for _, raw := range rawTasks {
		m, ok := raw.(map[string]interface{})
		if !ok {
			return fmt.Errorf("malformed task entry in plan state")
		}
		t := &Task{
			ID:     str(m["id"]),
			Name:   str(m["name"]),
			Prompt: str(m["prompt"]),
			Status: TaskStatus(str(m["status"])),
			Answer: str(m["answer"]),
			Error:  str(m["error"]),
		}
		if attempt, ok := m["attempt"].(int); ok {
			t.Attempt = attempt
		} else if attempt, ok := m["attempt"].(float64); ok {
			t.Attempt = int(attempt)
		}
		if t.ID == "" {
			return fmt.Errorf("task entry without id in plan state")
		}
		r.tasks[t.ID] = t
		r.order = append(r.order, t.ID)
	}
	return nil
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}
