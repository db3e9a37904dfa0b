package plan

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxislang/praxis/pkg/config"
	"github.com/praxislang/praxis/pkg/llms"
	"github.com/praxislang/praxis/pkg/resultcache"
	"github.com/praxislang/praxis/pkg/runtime"
	"github.com/praxislang/praxis/pkg/skills"
)

// answerDriver replies to every subtask turn with a fixed answer.
type answerDriver struct {
	mu    sync.Mutex
	calls int
	text  string
}

func (d *answerDriver) Model() string { return "answer" }

func (d *answerDriver) ChatStream(ctx context.Context, req *llms.Request) (<-chan llms.Chunk, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	ch := make(chan llms.Chunk, 1)
	ch <- llms.Chunk{Content: d.text, FinishReason: "stop"}
	close(ch)
	return ch, nil
}

// blockingDriver never answers until the context is cancelled.
type blockingDriver struct {
	started chan struct{}
	once    sync.Once
}

func (d *blockingDriver) Model() string { return "blocking" }

func (d *blockingDriver) ChatStream(ctx context.Context, req *llms.Request) (<-chan llms.Chunk, error) {
	d.once.Do(func() { close(d.started) })
	ch := make(chan llms.Chunk, 1)
	go func() {
		<-ctx.Done()
		ch <- llms.Chunk{Err: ctx.Err()}
		close(ch)
	}()
	return ch, nil
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) sink(eventType string, data map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, eventType)
}

func (l *eventLog) has(eventType string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e == eventType {
			return true
		}
	}
	return false
}

func newPlanContext(t *testing.T, p *Skillkit, driver llms.Driver, log *eventLog) *runtime.Context {
	t.Helper()
	cache, err := resultcache.New()
	require.NoError(t, err)
	registry := skills.NewRegistry(cache)
	require.NoError(t, registry.Register(p.Kit()))

	opts := runtime.Options{AgentName: "main", Registry: registry, LLM: driver}
	if log != nil {
		opts.Output = log.sink
	}
	return runtime.NewContext(opts)
}

func planCall(rctx *runtime.Context, args map[string]interface{}) *skills.Call {
	return &skills.Call{Args: args, Context: rctx}
}

func TestPlanTasksRunsSequentially(t *testing.T) {
	p := New(config.PlanConfig{ExecutionMode: "sequential"})
	driver := &answerDriver{text: "task done"}
	log := &eventLog{}
	rctx := newPlanContext(t, p, driver, log)

	out, err := p.planTasks(context.Background(), planCall(rctx, map[string]interface{}{
		"tasks": []interface{}{
			map[string]interface{}{"id": "t1", "name": "first", "prompt": "do first"},
			map[string]interface{}{"id": "t2", "name": "second", "prompt": "do second"},
		},
	}))
	require.NoError(t, err)
	assert.Contains(t, out.(string), "2 tasks")

	p.Wait()

	for _, id := range []string{"t1", "t2"} {
		task, ok := p.Registry().Get(id)
		require.True(t, ok)
		assert.Equal(t, TaskCompleted, task.Status, id)
		assert.Equal(t, "task done", task.Answer)
		assert.Equal(t, 1, task.Attempt)
	}
	assert.True(t, p.Registry().AllTasksTerminal())
	assert.True(t, log.has("plan_created"))
	assert.True(t, log.has("plan_task_update"))

	counters, ok := rctx.Pool().Get(PlanVar)
	require.True(t, ok)
	assert.Equal(t, 2, counters.(map[string]interface{})["completed_tasks"])
}

func TestPlanGuardrailThroughContext(t *testing.T) {
	p := New(config.PlanConfig{ExecutionMode: "sequential"})
	driver := &blockingDriver{started: make(chan struct{})}
	rctx := newPlanContext(t, p, driver, nil)

	_, err := p.planTasks(context.Background(), planCall(rctx, map[string]interface{}{
		"tasks": []interface{}{
			map[string]interface{}{"id": "t1", "name": "slow", "prompt": "block"},
		},
	}))
	require.NoError(t, err)
	<-driver.started

	// the explore guardrail keys off this while the task runs
	assert.True(t, rctx.HasActivePlan())
	assert.Equal(t, 1, p.Registry().RunningCount())

	_, err = p.killTask(context.Background(), planCall(rctx, map[string]interface{}{"task_id": "t1"}))
	require.NoError(t, err)
	p.Wait()

	assert.False(t, rctx.HasActivePlan())
	task, _ := p.Registry().Get("t1")
	assert.Equal(t, TaskCancelled, task.Status)
}

// recordingDriver captures the tool definitions offered on each turn.
type recordingDriver struct {
	mu    sync.Mutex
	tools [][]string
}

func (d *recordingDriver) Model() string { return "recording" }

func (d *recordingDriver) ChatStream(ctx context.Context, req *llms.Request) (<-chan llms.Chunk, error) {
	names := make([]string, 0, len(req.Tools))
	for _, def := range req.Tools {
		names = append(names, def.Name)
	}
	d.mu.Lock()
	d.tools = append(d.tools, names)
	d.mu.Unlock()

	ch := make(chan llms.Chunk, 1)
	ch <- llms.Chunk{Content: "done", FinishReason: "stop"}
	close(ch)
	return ch, nil
}

func TestSubtaskToolsExcludePlanSkills(t *testing.T) {
	p := New(config.PlanConfig{ExecutionMode: "sequential"})
	driver := &recordingDriver{}

	cache, err := resultcache.New()
	require.NoError(t, err)
	registry := skills.NewRegistry(cache)
	require.NoError(t, registry.Register(p.Kit()))
	echo := &skills.Skill{
		Name:        "echo",
		Description: "Echo the input.",
		Handler: func(ctx context.Context, call *skills.Call) (interface{}, error) {
			return call.Args["text"], nil
		},
	}
	require.NoError(t, registry.Register(skills.NewKit("base", echo)))

	rctx := runtime.NewContext(runtime.Options{AgentName: "main", Registry: registry, LLM: driver})

	_, err = p.planTasks(context.Background(), planCall(rctx, map[string]interface{}{
		"tasks": []interface{}{map[string]interface{}{"id": "t1", "prompt": "go"}},
	}))
	require.NoError(t, err)
	p.Wait()

	task, _ := p.Registry().Get("t1")
	require.Equal(t, TaskCompleted, task.Status)

	driver.mu.Lock()
	defer driver.mu.Unlock()
	require.NotEmpty(t, driver.tools)
	for _, names := range driver.tools {
		assert.Contains(t, names, "echo")
		assert.NotContains(t, names, "_plan_tasks")
		assert.NotContains(t, names, "_check_progress")
	}
}

func TestDuplicateTaskIDRejected(t *testing.T) {
	p := New(config.PlanConfig{})
	rctx := newPlanContext(t, p, &answerDriver{text: "x"}, nil)

	_, err := p.planTasks(context.Background(), planCall(rctx, map[string]interface{}{
		"tasks": []interface{}{
			map[string]interface{}{"id": "t1", "prompt": "a"},
			map[string]interface{}{"id": "t1", "prompt": "b"},
		},
	}))
	assert.ErrorContains(t, err, "duplicate task id")
	p.Wait()
}

func TestCheckProgressAndTaskOutput(t *testing.T) {
	p := New(config.PlanConfig{ExecutionMode: "sequential"})
	rctx := newPlanContext(t, p, &answerDriver{text: "the output"}, nil)

	summary, err := p.checkProgress(context.Background(), planCall(rctx, nil))
	require.NoError(t, err)
	assert.Equal(t, "No active plan.", summary)

	_, err = p.planTasks(context.Background(), planCall(rctx, map[string]interface{}{
		"tasks": []interface{}{map[string]interface{}{"id": "t1", "name": "only", "prompt": "go"}},
	}))
	require.NoError(t, err)
	p.Wait()

	summary, err = p.checkProgress(context.Background(), planCall(rctx, nil))
	require.NoError(t, err)
	assert.Contains(t, summary.(string), "completed")
	assert.Contains(t, summary.(string), "only")

	out, err := p.getTaskOutput(context.Background(), planCall(rctx, map[string]interface{}{"task_id": "t1"}))
	require.NoError(t, err)
	assert.Equal(t, "the output", out)

	_, err = p.getTaskOutput(context.Background(), planCall(rctx, map[string]interface{}{"task_id": "nope"}))
	assert.Error(t, err)
}

func TestRetryTask(t *testing.T) {
	p := New(config.PlanConfig{ExecutionMode: "sequential"})
	rctx := newPlanContext(t, p, &answerDriver{text: "again"}, nil)

	_, err := p.planTasks(context.Background(), planCall(rctx, map[string]interface{}{
		"tasks": []interface{}{map[string]interface{}{"id": "t1", "prompt": "go"}},
	}))
	require.NoError(t, err)
	p.Wait()

	_, err = p.retryTask(context.Background(), planCall(rctx, map[string]interface{}{"task_id": "t1"}))
	require.NoError(t, err)
	p.Wait()

	task, _ := p.Registry().Get("t1")
	assert.Equal(t, TaskCompleted, task.Status)
	assert.Equal(t, 2, task.Attempt)
}

func TestWaitHonorsInterrupt(t *testing.T) {
	p := New(config.PlanConfig{})
	rctx := newPlanContext(t, p, &answerDriver{text: "x"}, nil)

	out, err := p.wait(context.Background(), planCall(rctx, map[string]interface{}{"seconds": 0}))
	require.NoError(t, err)
	assert.Contains(t, out.(string), "0 seconds")

	rctx.Interrupt()
	_, err = p.wait(context.Background(), planCall(rctx, map[string]interface{}{"seconds": 5}))
	assert.Error(t, err)
}

func TestRegistrySnapshotRoundTrip(t *testing.T) {
	reg := NewTaskRegistry()
	reg.Reset("plan-1", "parallel", 3)
	require.NoError(t, reg.Add(&Task{ID: "a", Name: "A", Prompt: "pa"}))
	require.NoError(t, reg.Add(&Task{ID: "b", Name: "B", Prompt: "pb"}))

	claimed, ok := reg.NextPending()
	require.True(t, ok)
	assert.Equal(t, "a", claimed.ID)
	reg.Finish("a", TaskCompleted, "answer a", "")

	// b is claimed and running at snapshot time
	_, ok = reg.NextPending()
	require.True(t, ok)

	state := reg.SnapshotState()
	restored := NewTaskRegistry()
	require.NoError(t, restored.RestoreState(state))

	assert.Equal(t, "plan-1", restored.PlanID())
	a, _ := restored.Get("a")
	assert.Equal(t, TaskCompleted, a.Status)
	assert.Equal(t, "answer a", a.Answer)

	// running tasks restore as pending so a resumed frame restarts them
	b, _ := restored.Get("b")
	assert.Equal(t, TaskPending, b.Status)
}

func TestRegistryReopenValidation(t *testing.T) {
	reg := NewTaskRegistry()
	reg.Reset("p", "sequential", 1)
	require.NoError(t, reg.Add(&Task{ID: "a", Prompt: "x"}))

	assert.Error(t, reg.Reopen("a")) // still pending
	assert.Error(t, reg.Reopen("missing"))

	claimed, _ := reg.NextPending()
	reg.Finish(claimed.ID, TaskFailed, "", "boom")
	require.NoError(t, reg.Reopen("a"))

	task, _ := reg.Get("a")
	assert.Equal(t, TaskPending, task.Status)
	assert.Empty(t, task.Error)
}
