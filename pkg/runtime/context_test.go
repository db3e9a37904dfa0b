package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxislang/praxis/pkg/contexteng"
	"github.com/praxislang/praxis/pkg/protocol"
	"github.com/praxislang/praxis/pkg/resultcache"
	"github.com/praxislang/praxis/pkg/skills"
	"github.com/praxislang/praxis/pkg/vars"
)

type stubPlan struct {
	active   bool
	terminal bool
	state    map[string]interface{}
}

func (p *stubPlan) HasActivePlan() bool    { return p.active }
func (p *stubPlan) AllTasksTerminal() bool { return p.terminal }
func (p *stubPlan) RunningCount() int      { return 0 }
func (p *stubPlan) SnapshotState() map[string]interface{} {
	return p.state
}
func (p *stubPlan) RestoreState(state map[string]interface{}) error {
	p.state = state
	return nil
}

func newTestContext(t *testing.T) *Context {
	t.Helper()
	cache, err := resultcache.New()
	require.NoError(t, err)
	registry := skills.NewRegistry(cache)
	require.NoError(t, registry.Register(skills.NewKit("base", &skills.Skill{
		Name:        "echo",
		Description: "Echo",
		Handler: func(ctx context.Context, call *skills.Call) (interface{}, error) {
			return call.Args["text"], nil
		},
	})))
	return NewContext(Options{AgentName: "main", Registry: registry})
}

func TestContextInterrupt(t *testing.T) {
	c := newTestContext(t)
	require.NoError(t, c.CheckInterrupt())

	c.Interrupt()
	err := c.CheckInterrupt()
	require.Error(t, err)
	_, ok := skills.AsUserInterrupt(err)
	assert.True(t, ok)

	c.ClearInterrupt()
	assert.NoError(t, c.CheckInterrupt())
}

func TestContextPlanGuardrail(t *testing.T) {
	c := newTestContext(t)
	assert.False(t, c.HasActivePlan())

	plan := &stubPlan{active: true}
	c.SetPlanState(plan)
	assert.True(t, c.HasActivePlan())

	plan.terminal = true
	assert.False(t, c.HasActivePlan())
}

func TestContextSnapshotRoundTrip(t *testing.T) {
	c := newTestContext(t)
	require.NoError(t, c.Pool().Set("topic", "go", vars.ModeOverwrite))
	require.NoError(t, c.AddMessage(contexteng.BucketHistory,
		protocol.NewTextMessage(protocol.RoleUser, "hello")))
	c.SetPlanState(&stubPlan{state: map[string]interface{}{"tasks": []interface{}{}}})

	snap := c.Snapshot()
	assert.Equal(t, SnapshotSchemaVersion, snap.SchemaVersion)

	require.NoError(t, c.Pool().Set("topic", "rust", vars.ModeOverwrite))
	require.NoError(t, c.AddMessage(contexteng.BucketHistory,
		protocol.NewTextMessage(protocol.RoleUser, "more")))

	require.NoError(t, c.RestoreSnapshot(snap))
	v, _ := c.Pool().Get("topic")
	assert.Equal(t, "go", v)
	assert.Equal(t, 1, c.Store().Len(contexteng.BucketHistory))

	bad := *snap
	bad.SchemaVersion = 99
	assert.Error(t, c.RestoreSnapshot(&bad))
}

func TestChildContextIsolation(t *testing.T) {
	c := newTestContext(t)
	require.NoError(t, c.Pool().Set("shared", "original", vars.ModeOverwrite))
	require.NoError(t, c.AddMessage(contexteng.BucketSystem,
		protocol.NewTextMessage(protocol.RoleSystem, "base prompt")))

	child := c.NewChildContext("subtask", nil)
	require.NoError(t, child.Pool().Set("shared", "changed", vars.ModeOverwrite))
	require.NoError(t, child.Pool().Set("result", "42", vars.ModeOverwrite))

	// Parent is untouched until an explicit merge.
	v, _ := c.Pool().Get("shared")
	assert.Equal(t, "original", v)
	_, ok := c.Pool().Get("result")
	assert.False(t, ok)

	require.NoError(t, child.MergeToParent("result"))
	v, ok = c.Pool().Get("result")
	require.True(t, ok)
	assert.Equal(t, "42", v)

	assert.Equal(t, 1, child.Store().Len(contexteng.BucketSystem))
	assert.Equal(t, "subtask", child.AgentName())
}

func TestAppendToolResponseMessage(t *testing.T) {
	c := newTestContext(t)
	rec := c.Skills().Cache().Store("echo", "main", map[string]interface{}{"text": "hi"}, "hi")

	require.NoError(t, c.AppendToolResponseMessage("call_1", rec.ID, "echo"))
	msgs := c.Store().Messages(contexteng.BucketHistory)
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.RoleTool, msgs[0].Role)
	assert.Equal(t, "call_1", msgs[0].ToolCallID)
	assert.Equal(t, "hi", msgs[0].Text)

	assert.Error(t, c.AppendToolResponseMessage("call_2", "ref_nope", "echo"))
}

func TestWriteOutput(t *testing.T) {
	c := newTestContext(t)
	var events []string
	c.SetOutput(func(eventType string, data map[string]interface{}) {
		events = append(events, eventType)
	})
	c.WriteOutput("stage_update", map[string]interface{}{"x": 1})
	assert.Equal(t, []string{"stage_update"}, events)
}
