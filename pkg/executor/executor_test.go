package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxislang/praxis/pkg/dsl"
	"github.com/praxislang/praxis/pkg/graph"
	"github.com/praxislang/praxis/pkg/llms"
	"github.com/praxislang/praxis/pkg/resultcache"
	"github.com/praxislang/praxis/pkg/runtime"
	"github.com/praxislang/praxis/pkg/skills"
)

// fakeDriver replays canned answers, one per ChatStream call; the last
// answer repeats.
type fakeDriver struct {
	answers []string
	calls   int
}

func (d *fakeDriver) Model() string { return "fake" }

func (d *fakeDriver) ChatStream(ctx context.Context, req *llms.Request) (<-chan llms.Chunk, error) {
	idx := d.calls
	if idx >= len(d.answers) {
		idx = len(d.answers) - 1
	}
	d.calls++
	ch := make(chan llms.Chunk, 1)
	ch <- llms.Chunk{Content: d.answers[idx], FinishReason: "stop"}
	close(ch)
	return ch, nil
}

func newTestContext(t *testing.T, driver llms.Driver, extra ...*skills.Skill) *runtime.Context {
	t.Helper()
	cache, err := resultcache.New()
	require.NoError(t, err)
	registry := skills.NewRegistry(cache)

	upper := &skills.Skill{
		Name:        "shout",
		Description: "Uppercase text",
		Handler: func(ctx context.Context, call *skills.Call) (interface{}, error) {
			s, _ := call.Args["text"].(string)
			out := ""
			for _, r := range s {
				if r >= 'a' && r <= 'z' {
					r -= 32
				}
				out += string(r)
			}
			return out, nil
		},
	}
	require.NoError(t, registry.Register(skills.NewKit("base", append([]*skills.Skill{upper}, extra...)...)))
	if driver == nil {
		driver = &fakeDriver{answers: []string{""}}
	}
	return runtime.NewContext(runtime.Options{AgentName: "main", Registry: registry, LLM: driver})
}

func mustParse(t *testing.T, src string) []*dsl.Block {
	t.Helper()
	blocks, err := dsl.Parse(src)
	require.NoError(t, err)
	return blocks
}

func TestRunBlocksAssignAndInterpolate(t *testing.T) {
	rctx := newTestContext(t, nil)
	x := New(nil)

	src := `#assign value=world -> name
#assign -> greeting
hello {name}`
	require.NoError(t, x.RunBlocks(context.Background(), rctx, mustParse(t, src)))

	v, ok := rctx.Pool().Get("greeting")
	require.True(t, ok)
	assert.Equal(t, "hello world", v)

	answer, ok := rctx.Pool().Get(AnswerVar)
	require.True(t, ok)
	assert.Equal(t, "hello world", answer)
}

func TestAssignExpression(t *testing.T) {
	rctx := newTestContext(t, nil)
	x := New(nil)

	src := `#assign value=3 -> a
#assign expr="a * 2 + 1" -> b`
	require.NoError(t, x.RunBlocks(context.Background(), rctx, mustParse(t, src)))

	v, _ := rctx.Pool().Get("b")
	assert.Equal(t, 7, v)
}

func TestAssignAppendMode(t *testing.T) {
	rctx := newTestContext(t, nil)
	x := New(nil)

	src := `#assign value=first -> log
#assign value=.second mode=append -> log`
	require.NoError(t, x.RunBlocks(context.Background(), rctx, mustParse(t, src)))

	// string append concatenates
	v, _ := rctx.Pool().Get("log")
	assert.Equal(t, "first.second", v)
}

func TestPromptBlock(t *testing.T) {
	driver := &fakeDriver{answers: []string{"a poem"}}
	rctx := newTestContext(t, driver)
	x := New(nil)

	blocks := mustParse(t, `#prompt -> poem
Write a poem about {topic}.`)
	require.NoError(t, rctx.Pool().Set("topic", "rivers", "overwrite"))

	require.NoError(t, x.RunBlocks(context.Background(), rctx, blocks))
	v, _ := rctx.Pool().Get("poem")
	assert.Equal(t, "a poem", v)
	assert.Equal(t, 1, driver.calls)
}

func TestPromptBlockJSONOutput(t *testing.T) {
	driver := &fakeDriver{answers: []string{"```json\n{\"ok\": true,}\n```"}}
	rctx := newTestContext(t, driver)
	x := New(nil)

	blocks := mustParse(t, `#prompt output=json -> result
Return JSON.`)
	require.NoError(t, x.RunBlocks(context.Background(), rctx, blocks))

	v, _ := rctx.Pool().Get("result")
	assert.Equal(t, true, v.(map[string]interface{})["ok"])
}

func TestJudgeBlock(t *testing.T) {
	cases := []struct {
		answer string
		want   interface{}
	}{
		{"true", true},
		{"False.", false},
		{"0.8", 0.8},
		{`{"verdict": true}`, true},
	}
	for _, tc := range cases {
		driver := &fakeDriver{answers: []string{tc.answer}}
		rctx := newTestContext(t, driver)
		x := New(nil)

		blocks := mustParse(t, `#judge -> verdict
Is the sky blue?`)
		require.NoError(t, x.RunBlocks(context.Background(), rctx, blocks), tc.answer)
		v, _ := rctx.Pool().Get("verdict")
		assert.Equal(t, tc.want, v, tc.answer)
	}
}

func TestJudgeBlockUnparseable(t *testing.T) {
	driver := &fakeDriver{answers: []string{"well, it depends"}}
	rctx := newTestContext(t, driver)
	x := New(nil)

	blocks := mustParse(t, `#judge -> verdict
Check.`)
	err := x.RunBlocks(context.Background(), rctx, blocks)
	var berr *BlockError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, "judge", berr.Kind)
}

func TestToolBlockWithParams(t *testing.T) {
	rctx := newTestContext(t, nil)
	x := New(nil)

	require.NoError(t, rctx.Pool().Set("word", "hi", "overwrite"))
	blocks := mustParse(t, `#tool skill=shout text="{word}" -> loud`)
	require.NoError(t, x.RunBlocks(context.Background(), rctx, blocks))

	v, _ := rctx.Pool().Get("loud")
	assert.Equal(t, "HI", v)
}

func TestToolBlockWithJSONBody(t *testing.T) {
	rctx := newTestContext(t, nil)
	x := New(nil)

	blocks := mustParse(t, `#tool skill=shout -> loud
{"text": "go"}`)
	require.NoError(t, x.RunBlocks(context.Background(), rctx, blocks))

	v, _ := rctx.Pool().Get("loud")
	assert.Equal(t, "GO", v)
}

func TestToolBlockMissingSkill(t *testing.T) {
	rctx := newTestContext(t, nil)
	x := New(nil)

	blocks := mustParse(t, `#tool text=x -> out`)
	err := x.RunBlocks(context.Background(), rctx, blocks)
	var berr *BlockError
	require.ErrorAs(t, err, &berr)
}

func TestIfBlock(t *testing.T) {
	rctx := newTestContext(t, nil)
	x := New(nil)

	src := `#assign value=5 -> n
#if cond="n > 3" -> took
    #assign value=big -> size`
	require.NoError(t, x.RunBlocks(context.Background(), rctx, mustParse(t, src)))

	took, _ := rctx.Pool().Get("took")
	assert.Equal(t, true, took)
	size, _ := rctx.Pool().Get("size")
	assert.Equal(t, "big", size)
}

func TestIfBlockFalseSkipsBody(t *testing.T) {
	rctx := newTestContext(t, nil)
	x := New(nil)

	src := `#assign value=1 -> n
#if cond="n > 3" -> took
    #assign value=big -> size`
	require.NoError(t, x.RunBlocks(context.Background(), rctx, mustParse(t, src)))

	took, _ := rctx.Pool().Get("took")
	assert.Equal(t, false, took)
	_, ok := rctx.Pool().Get("size")
	assert.False(t, ok)
}

func TestForBlock(t *testing.T) {
	rctx := newTestContext(t, nil)
	x := New(nil)

	require.NoError(t, rctx.Pool().Set("words", []interface{}{"a", "b"}, "overwrite"))
	src := `#for items="words" var=w -> results
    #tool skill=shout text="{w}" -> loud`
	require.NoError(t, x.RunBlocks(context.Background(), rctx, mustParse(t, src)))

	v, _ := rctx.Pool().Get("results")
	assert.Equal(t, []interface{}{"A", "B"}, v)
}

func TestForBlockNonListFails(t *testing.T) {
	rctx := newTestContext(t, nil)
	x := New(nil)

	require.NoError(t, rctx.Pool().Set("words", "not a list", "overwrite"))
	src := `#for items="words" -> results
    #assign value=x -> y`
	err := x.RunBlocks(context.Background(), rctx, mustParse(t, src))
	var berr *BlockError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, "for", berr.Kind)
}

func TestParallelBlockMergesOutputs(t *testing.T) {
	rctx := newTestContext(t, nil)
	x := New(nil)

	src := `#parallel -> all
    #tool skill=shout text=one -> first
    #tool skill=shout text=two -> second`
	require.NoError(t, x.RunBlocks(context.Background(), rctx, mustParse(t, src)))

	first, _ := rctx.Pool().Get("first")
	assert.Equal(t, "ONE", first)
	second, _ := rctx.Pool().Get("second")
	assert.Equal(t, "TWO", second)

	all, _ := rctx.Pool().Get("all")
	assert.Equal(t, []interface{}{"ONE", "TWO"}, all)
}

func TestParallelBranchIsolation(t *testing.T) {
	rctx := newTestContext(t, nil)
	x := New(nil)

	require.NoError(t, rctx.Pool().Set("base", "kept", "overwrite"))
	src := `#parallel
    #assign value=changed -> base`
	require.NoError(t, x.RunBlocks(context.Background(), rctx, mustParse(t, src)))

	// no output binding on the branch, so the write stays in the child
	v, _ := rctx.Pool().Get("base")
	assert.Equal(t, "kept", v)
}

func TestParallelBranchesRecordOwnStages(t *testing.T) {
	rctx := newTestContext(t, nil)
	x := New(nil)

	src := `#parallel -> all
    #tool skill=shout text=one -> first
    #tool skill=shout text=two -> second`
	require.NoError(t, x.RunBlocks(context.Background(), rctx, mustParse(t, src)))

	// the parallel block itself plus one merged block per branch
	root := rctx.Recorder().Root()
	require.Len(t, root.Blocks, 3)

	seen := map[string]bool{}
	for _, block := range root.Blocks[1:] {
		assert.Equal(t, "tool", block.Kind)
		require.Len(t, block.Progress.Stages, 1)
		stage := block.Progress.Stages[0]
		assert.Equal(t, graph.StageCompleted, stage.Status)
		seen[block.OutputVar] = true
	}
	assert.True(t, seen["first"])
	assert.True(t, seen["second"])
}

func TestRunAgentFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.px")
	require.NoError(t, os.WriteFile(path, []byte(`#assign value=done -> status`), 0o644))

	rctx := newTestContext(t, nil)
	x := New(nil)

	answer, err := x.RunAgentFile(context.Background(), path, rctx)
	require.NoError(t, err)
	assert.Equal(t, "done", answer)
}

func TestDedent(t *testing.T) {
	in := "    #assign value=1 -> a\n    #assign value=2 -> b"
	out := dedent(in)
	assert.Equal(t, "#assign value=1 -> a\n#assign value=2 -> b", out)

	mixed := "  line one\n    line two"
	assert.Equal(t, "line one\n  line two", dedent(mixed))
}
