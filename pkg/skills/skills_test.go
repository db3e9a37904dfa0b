package skills

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxislang/praxis/pkg/protocol"
	"github.com/praxislang/praxis/pkg/resultcache"
	"github.com/praxislang/praxis/pkg/vars"
)

type fakeCallContext struct {
	pool   *vars.Pool
	events []string
}

func (f *fakeCallContext) AgentName() string     { return "tester" }
func (f *fakeCallContext) Pool() *vars.Pool      { return f.pool }
func (f *fakeCallContext) CheckInterrupt() error { return nil }
func (f *fakeCallContext) WriteOutput(eventType string, data map[string]interface{}) {
	f.events = append(f.events, eventType)
}

func echoSkill() *Skill {
	return &Skill{
		Name:        "echo",
		Description: "Echo the input back",
		Category:    CategoryUser,
		Parameters: []Parameter{
			{Name: "text", Type: "string", Description: "Text to echo", Required: true},
		},
		Handler: func(ctx context.Context, call *Call) (interface{}, error) {
			return call.Args["text"], nil
		},
	}
}

func newTestRegistry(t *testing.T, extra ...*Skill) *Registry {
	t.Helper()
	cache, err := resultcache.New()
	require.NoError(t, err)
	r := NewRegistry(cache)
	require.NoError(t, r.Register(NewKit("base", append([]*Skill{echoSkill()}, extra...)...)))
	return r
}

func TestRegistryUniqueNames(t *testing.T) {
	r := newTestRegistry(t)
	err := r.Register(NewKit("dup", echoSkill()))
	assert.Error(t, err)

	_, ok := r.Resolve("echo")
	assert.True(t, ok)
	_, ok = r.Resolve("missing")
	assert.False(t, ok)
}

func TestDefinitions(t *testing.T) {
	r := newTestRegistry(t)

	defs, err := r.Definitions("echo")
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "echo", defs[0].Name)
	assert.Equal(t, "object", defs[0].Parameters["type"])

	props := defs[0].Parameters["properties"].(map[string]interface{})
	assert.Contains(t, props, "text")
	assert.Equal(t, []string{"text"}, defs[0].Parameters["required"])

	_, err = r.Definitions("missing")
	assert.Error(t, err)
}

func TestDefinitionsFromArgsType(t *testing.T) {
	type args struct {
		Query string `json:"query" jsonschema:"description=Search query"`
		Limit int    `json:"limit,omitempty"`
	}
	s := &Skill{
		Name:        "search",
		Description: "Search",
		ArgsType:    &args{},
		Handler: func(ctx context.Context, call *Call) (interface{}, error) {
			return nil, nil
		},
	}
	def := s.Definition()
	assert.Equal(t, "object", def.Parameters["type"])
	props, ok := def.Parameters["properties"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, props, "query")
}

func TestDetailSkillAutoInjection(t *testing.T) {
	cache, err := resultcache.New()
	require.NoError(t, err)
	r := NewRegistry(cache)

	// A kit without summary/reference retention does not inject the
	// detail skill.
	require.NoError(t, r.Register(NewKit("plain", echoSkill())))
	_, ok := r.Resolve(DetailSkillName)
	assert.False(t, ok)

	summarized := echoSkill()
	summarized.Name = "long_report"
	summarized.Retention = &RetentionPolicy{Mode: RetentionSummary, MaxLength: 100}
	require.NoError(t, r.Register(NewKit("reports", summarized)))

	_, ok = r.Resolve(DetailSkillName)
	assert.True(t, ok)
}

func TestDetailSkillReadsCache(t *testing.T) {
	cache, err := resultcache.New()
	require.NoError(t, err)
	rec := cache.Store("long_report", "", nil, strings.Repeat("x", 100))

	r := NewRegistry(cache)
	refSkill := echoSkill()
	refSkill.Name = "long_report"
	refSkill.Retention = &RetentionPolicy{Mode: RetentionReference}
	require.NoError(t, r.Register(NewKit("reports", refSkill)))

	d := NewDispatcher(r)
	out, _, err := d.Invoke(context.Background(), &Call{
		Skill: DetailSkillName,
		Args:  map[string]interface{}{"reference_id": rec.ID, "limit": 10},
	}, NewDeduper())
	require.NoError(t, err)
	assert.Contains(t, out.Raw, "xxxxxxxxxx")
	assert.Contains(t, out.Raw, "more bytes")
}

func TestDispatcherInvokeAndDedup(t *testing.T) {
	executions := 0
	counting := &Skill{
		Name:        "search",
		Description: "Counting search",
		Handler: func(ctx context.Context, call *Call) (interface{}, error) {
			executions++
			return "result", nil
		},
	}
	r := newTestRegistry(t, counting)
	d := NewDispatcher(r)
	dedup := NewDeduper()

	call := &Call{Skill: "search", Args: map[string]interface{}{"q": "x"}, Context: &fakeCallContext{pool: vars.NewPool()}}

	first, cached, err := d.Invoke(context.Background(), call, dedup)
	require.NoError(t, err)
	assert.False(t, cached)

	second, cached, err := d.Invoke(context.Background(), call, dedup)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, executions)

	// Different args execute again.
	other := &Call{Skill: "search", Args: map[string]interface{}{"q": "y"}}
	_, cached, err = d.Invoke(context.Background(), other, dedup)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 2, executions)
}

func TestDisabledDeduper(t *testing.T) {
	d := NewDisabledDeduper()
	d.Record("a", nil, "ref_1")
	_, hit := d.Check("a", nil)
	assert.False(t, hit)
}

func TestDispatcherUnknownSkill(t *testing.T) {
	r := newTestRegistry(t)
	d := NewDispatcher(r)
	_, _, err := d.Invoke(context.Background(), &Call{Skill: "nope"}, NewDeduper())
	assert.Error(t, err)
}

func TestDispatcherPropagatesToolInterrupt(t *testing.T) {
	interrupting := &Skill{
		Name:        "approve",
		Description: "Requires approval",
		Handler: func(ctx context.Context, call *Call) (interface{}, error) {
			return nil, &ToolInterrupt{Tool: "approve", Args: call.Args}
		},
	}
	r := newTestRegistry(t, interrupting)
	d := NewDispatcher(r)

	_, _, err := d.Invoke(context.Background(), &Call{Skill: "approve", Args: map[string]interface{}{"op": "rm"}}, NewDeduper())
	ti, ok := AsToolInterrupt(err)
	require.True(t, ok)
	assert.Equal(t, "approve", ti.Tool)
}

func TestApplyRetention(t *testing.T) {
	cache, err := resultcache.New()
	require.NoError(t, err)
	long := strings.Repeat("a", 500) + strings.Repeat("z", 500)
	rec := cache.Store("report", "", nil, long)

	t.Run("full", func(t *testing.T) {
		content, meta := ApplyRetention(rec, nil)
		assert.Equal(t, long, content)
		assert.Equal(t, string(RetentionFull), meta[protocol.MetaRetentionMode])
		assert.Equal(t, 1000, meta[protocol.MetaOriginalLength])
		assert.Equal(t, false, meta[protocol.MetaPinned])
	})

	t.Run("summary keeps head and tail with hint", func(t *testing.T) {
		content, meta := ApplyRetention(rec, &RetentionPolicy{Mode: RetentionSummary, MaxLength: 100})
		assert.Less(t, len(content), len(long))
		assert.True(t, strings.HasPrefix(content, strings.Repeat("a", 60)))
		assert.Contains(t, content, strings.Repeat("z", 20))
		assert.Contains(t, content, DetailSkillName)
		assert.Contains(t, content, rec.ID)
		assert.Equal(t, string(RetentionSummary), meta[protocol.MetaRetentionMode])
	})

	t.Run("summary never splits multi-byte runes", func(t *testing.T) {
		wide := strings.Repeat("日本語テキスト", 200)
		wideRec := cache.Store("report", "", nil, wide)
		content, _ := ApplyRetention(wideRec, &RetentionPolicy{Mode: RetentionSummary, MaxLength: 100})
		assert.True(t, utf8.ValidString(content))
		assert.Less(t, len(content), len(wide))
	})

	t.Run("summary under limit unchanged", func(t *testing.T) {
		content, _ := ApplyRetention(rec, &RetentionPolicy{Mode: RetentionSummary, MaxLength: 5000})
		assert.Equal(t, long, content)
	})

	t.Run("reference", func(t *testing.T) {
		content, meta := ApplyRetention(rec, &RetentionPolicy{Mode: RetentionReference})
		assert.Contains(t, content, rec.ID)
		assert.Contains(t, content, "1000 bytes")
		assert.Equal(t, len(content), meta[protocol.MetaProcessedLength])
	})

	t.Run("pin", func(t *testing.T) {
		content, meta := ApplyRetention(rec, &RetentionPolicy{Mode: RetentionPin})
		assert.True(t, strings.HasPrefix(content, PinMarker))
		assert.Equal(t, true, meta[protocol.MetaPinned])
	})
}

func TestOnBeforeSendToContext(t *testing.T) {
	r := newTestRegistry(t)
	d := NewDispatcher(r)
	rec := r.Cache().Store("echo", "", nil, "payload")

	content, meta, err := d.OnBeforeSendToContext(rec.ID, "echo")
	require.NoError(t, err)
	assert.Equal(t, "payload", content)
	assert.Equal(t, rec.ID, meta["reference_id"])

	_, _, err = d.OnBeforeSendToContext("ref_missing", "echo")
	assert.Error(t, err)
}

func TestFilterForSubtask(t *testing.T) {
	cache, err := resultcache.New()
	require.NoError(t, err)
	r := NewRegistry(cache)
	require.NoError(t, r.Register(NewKit("base", echoSkill())))

	planLike := echoSkill()
	planLike.Name = "_plan_tasks"
	require.NoError(t, r.Register(NewKit("plan", planLike).Exclude()))

	filtered := r.FilterForSubtask()
	_, ok := filtered.Resolve("echo")
	assert.True(t, ok)
	_, ok = filtered.Resolve("_plan_tasks")
	assert.False(t, ok)
}

func TestDecodeArgs(t *testing.T) {
	type args struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	var out args
	require.NoError(t, DecodeArgs(map[string]interface{}{"query": "x", "limit": "5"}, &out))
	assert.Equal(t, "x", out.Query)
	assert.Equal(t, 5, out.Limit)
}

func TestInterruptErrors(t *testing.T) {
	var err error = &UserInterrupt{AgentName: "a"}
	_, ok := AsUserInterrupt(err)
	assert.True(t, ok)
	_, ok = AsToolInterrupt(err)
	assert.False(t, ok)

	wrapped := errors.Join(errors.New("outer"), &ToolInterrupt{Tool: "t"})
	ti, ok := AsToolInterrupt(wrapped)
	require.True(t, ok)
	assert.Equal(t, "t", ti.Tool)
}
