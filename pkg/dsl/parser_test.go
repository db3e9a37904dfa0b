package dsl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSingleBlock(t *testing.T) {
	src := `#prompt model=gpt-4o temperature=0.2 -> answer
Summarize the following document.
Keep it short.`

	blocks, err := Parse(src)
	require.NoError(t, err)
	require.Len(t, blocks, 1)

	b := blocks[0]
	assert.Equal(t, KindPrompt, b.Kind)
	assert.Equal(t, "gpt-4o", b.Params["model"])
	assert.Equal(t, 0.2, b.Params["temperature"])
	assert.Equal(t, "answer", b.Output)
	assert.Equal(t, "Summarize the following document.\nKeep it short.", b.Body)
	assert.Equal(t, 1, b.StartLine)
	assert.Equal(t, 3, b.EndLine)
}

func TestParseMultipleBlocksAndComments(t *testing.T) {
	src := `// pipeline
#explore tools=search max_iterations=5 -> findings
Investigate the topic.

// then judge
#judge -> verdict
Is {findings} sufficient?
#assign mode=append -> log
done`

	blocks, err := Parse(src)
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	assert.Equal(t, KindExplore, blocks[0].Kind)
	assert.Equal(t, 5, blocks[0].Params["max_iterations"])
	assert.Equal(t, KindJudge, blocks[1].Kind)
	assert.Equal(t, "Is {findings} sufficient?", blocks[1].Body)
	assert.Equal(t, KindAssign, blocks[2].Kind)
	assert.Equal(t, "append", blocks[2].Params["mode"])
}

func TestParseQuotedValues(t *testing.T) {
	src := `#tool skill=search query="hello world" note="say \"hi\"" -> out`
	blocks, err := Parse(src)
	require.NoError(t, err)
	assert.Equal(t, "hello world", blocks[0].Params["query"])
	assert.Equal(t, `say "hi"`, blocks[0].Params["note"])
}

func TestParseScalarTypes(t *testing.T) {
	src := `#explore n=3 ratio=0.5 flag=true name=plain`
	blocks, err := Parse(src)
	require.NoError(t, err)
	b := blocks[0]
	assert.Equal(t, 3, b.IntParam("n", 0))
	assert.Equal(t, 0.5, b.Param("ratio", nil))
	assert.Equal(t, true, b.BoolParam("flag", false))
	assert.Equal(t, "plain", b.StringParam("name", ""))
	assert.Equal(t, "fallback", b.StringParam("missing", "fallback"))
}

func TestParseErrorsCarryLines(t *testing.T) {
	src := `#prompt -> out
body
#bogus key=1
stray text outside
#tool broken-token`

	// The bogus header voids its block, so the lines after it are outside
	// any block.
	_, err := Parse(src)
	require.Error(t, err)
	var errs ParseErrors
	require.ErrorAs(t, err, &errs)
	require.GreaterOrEqual(t, len(errs), 2)
	assert.Equal(t, 3, errs[0].StartLine)
	assert.Contains(t, errs[0].Msg, "unknown block kind")
}

func TestParseArrowValidation(t *testing.T) {
	_, err := Parse("#prompt -> ")
	assert.Error(t, err)

	_, err = Parse("#prompt -> a b")
	assert.Error(t, err)

	_, err = Parse("#prompt -> 9bad")
	assert.Error(t, err)

	blocks, err := Parse("#prompt -> result.nested")
	require.NoError(t, err)
	assert.Equal(t, "result.nested", blocks[0].Output)
}

func TestParseUnterminatedQuote(t *testing.T) {
	_, err := Parse(`#tool q="unclosed`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unterminated")
}

func TestInterpolate(t *testing.T) {
	lookup := func(path string) (interface{}, bool) {
		switch path {
		case "name":
			return "Ada", true
		case "stats.count":
			return 3, true
		case "items":
			return []interface{}{"a", "b"}, true
		}
		return nil, false
	}

	assert.Equal(t, "Hello Ada, count=3", Interpolate("Hello {name}, count={stats.count}", lookup))
	assert.Equal(t, `items: ["a","b"]`, Interpolate("items: {items}", lookup))
	assert.Equal(t, "missing {nope} stays", Interpolate("missing {nope} stays", lookup))
	assert.Equal(t, "literal {name}", Interpolate("literal {{name}}", lookup))
}
