package llms

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxislang/praxis/pkg/config"
	"github.com/praxislang/praxis/pkg/protocol"
)

func sseServer(t *testing.T, events []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, ev := range events {
			fmt.Fprintf(w, "data: %s\n\n", ev)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func newTestDriver(t *testing.T, baseURL string) Driver {
	t.Helper()
	d, err := New(config.LLMConfig{
		Provider: config.LLMProviderOpenAI,
		Model:    "gpt-4o",
		APIKey:   "sk-test",
		BaseURL:  baseURL,
	})
	require.NoError(t, err)
	return d
}

func collect(t *testing.T, ch <-chan Chunk) []Chunk {
	t.Helper()
	var chunks []Chunk
	for c := range ch {
		require.NoError(t, c.Err)
		chunks = append(chunks, c)
	}
	require.NotEmpty(t, chunks)
	return chunks
}

func TestChatStreamAccumulatesContent(t *testing.T) {
	srv := sseServer(t, []string{
		`{"choices":[{"delta":{"content":"Hel"}}]}`,
		`{"choices":[{"delta":{"reasoning_content":"thinking..."}}]}`,
		`{"choices":[{"delta":{"content":"lo"},"finish_reason":"stop"}]}`,
		`{"choices":[],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`,
	})
	defer srv.Close()

	d := newTestDriver(t, srv.URL)
	ch, err := d.ChatStream(context.Background(), &Request{
		Messages: []protocol.Message{protocol.NewTextMessage(protocol.RoleUser, "hi")},
	})
	require.NoError(t, err)

	chunks := collect(t, ch)
	last := chunks[len(chunks)-1]
	assert.Equal(t, "Hello", last.Content)
	assert.Equal(t, "thinking...", last.Reasoning)
	assert.Equal(t, "stop", last.FinishReason)
	require.NotNil(t, last.Usage)
	assert.Equal(t, 7, last.Usage.TotalTokens)

	// The first chunk carried only its own increment as delta.
	assert.Equal(t, "Hel", chunks[0].ContentDelta)
}

func TestChatStreamMultipleToolCalls(t *testing.T) {
	srv := sseServer(t, []string{
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_abc","function":{"name":"search","arguments":"{\"q\":"}},{"index":1,"function":{"name":"fetch","arguments":"{\"url\":"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"go\"}"}},{"index":1,"function":{"arguments":"\"https://x\"}"}}]}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
	})
	defer srv.Close()

	d := newTestDriver(t, srv.URL)
	ch, err := d.ChatStream(context.Background(), &Request{SessionCounter: 3})
	require.NoError(t, err)

	chunks := collect(t, ch)
	last := chunks[len(chunks)-1]
	require.Len(t, last.ToolCalls, 2)
	assert.Equal(t, "call_abc", last.ToolCalls[0].ID)
	assert.Equal(t, `{"q":"go"}`, last.ToolCalls[0].Arguments())
	assert.Equal(t, "fetch", last.ToolCalls[1].Name)
	assert.Equal(t, `{"url":"https://x"}`, last.ToolCalls[1].Arguments())
	assert.Equal(t, "tool_calls", last.FinishReason)
}

func TestAccumulatorFinalizeFallbackIDs(t *testing.T) {
	acc := NewAccumulator(2)
	acc.AddToolCallDelta(0, "call_given", "search", `{"q":"x"}`)
	acc.AddToolCallDelta(1, "", "fetch", `{"url":"y"}`)
	acc.AddToolCallDelta(2, "", "broken", `{"q":`)

	calls := acc.Finalize()
	require.Len(t, calls, 3)

	assert.Equal(t, "call_given", calls[0].ID)
	assert.True(t, calls[0].Complete)
	assert.Equal(t, "x", calls[0].Args["q"])

	assert.Equal(t, "call_2_1", calls[1].ID)
	assert.True(t, calls[1].Complete)

	assert.Equal(t, "call_2_2", calls[2].ID)
	assert.False(t, calls[2].Complete)
	assert.Equal(t, `{"q":`, calls[2].RawArgs)
}

func TestAccumulatorEmptyArgsComplete(t *testing.T) {
	acc := NewAccumulator(0)
	acc.AddToolCallDelta(0, "call_x", "list_files", "")
	calls := acc.Finalize()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].Complete)
	assert.Empty(t, calls[0].Args)
}

func TestChatStreamHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key"}}`)
	}))
	defer srv.Close()

	d := newTestDriver(t, srv.URL)
	ch, err := d.ChatStream(context.Background(), &Request{})
	require.NoError(t, err)

	var last Chunk
	for c := range ch {
		last = c
	}
	require.Error(t, last.Err)
	var serr *StreamError
	require.ErrorAs(t, last.Err, &serr)
	assert.Equal(t, http.StatusUnauthorized, serr.StatusCode)
	assert.Contains(t, serr.Message, "bad key")
}

func TestChatStreamCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n")
		flusher.Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	d := newTestDriver(t, srv.URL)
	ch, err := d.ChatStream(ctx, &Request{})
	require.NoError(t, err)

	<-ch
	cancel()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream did not terminate after cancellation")
		}
	}
}
