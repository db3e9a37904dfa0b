// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package llms

import (
	"context"
	"fmt"
	"strings"

	"github.com/praxislang/praxis/pkg/protocol"
)

// Request is one chat completion request.
type Request struct {
	Model       string
	Messages    []protocol.Message
	Tools       []protocol.ToolDefinition
	Temperature *float64
	MaxTokens   int

	// SessionCounter namespaces fallback tool-call IDs. Callers running a
	// multi-turn loop bump it per LLM turn.
	SessionCounter int
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ToolCallData is the accumulating state of one tool call index within a
// stream. Argument deltas are kept in arrival order.
type ToolCallData struct {
	ID              string
	Name            string
	ArgumentsDeltas []string
}

func (d *ToolCallData) Arguments() string {
	return strings.Join(d.ArgumentsDeltas, "")
}

// Chunk is one stream update. Content and Reasoning are accumulated;
// ContentDelta carries only this chunk's increment.
type Chunk struct {
	Content      string
	ContentDelta string
	Reasoning    string
	ToolCalls    map[int]*ToolCallData
	FinishReason string
	Usage        *Usage

	// Err terminates the stream when set; no further chunks follow.
	Err error
}

// Driver is the LLM backend abstraction.
type Driver interface {
	ChatStream(ctx context.Context, req *Request) (<-chan Chunk, error)
	Model() string
}

type StreamError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *StreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("[%s] stream failed with status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("[%s] stream failed: %s", e.Provider, e.Message)
}

func (e *StreamError) Unwrap() error { return e.Err }
