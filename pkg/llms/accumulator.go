// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package llms

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/praxislang/praxis/pkg/protocol"
)

// Accumulator folds stream deltas into the running turn state. Tool-call
// indices are never dropped; every delta's full tool-call array must be fed
// through AddToolCallDelta.
type Accumulator struct {
	session   int
	content   strings.Builder
	reasoning strings.Builder
	calls     map[int]*ToolCallData
	finish    string
	usage     *Usage
}

func NewAccumulator(session int) *Accumulator {
	return &Accumulator{session: session, calls: make(map[int]*ToolCallData)}
}

func (a *Accumulator) AddContent(delta string)   { a.content.WriteString(delta) }
func (a *Accumulator) AddReasoning(delta string) { a.reasoning.WriteString(delta) }
func (a *Accumulator) SetFinish(reason string)   { a.finish = reason }
func (a *Accumulator) SetUsage(u *Usage)         { a.usage = u }

func (a *Accumulator) AddToolCallDelta(index int, id, name, argsDelta string) {
	call, ok := a.calls[index]
	if !ok {
		call = &ToolCallData{}
		a.calls[index] = call
	}
	if id != "" {
		call.ID = id
	}
	if name != "" {
		call.Name = name
	}
	if argsDelta != "" {
		call.ArgumentsDeltas = append(call.ArgumentsDeltas, argsDelta)
	}
}

// Snapshot produces a chunk with the accumulated state; the tool-call map
// is deep-copied so consumers can hold it across further deltas.
func (a *Accumulator) Snapshot(contentDelta string) Chunk {
	calls := make(map[int]*ToolCallData, len(a.calls))
	for idx, c := range a.calls {
		deltas := make([]string, len(c.ArgumentsDeltas))
		copy(deltas, c.ArgumentsDeltas)
		calls[idx] = &ToolCallData{ID: c.ID, Name: c.Name, ArgumentsDeltas: deltas}
	}
	return Chunk{
		Content:      a.content.String(),
		ContentDelta: contentDelta,
		Reasoning:    a.reasoning.String(),
		ToolCalls:    calls,
		FinishReason: a.finish,
		Usage:        a.usage,
	}
}

// ToolCallsFromChunk renders a chunk's tool-call state as finalized calls,
// applying the same fallback-ID and completeness rules as Finalize.
func ToolCallsFromChunk(c Chunk, session int) []protocol.ToolCall {
	acc := NewAccumulator(session)
	for idx, data := range c.ToolCalls {
		acc.AddToolCallDelta(idx, data.ID, data.Name, data.Arguments())
	}
	return acc.Finalize()
}

// Finalize renders the accumulated tool calls in index order. An LLM-given
// ID is preserved verbatim; a missing one becomes call_{session}_{index}.
// A call is complete when its name is set and its arguments parse as JSON
// (empty arguments count as {}).
func (a *Accumulator) Finalize() []protocol.ToolCall {
	if len(a.calls) == 0 {
		return nil
	}
	indices := make([]int, 0, len(a.calls))
	for idx := range a.calls {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	out := make([]protocol.ToolCall, 0, len(indices))
	for _, idx := range indices {
		c := a.calls[idx]
		tc := protocol.ToolCall{
			ID:      c.ID,
			Name:    c.Name,
			RawArgs: c.Arguments(),
			Index:   idx,
		}
		if tc.ID == "" {
			tc.ID = fmt.Sprintf("call_%d_%d", a.session, idx)
		}
		if tc.Name != "" {
			raw := tc.RawArgs
			if strings.TrimSpace(raw) == "" {
				raw = "{}"
			}
			var args map[string]interface{}
			if err := json.Unmarshal([]byte(raw), &args); err == nil {
				tc.Args = args
				tc.Complete = true
			}
		}
		out = append(out, tc)
	}
	return out
}
