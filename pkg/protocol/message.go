// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a parsed function-call descriptor from an assistant message.
type ToolCall struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
	// RawArgs keeps the exact argument string the model produced, for
	// re-serialization on the wire.
	RawArgs string `json:"raw_args,omitempty"`
	// Complete reports whether the call's argument stream was fully
	// received and parsed.
	Complete bool `json:"complete,omitempty"`
	Index    int  `json:"index"`
}

// Message is one conversation entry. Content is either plain text (Text,
// Blocks nil) or an ordered list of content blocks (Blocks non-nil).
type Message struct {
	Role       Role                   `json:"role"`
	Text       string                 `json:"text,omitempty"`
	Blocks     []ContentBlock         `json:"blocks,omitempty"`
	ToolCalls  []ToolCall             `json:"tool_calls,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Metadata keys with contractual meaning across the runtime.
const (
	MetaPinned          = "pinned"
	MetaError           = "error"
	MetaRetentionMode   = "retention_mode"
	MetaOriginalLength  = "original_length"
	MetaProcessedLength = "processed_length"
)

func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Text: text}
}

func NewBlockMessage(role Role, blocks ...ContentBlock) Message {
	return Message{Role: role, Blocks: blocks}
}

func NewToolResponse(toolCallID, content string) Message {
	return Message{Role: RoleTool, ToolCallID: toolCallID, Text: content}
}

// Validate applies the §content invariants: non-empty block list when block
// form is used, recognized block kinds, URL policy on every image block and
// tool_call_id presence on tool messages.
func (m Message) Validate(policy URLPolicy) error {
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
	default:
		return newContentError("unknown role %q", string(m.Role))
	}

	if m.Role == RoleTool && m.ToolCallID == "" {
		return newContentError("tool message without tool_call_id")
	}

	if m.Blocks != nil {
		if len(m.Blocks) == 0 {
			return newContentError("content block list is empty")
		}
		for i, b := range m.Blocks {
			if err := b.Validate(policy); err != nil {
				return fmt.Errorf("block %d: %w", i, err)
			}
		}
	}
	return nil
}

// IsBlockForm reports whether the message carries block-form content.
func (m Message) IsBlockForm() bool {
	return m.Blocks != nil
}

// Pinned reports whether compression must leave this message untouched.
func (m Message) Pinned() bool {
	if m.Metadata == nil {
		return false
	}
	pinned, _ := m.Metadata[MetaPinned].(bool)
	return pinned
}

// Length is the text length of the message: character count of plain text,
// or the summed length of text blocks. Image blocks contribute nothing.
func (m Message) Length() int {
	if !m.IsBlockForm() {
		return len(m.Text)
	}
	total := 0
	for _, b := range m.Blocks {
		if b.Type == BlockTypeText {
			total += len(b.Text)
		}
	}
	return total
}

// ExtractText concatenates text content, ignoring image blocks.
func (m Message) ExtractText() string {
	if !m.IsBlockForm() {
		return m.Text
	}
	var sb strings.Builder
	for _, b := range m.Blocks {
		if b.Type == BlockTypeText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// Normalize returns the block-form view of the content. Plain text is
// wrapped into a single text block; block form is returned as-is, so
// Normalize(Normalize(x)) == Normalize(x).
func (m Message) Normalize() []ContentBlock {
	if m.IsBlockForm() {
		return m.Blocks
	}
	return []ContentBlock{TextBlock(m.Text)}
}

// AppendText appends plain text content. str+str stays a string; list+str
// appends a new text block. Appending "" is the identity.
func (m *Message) AppendText(text string) {
	if text == "" {
		return
	}
	if m.IsBlockForm() {
		m.Blocks = append(m.Blocks, TextBlock(text))
		return
	}
	m.Text += text
}

// AppendBlocks appends block content, promoting existing plain text into a
// leading text block. Existing blocks are never reordered.
func (m *Message) AppendBlocks(blocks ...ContentBlock) {
	if len(blocks) == 0 {
		return
	}
	if !m.IsBlockForm() {
		promoted := make([]ContentBlock, 0, 1+len(blocks))
		if m.Text != "" {
			promoted = append(promoted, TextBlock(m.Text))
		}
		m.Blocks = append(promoted, blocks...)
		m.Text = ""
		return
	}
	m.Blocks = append(m.Blocks, blocks...)
}

// AppendContent merges another message's content into this one, covering
// the four str/list combinations.
func (m *Message) AppendContent(other Message) {
	if other.IsBlockForm() {
		m.AppendBlocks(other.Blocks...)
		return
	}
	m.AppendText(other.Text)
}

// SetMetadata sets one metadata key, allocating the map on first use.
func (m *Message) SetMetadata(key string, value interface{}) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]interface{})
	}
	m.Metadata[key] = value
}

// Clone returns a deep copy safe to mutate independently.
func (m Message) Clone() Message {
	out := m
	if m.Blocks != nil {
		out.Blocks = make([]ContentBlock, len(m.Blocks))
		copy(out.Blocks, m.Blocks)
		for i, b := range m.Blocks {
			if b.ImageURL != nil {
				img := *b.ImageURL
				out.Blocks[i].ImageURL = &img
			}
		}
	}
	if m.ToolCalls != nil {
		out.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		copy(out.ToolCalls, m.ToolCalls)
	}
	if m.Metadata != nil {
		out.Metadata = make(map[string]interface{}, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// wireMessage is the OpenAI-style JSON shape (§tool-call contract).
type wireMessage struct {
	Role       string                 `json:"role"`
	Content    interface{}            `json:"content"`
	ToolCalls  []wireToolCall         `json:"tool_calls,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToWire converts the message to the OpenAI-style chat payload shape.
func (m Message) ToWire() map[string]interface{} {
	wire := wireMessage{
		Role:       string(m.Role),
		ToolCallID: m.ToolCallID,
		Metadata:   m.Metadata,
	}
	if m.IsBlockForm() {
		wire.Content = m.Blocks
	} else if m.Text != "" || len(m.ToolCalls) == 0 {
		wire.Content = m.Text
	}
	for _, tc := range m.ToolCalls {
		args := tc.RawArgs
		if args == "" {
			encoded, err := json.Marshal(tc.Args)
			if err == nil {
				args = string(encoded)
			} else {
				args = "{}"
			}
		}
		wire.ToolCalls = append(wire.ToolCalls, wireToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: wireFunction{
				Name:      tc.Name,
				Arguments: args,
			},
		})
	}

	encoded, _ := json.Marshal(wire)
	var out map[string]interface{}
	_ = json.Unmarshal(encoded, &out)
	return out
}

// CanonicalArgs renders tool-call arguments as deterministic JSON, used as
// the dedup identity key.
func CanonicalArgs(args map[string]interface{}) string {
	if len(args) == 0 {
		return "{}"
	}
	// encoding/json sorts map keys, which is exactly the canonical form
	// needed here.
	encoded, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(encoded)
}
