// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package dsl

import "fmt"

type BlockKind string

const (
	KindPrompt   BlockKind = "prompt"
	KindExplore  BlockKind = "explore"
	KindJudge    BlockKind = "judge"
	KindTool     BlockKind = "tool"
	KindAssign   BlockKind = "assign"
	KindIf       BlockKind = "if"
	KindFor      BlockKind = "for"
	KindParallel BlockKind = "parallel"
)

var knownKinds = map[BlockKind]bool{
	KindPrompt:   true,
	KindExplore:  true,
	KindJudge:    true,
	KindTool:     true,
	KindAssign:   true,
	KindIf:       true,
	KindFor:      true,
	KindParallel: true,
}

// Block is one parsed node of an agent file. Blocks are immutable after
// parsing and safe to share across runs.
type Block struct {
	Kind      BlockKind              `json:"kind"`
	Params    map[string]interface{} `json:"params,omitempty"`
	Body      string                 `json:"body,omitempty"`
	Output    string                 `json:"output,omitempty"`
	StartLine int                    `json:"start_line"`
	EndLine   int                    `json:"end_line"`
}

// Param returns a named parameter, or def when absent.
func (b *Block) Param(name string, def interface{}) interface{} {
	if v, ok := b.Params[name]; ok {
		return v
	}
	return def
}

// StringParam returns a parameter coerced to string, or def when absent.
func (b *Block) StringParam(name, def string) string {
	v, ok := b.Params[name]
	if !ok {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// BoolParam returns a parameter coerced to bool, or def when absent.
func (b *Block) BoolParam(name string, def bool) bool {
	v, ok := b.Params[name]
	if !ok {
		return def
	}
	if bv, ok := v.(bool); ok {
		return bv
	}
	return def
}

// IntParam returns a parameter coerced to int, or def when absent.
func (b *Block) IntParam(name string, def int) int {
	switch v := b.Params[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

type ParseError struct {
	StartLine int
	EndLine   int
	Msg       string
}

func (e *ParseError) Error() string {
	if e.EndLine > e.StartLine {
		return fmt.Sprintf("[Parser] lines %d-%d: %s", e.StartLine, e.EndLine, e.Msg)
	}
	return fmt.Sprintf("[Parser] line %d: %s", e.StartLine, e.Msg)
}

// ParseErrors aggregates every syntax error found in one pass.
type ParseErrors []*ParseError

func (e ParseErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	return fmt.Sprintf("%s (and %d more)", e[0].Error(), len(e)-1)
}
