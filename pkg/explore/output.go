// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package explore

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonrepair"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// TypeRegistry holds compiled JSON schemas for obj/<TypeName> output
// formats.
type TypeRegistry struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
	raw     map[string]string
}

func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{
		schemas: make(map[string]*jsonschema.Schema),
		raw:     make(map[string]string),
	}
}

// RegisterType compiles and stores a schema under a type name.
func (r *TypeRegistry) RegisterType(name, schemaJSON string) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name+".json", strings.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("invalid schema for type %s: %w", name, err)
	}
	schema, err := compiler.Compile(name + ".json")
	if err != nil {
		return fmt.Errorf("failed to compile schema for type %s: %w", name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[name] = schema
	r.raw[name] = schemaJSON
	return nil
}

func (r *TypeRegistry) Schema(name string) (*jsonschema.Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[name]
	return s, ok
}

func (r *TypeRegistry) RawSchema(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.raw[name]
	return s, ok
}

type OutputError struct {
	Format string
	Msg    string
	Err    error
}

func (e *OutputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[Output] format %s: %s: %v", e.Format, e.Msg, e.Err)
	}
	return fmt.Sprintf("[Output] format %s: %s", e.Format, e.Msg)
}

func (e *OutputError) Unwrap() error { return e.Err }

// CoerceOutput turns the raw answer into the declared output format. Model
// output is repaired before parsing since fenced or slightly broken JSON is
// common.
func CoerceOutput(answer, format string, types *TypeRegistry) (interface{}, error) {
	switch {
	case format == "" || format == "raw":
		return answer, nil
	case format == "json":
		return parseJSONValue(answer)
	case format == "jsonl":
		return parseJSONL(answer)
	case strings.HasPrefix(format, "obj/"):
		return parseTyped(answer, strings.TrimPrefix(format, "obj/"), types)
	default:
		return nil, &OutputError{Format: format, Msg: "unknown output format"}
	}
}

// FormatContract renders the instruction appended to the prompt when an
// output format is declared.
func FormatContract(format string, types *TypeRegistry) string {
	switch {
	case format == "json":
		return "Respond with a single valid JSON value and nothing else."
	case format == "jsonl":
		return "Respond with one JSON object per line (JSONL) and nothing else."
	case strings.HasPrefix(format, "obj/"):
		name := strings.TrimPrefix(format, "obj/")
		if raw, ok := types.RawSchema(name); ok {
			return fmt.Sprintf("Respond with a single JSON object conforming to this schema and nothing else:\n%s", raw)
		}
		return fmt.Sprintf("Respond with a single JSON object of type %s and nothing else.", name)
	default:
		return ""
	}
}

func parseJSONValue(answer string) (interface{}, error) {
	repaired, err := jsonrepair.JSONRepair(stripFences(answer))
	if err != nil {
		return nil, &OutputError{Format: "json", Msg: "could not repair answer", Err: err}
	}
	var v interface{}
	if err := json.Unmarshal([]byte(repaired), &v); err != nil {
		return nil, &OutputError{Format: "json", Msg: "invalid JSON", Err: err}
	}
	return v, nil
}

func parseJSONL(answer string) (interface{}, error) {
	var out []interface{}
	for _, line := range strings.Split(stripFences(answer), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		repaired, err := jsonrepair.JSONRepair(line)
		if err != nil {
			return nil, &OutputError{Format: "jsonl", Msg: "could not repair line", Err: err}
		}
		var v interface{}
		if err := json.Unmarshal([]byte(repaired), &v); err != nil {
			return nil, &OutputError{Format: "jsonl", Msg: "invalid JSONL line", Err: err}
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, &OutputError{Format: "jsonl", Msg: "no JSON lines in answer"}
	}
	return out, nil
}

func parseTyped(answer, typeName string, types *TypeRegistry) (interface{}, error) {
	if types == nil {
		return nil, &OutputError{Format: "obj/" + typeName, Msg: "no type registry configured"}
	}
	schema, ok := types.Schema(typeName)
	if !ok {
		return nil, &OutputError{Format: "obj/" + typeName, Msg: "unknown type"}
	}
	v, err := parseJSONValue(answer)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(v); err != nil {
		return nil, &OutputError{Format: "obj/" + typeName, Msg: "schema validation failed", Err: err}
	}
	return v, nil
}

// stripFences removes a surrounding markdown code fence if present.
func stripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
