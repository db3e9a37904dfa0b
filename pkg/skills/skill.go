// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package skills

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"

	"github.com/praxislang/praxis/pkg/protocol"
	"github.com/praxislang/praxis/pkg/vars"
)

type Category string

const (
	CategorySystem   Category = "system"
	CategoryUser     Category = "user"
	CategoryResource Category = "resource"
)

type RetentionMode string

const (
	RetentionFull      RetentionMode = "full"
	RetentionSummary   RetentionMode = "summary"
	RetentionReference RetentionMode = "reference"
	RetentionPin       RetentionMode = "pin"
)

// RetentionPolicy dictates how a skill's result is represented in future
// LLM context.
type RetentionPolicy struct {
	Mode      RetentionMode `json:"mode" yaml:"mode"`
	MaxLength int           `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	TTLTurns  int           `json:"ttl_turns,omitempty" yaml:"ttl_turns,omitempty"`
}

// CallContext is the handle a skill receives into the running agent
// context: variable access, interrupt checks and the output sink.
type CallContext interface {
	AgentName() string
	Pool() *vars.Pool
	// CheckInterrupt returns a non-nil error (a *UserInterrupt) when the
	// user has requested a pause. Skills call it at suspension points.
	CheckInterrupt() error
	// WriteOutput emits an event to the run's output sink. Failures are
	// swallowed by the sink contract.
	WriteOutput(eventType string, data map[string]interface{})
}

// Call carries one skill invocation.
type Call struct {
	Skill      string
	ToolCallID string
	Args       map[string]interface{}
	Context    CallContext
}

// Handler executes a skill. Blocking work must honor ctx cancellation.
type Handler func(ctx context.Context, call *Call) (interface{}, error)

type Parameter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Enum        []string `json:"enum,omitempty"`
}

// Skill is one callable exposed to the LLM.
type Skill struct {
	Name        string
	Description string
	Category    Category
	Parameters  []Parameter
	// ArgsType optionally supplies a struct whose reflected JSON schema
	// replaces Parameters in the function-call definition.
	ArgsType  interface{}
	Retention *RetentionPolicy
	// NoDedup exempts the skill from duplicate-call suppression. Control
	// skills whose result changes between identical calls need this.
	NoDedup bool
	Handler Handler
}

// Definition renders the function-call tool schema for LLM drivers.
func (s *Skill) Definition() protocol.ToolDefinition {
	return protocol.ToolDefinition{
		Name:        s.Name,
		Description: s.Description,
		Parameters:  s.parametersSchema(),
	}
}

func (s *Skill) parametersSchema() map[string]interface{} {
	if s.ArgsType != nil {
		if schema := reflectSchema(s.ArgsType); schema != nil {
			return schema
		}
	}

	properties := make(map[string]interface{})
	required := []string{}
	for _, p := range s.Parameters {
		prop := map[string]interface{}{
			"type":        p.Type,
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func reflectSchema(argsType interface{}) map[string]interface{} {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(argsType)
	encoded, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out
}

// DecodeArgs binds an argument map onto a typed struct.
func DecodeArgs(args map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to build args decoder: %w", err)
	}
	if err := decoder.Decode(args); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// Skillkit is a named group of skills registered as a unit.
type Skillkit interface {
	Name() string
	Skills() []*Skill
	// ExcludeFromSubtask reports whether plan subtasks must not see this
	// kit (the plan kit itself always is excluded).
	ExcludeFromSubtask() bool
}

// BaseKit is the plain Skillkit implementation.
type BaseKit struct {
	KitName     string
	KitSkills   []*Skill
	SubtaskSafe bool
}

func NewKit(name string, skills ...*Skill) *BaseKit {
	return &BaseKit{KitName: name, KitSkills: skills, SubtaskSafe: true}
}

func (k *BaseKit) Name() string             { return k.KitName }
func (k *BaseKit) Skills() []*Skill         { return k.KitSkills }
func (k *BaseKit) ExcludeFromSubtask() bool { return !k.SubtaskSafe }

// Exclude marks the kit as hidden from plan subtasks.
func (k *BaseKit) Exclude() *BaseKit {
	k.SubtaskSafe = false
	return k
}
