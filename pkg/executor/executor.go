// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package executor

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/expr-lang/expr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/praxislang/praxis/pkg/dsl"
	"github.com/praxislang/praxis/pkg/explore"
	"github.com/praxislang/praxis/pkg/observability"
	"github.com/praxislang/praxis/pkg/runtime"
	"github.com/praxislang/praxis/pkg/vars"
)

// AnswerVar carries the last block result of a run; agent files read by
// RunAgentFile report it as their answer.
const AnswerVar = "_answer"

type BlockError struct {
	Kind      string
	StartLine int
	Msg       string
	Err       error
}

func (e *BlockError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[Executor] %s block (line %d): %s: %v", e.Kind, e.StartLine, e.Msg, e.Err)
	}
	return fmt.Sprintf("[Executor] %s block (line %d): %s", e.Kind, e.StartLine, e.Msg)
}

func (e *BlockError) Unwrap() error { return e.Err }

// Executor runs parsed blocks against a Context. It also serves as the
// SubAgentRunner for explore verifier hooks.
type Executor struct {
	types *explore.TypeRegistry
}

func New(types *explore.TypeRegistry) *Executor {
	if types == nil {
		types = explore.NewTypeRegistry()
	}
	return &Executor{types: types}
}

func (x *Executor) Types() *explore.TypeRegistry { return x.types }

// RunBlocks executes blocks in order, binding each output variable.
func (x *Executor) RunBlocks(ctx context.Context, rctx *runtime.Context, blocks []*dsl.Block) error {
	for _, b := range blocks {
		if _, err := x.RunBlock(ctx, rctx, b); err != nil {
			return err
		}
	}
	return nil
}

// RunBlock executes one block and returns its result value.
func (x *Executor) RunBlock(ctx context.Context, rctx *runtime.Context, b *dsl.Block) (interface{}, error) {
	tracer := observability.GetTracer("praxis.executor")
	ctx, span := tracer.Start(ctx, observability.SpanBlockExecution,
		trace.WithAttributes(
			attribute.String(observability.AttrBlockKind, string(b.Kind)),
			attribute.String(observability.AttrAgentName, rctx.AgentName())))
	defer span.End()

	rctx.Recorder().StartBlock(string(b.Kind), b.Output)

	var (
		result interface{}
		err    error
	)
	switch b.Kind {
	case dsl.KindPrompt:
		result, err = x.runPrompt(ctx, rctx, b)
	case dsl.KindExplore:
		result, err = x.runExplore(ctx, rctx, b)
	case dsl.KindJudge:
		result, err = x.runJudge(ctx, rctx, b)
	case dsl.KindTool:
		result, err = x.runTool(ctx, rctx, b)
	case dsl.KindAssign:
		result, err = x.runAssign(rctx, b)
	case dsl.KindIf:
		result, err = x.runIf(ctx, rctx, b)
	case dsl.KindFor:
		result, err = x.runFor(ctx, rctx, b)
	case dsl.KindParallel:
		result, err = x.runParallel(ctx, rctx, b)
	default:
		err = &BlockError{Kind: string(b.Kind), StartLine: b.StartLine, Msg: "unsupported block kind"}
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "success")

	if b.Output != "" {
		mode := vars.ModeOverwrite
		if b.StringParam("mode", "") == "append" {
			mode = vars.ModeAppend
		}
		if err := rctx.Pool().Set(b.Output, result, mode); err != nil {
			return nil, &BlockError{Kind: string(b.Kind), StartLine: b.StartLine,
				Msg: "failed to bind output variable " + b.Output, Err: err}
		}
	}
	if err := rctx.Pool().SetReserved(AnswerVar, result); err != nil {
		return nil, err
	}
	return result, nil
}

// RunAgentFile parses and runs an agent file in the given context,
// returning its final answer. It implements explore.SubAgentRunner.
func (x *Executor) RunAgentFile(ctx context.Context, path string, rctx *runtime.Context) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read agent file %s: %w", path, err)
	}
	blocks, err := dsl.Parse(string(data))
	if err != nil {
		return "", fmt.Errorf("failed to parse agent file %s: %w", path, err)
	}

	rctx.Recorder().StartSubAgent(rctx.AgentName())
	defer rctx.Recorder().EndSubAgent()

	if err := x.RunBlocks(ctx, rctx, blocks); err != nil {
		return "", err
	}
	answer, _ := rctx.Pool().Get(AnswerVar)
	return stringifyValue(answer), nil
}

// render interpolates {var} references in block text from the pool.
func render(rctx *runtime.Context, s string) string {
	return dsl.Interpolate(s, rctx.Pool().Get)
}

// evalExpr evaluates a restricted expression over the current variables.
func evalExpr(rctx *runtime.Context, src string) (interface{}, error) {
	env := map[string]interface{}{}
	for _, name := range rctx.Pool().Names() {
		if v, ok := rctx.Pool().Get(name); ok {
			env[name] = v
		}
	}
	program, err := expr.Compile(src, expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}
	return expr.Run(program, env)
}

// parseBody dedents and parses a compound block's body as nested blocks.
func parseBody(b *dsl.Block) ([]*dsl.Block, error) {
	body := dedent(b.Body)
	if strings.TrimSpace(body) == "" {
		return nil, &BlockError{Kind: string(b.Kind), StartLine: b.StartLine, Msg: "empty body"}
	}
	blocks, err := dsl.Parse(body)
	if err != nil {
		return nil, &BlockError{Kind: string(b.Kind), StartLine: b.StartLine,
			Msg: "invalid nested blocks", Err: err}
	}
	return blocks, nil
}

// dedent strips the common leading whitespace of all non-empty lines.
func dedent(s string) string {
	lines := strings.Split(s, "\n")
	prefix := ""
	first := true
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		if first {
			prefix = indent
			first = false
			continue
		}
		for !strings.HasPrefix(line, prefix) {
			prefix = prefix[:len(prefix)-1]
		}
	}
	if prefix == "" {
		return s
	}
	for i, line := range lines {
		lines[i] = strings.TrimPrefix(line, prefix)
	}
	return strings.Join(lines, "\n")
}

func stringifyValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}
