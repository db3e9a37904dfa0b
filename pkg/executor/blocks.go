// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"golang.org/x/sync/errgroup"

	"github.com/praxislang/praxis/pkg/contexteng"
	"github.com/praxislang/praxis/pkg/dsl"
	"github.com/praxislang/praxis/pkg/explore"
	"github.com/praxislang/praxis/pkg/graph"
	"github.com/praxislang/praxis/pkg/llms"
	"github.com/praxislang/praxis/pkg/runtime"
	"github.com/praxislang/praxis/pkg/protocol"
	"github.com/praxislang/praxis/pkg/skills"
	"github.com/praxislang/praxis/pkg/vars"
)

func (x *Executor) runExplore(ctx context.Context, rctx *runtime.Context, b *dsl.Block) (interface{}, error) {
	params := explore.ParamsFromBlock(b)
	engine := explore.NewEngine(rctx, params, x.types, x)
	return engine.Run(ctx, render(rctx, b.Body))
}

// runPrompt is a single LLM turn without tools.
func (x *Executor) runPrompt(ctx context.Context, rctx *runtime.Context, b *dsl.Block) (interface{}, error) {
	answer, err := x.completeTurn(ctx, rctx, b, render(rctx, b.Body))
	if err != nil {
		return nil, err
	}
	return explore.CoerceOutput(answer, b.StringParam("output", ""), x.types)
}

// runJudge is an LLM turn with strict boolean or score extraction.
func (x *Executor) runJudge(ctx context.Context, rctx *runtime.Context, b *dsl.Block) (interface{}, error) {
	prompt := render(rctx, b.Body) +
		"\n\nAnswer with exactly one of: true, false, or a score between 0 and 1."
	answer, err := x.completeTurn(ctx, rctx, b, prompt)
	if err != nil {
		return nil, err
	}
	verdict, err := parseVerdict(answer)
	if err != nil {
		return nil, &BlockError{Kind: "judge", StartLine: b.StartLine,
			Msg: "unparseable verdict: " + truncate(answer, 80), Err: err}
	}
	return verdict, nil
}

// runTool invokes one skill directly with rendered arguments.
func (x *Executor) runTool(ctx context.Context, rctx *runtime.Context, b *dsl.Block) (interface{}, error) {
	skillName := b.StringParam("skill", "")
	if skillName == "" {
		return nil, &BlockError{Kind: "tool", StartLine: b.StartLine, Msg: "missing skill parameter"}
	}

	args, err := x.toolArgs(rctx, b)
	if err != nil {
		return nil, err
	}

	recorder := rctx.Recorder()
	recorder.StartStage(graph.StageSkill)
	recorder.UpdateStage(graph.StageUpdate{SkillInfo: map[string]interface{}{
		"name": skillName, "args": args,
	}})

	call := &skills.Call{Skill: skillName, Args: args, Context: rctx}
	rec, _, err := rctx.Dispatcher().Invoke(ctx, call, skills.NewDisabledDeduper())
	if err != nil {
		recorder.EndStage(graph.StageFailed)
		return nil, err
	}
	recorder.EndStage(graph.StageCompleted)
	return rec.Raw, nil
}

func (x *Executor) toolArgs(rctx *runtime.Context, b *dsl.Block) (map[string]interface{}, error) {
	if strings.TrimSpace(b.Body) != "" {
		repaired, err := jsonrepair.JSONRepair(render(rctx, b.Body))
		if err != nil {
			return nil, &BlockError{Kind: "tool", StartLine: b.StartLine,
				Msg: "invalid args body", Err: err}
		}
		var args map[string]interface{}
		if err := json.Unmarshal([]byte(repaired), &args); err != nil {
			return nil, &BlockError{Kind: "tool", StartLine: b.StartLine,
				Msg: "args body is not a JSON object", Err: err}
		}
		return args, nil
	}

	args := map[string]interface{}{}
	for k, v := range b.Params {
		if k == "skill" || k == "mode" {
			continue
		}
		if s, ok := v.(string); ok {
			args[k] = render(rctx, s)
		} else {
			args[k] = v
		}
	}
	return args, nil
}

// runAssign evaluates an expression or renders a literal.
func (x *Executor) runAssign(rctx *runtime.Context, b *dsl.Block) (interface{}, error) {
	if src := b.StringParam("expr", ""); src != "" {
		v, err := evalExpr(rctx, src)
		if err != nil {
			return nil, &BlockError{Kind: "assign", StartLine: b.StartLine,
				Msg: "expression failed", Err: err}
		}
		return v, nil
	}
	if v, ok := b.Params["value"]; ok {
		if s, isStr := v.(string); isStr {
			return render(rctx, s), nil
		}
		return v, nil
	}
	return render(rctx, b.Body), nil
}

// runIf executes the nested body when the condition holds.
func (x *Executor) runIf(ctx context.Context, rctx *runtime.Context, b *dsl.Block) (interface{}, error) {
	src := b.StringParam("cond", "")
	if src == "" {
		return nil, &BlockError{Kind: "if", StartLine: b.StartLine, Msg: "missing cond parameter"}
	}
	v, err := evalExpr(rctx, src)
	if err != nil {
		return nil, &BlockError{Kind: "if", StartLine: b.StartLine, Msg: "condition failed", Err: err}
	}
	if !truthy(v) {
		return false, nil
	}
	blocks, err := parseBody(b)
	if err != nil {
		return nil, err
	}
	if err := x.RunBlocks(ctx, rctx, blocks); err != nil {
		return nil, err
	}
	return true, nil
}

// runFor iterates the nested body over a list, collecting each iteration's
// answer.
func (x *Executor) runFor(ctx context.Context, rctx *runtime.Context, b *dsl.Block) (interface{}, error) {
	src := b.StringParam("items", "")
	if src == "" {
		return nil, &BlockError{Kind: "for", StartLine: b.StartLine, Msg: "missing items parameter"}
	}
	itemsVal, err := evalExpr(rctx, src)
	if err != nil {
		return nil, &BlockError{Kind: "for", StartLine: b.StartLine, Msg: "items failed", Err: err}
	}
	items, ok := asList(itemsVal)
	if !ok {
		return nil, &BlockError{Kind: "for", StartLine: b.StartLine,
			Msg: fmt.Sprintf("items is not a list: %T", itemsVal)}
	}

	blocks, err := parseBody(b)
	if err != nil {
		return nil, err
	}
	itemVar := b.StringParam("var", "item")

	results := make([]interface{}, 0, len(items))
	for i, item := range items {
		if err := rctx.CheckInterrupt(); err != nil {
			return nil, err
		}
		if err := rctx.Pool().Set(itemVar, item, vars.ModeOverwrite); err != nil {
			return nil, err
		}
		if err := rctx.Pool().Set(itemVar+"_index", i, vars.ModeOverwrite); err != nil {
			return nil, err
		}
		if err := x.RunBlocks(ctx, rctx, blocks); err != nil {
			return nil, err
		}
		answer, _ := rctx.Pool().Get(AnswerVar)
		results = append(results, answer)
	}
	return results, nil
}

// runParallel executes each nested block in its own copy-on-write child
// context; output variables merge back when all branches finish.
func (x *Executor) runParallel(ctx context.Context, rctx *runtime.Context, b *dsl.Block) (interface{}, error) {
	blocks, err := parseBody(b)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	if limit := b.IntParam("max_concurrency", 0); limit > 0 {
		g.SetLimit(limit)
	}

	children := make([]*runtime.Context, len(blocks))
	results := make([]interface{}, len(blocks))
	for i, nb := range blocks {
		child := rctx.NewChildContext(rctx.AgentName(), nil)
		children[i] = child
		g.Go(func() error {
			v, err := x.RunBlock(gctx, child, nb)
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range blocks {
		rctx.MergeRecorder(children[i])
	}
	for i, nb := range blocks {
		if nb.Output == "" {
			continue
		}
		if err := children[i].MergeToParent(nb.Output); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// completeTurn runs one tool-less LLM turn, recording progress per chunk.
func (x *Executor) completeTurn(ctx context.Context, rctx *runtime.Context, b *dsl.Block, prompt string) (string, error) {
	if sp := b.StringParam("system_prompt", ""); sp != "" {
		rctx.Store().Replace(contexteng.BucketSystem,
			[]protocol.Message{protocol.NewTextMessage(protocol.RoleSystem, sp)})
	}
	if err := rctx.AddMessage(contexteng.BucketHistory,
		protocol.NewTextMessage(protocol.RoleUser, prompt)); err != nil {
		return "", err
	}

	messages := rctx.Engineer().Assemble()
	if contract := explore.FormatContract(b.StringParam("output", ""), x.types); contract != "" {
		messages = append(messages, protocol.NewTextMessage(protocol.RoleSystem, contract))
	}

	stream, err := rctx.LLM().ChatStream(ctx, &llms.Request{
		Model:    b.StringParam("model", ""),
		Messages: messages,
	})
	if err != nil {
		return "", err
	}

	recorder := rctx.Recorder()
	recorder.StartStage(graph.StageLLM)
	var final llms.Chunk
	for chunk := range stream {
		if chunk.Err != nil {
			recorder.EndStage(graph.StageFailed)
			return "", chunk.Err
		}
		final = chunk
		recorder.UpdateStage(graph.StageUpdate{Answer: &chunk.Content, Think: &chunk.Reasoning})
	}
	recorder.EndStage(graph.StageCompleted)

	if err := rctx.AddMessage(contexteng.BucketHistory,
		protocol.NewTextMessage(protocol.RoleAssistant, final.Content)); err != nil {
		return "", err
	}
	return final.Content, nil
}

// parseVerdict extracts a strict boolean or a [0,1] score.
func parseVerdict(answer string) (interface{}, error) {
	cleaned := strings.ToLower(strings.TrimSpace(answer))
	cleaned = strings.Trim(cleaned, ".!`\"' ")

	switch cleaned {
	case "true", "yes":
		return true, nil
	case "false", "no":
		return false, nil
	}
	if score, err := strconv.ParseFloat(cleaned, 64); err == nil {
		if score < 0 || score > 1 {
			return nil, fmt.Errorf("score %v out of range", score)
		}
		return score, nil
	}

	repaired, err := jsonrepair.JSONRepair(cleaned)
	if err == nil {
		var parsed struct {
			Verdict *bool    `json:"verdict"`
			Score   *float64 `json:"score"`
		}
		if json.Unmarshal([]byte(repaired), &parsed) == nil {
			if parsed.Verdict != nil {
				return *parsed.Verdict, nil
			}
			if parsed.Score != nil && *parsed.Score >= 0 && *parsed.Score <= 1 {
				return *parsed.Score, nil
			}
		}
	}
	return nil, fmt.Errorf("no boolean or score found")
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case string:
		return t != ""
	case []interface{}:
		return len(t) > 0
	case map[string]interface{}:
		return len(t) > 0
	default:
		return true
	}
}

func asList(v interface{}) ([]interface{}, bool) {
	switch t := v.(type) {
	case []interface{}:
		return t, true
	case []string:
		out := make([]interface{}, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
