// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package explore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/kaptinlin/jsonrepair"

	"github.com/praxislang/praxis/pkg/runtime"
)

// HookResult is the verdict of an on_stop handler.
type HookResult struct {
	Score     float64                `json:"score"`
	Passed    bool                   `json:"passed"`
	Feedback  string                 `json:"feedback,omitempty"`
	Retry     bool                   `json:"retry"`
	Breakdown map[string]interface{} `json:"breakdown,omitempty"`
	Err       string                 `json:"error,omitempty"`
}

// SubAgentRunner executes a referenced agent file in an isolated child
// context and returns its final answer. The executor provides it; explore
// stays decoupled from block execution.
type SubAgentRunner interface {
	RunAgentFile(ctx context.Context, path string, child *runtime.Context) (string, error)
}

// HookSyntaxError marks an unparseable on_stop handler; it fails the block
// instead of degrading to score 0.
type HookSyntaxError struct {
	Handler string
	Err     error
}

func (e *HookSyntaxError) Error() string {
	return fmt.Sprintf("[ExploreHook] invalid handler %q: %v", e.Handler, e.Err)
}

func (e *HookSyntaxError) Unwrap() error { return e.Err }

type hookInput struct {
	Attempt        int
	Answer         string
	Think          string
	Steps          int
	ToolCallsCount int
	ToolCalls      []map[string]interface{}
}

// evalHook dispatches the on_stop handler. Runtime evaluation failures
// degrade to a failed result; syntax errors surface as HookSyntaxError.
func (e *Engine) evalHook(ctx context.Context, in hookInput) (HookResult, error) {
	handler := strings.TrimSpace(e.params.OnStop)
	if strings.HasPrefix(handler, "@") {
		return e.evalAgentHook(ctx, handler[1:], in)
	}
	return e.evalExprHook(handler, in)
}

// evalExprHook evaluates a restricted expression over the turn outcome.
// Booleans map to 1/0; numbers are clamped into [0,1].
func (e *Engine) evalExprHook(src string, in hookInput) (HookResult, error) {
	env := map[string]interface{}{
		"answer":           in.Answer,
		"think":            in.Think,
		"steps":            in.Steps,
		"tool_calls_count": in.ToolCallsCount,
	}

	program, err := expr.Compile(src, expr.Env(env))
	if err != nil {
		return HookResult{}, &HookSyntaxError{Handler: src, Err: err}
	}

	out, err := expr.Run(program, env)
	if err != nil {
		return HookResult{Score: 0, Retry: false, Err: err.Error()}, nil
	}
	return e.scoreToResult(scoreOf(out), "", nil), nil
}

// evalAgentHook runs a verifier agent file in a COW child context seeded
// only with _hook_context, then parses its answer as a HookResult or bare
// number.
func (e *Engine) evalAgentHook(ctx context.Context, path string, in hookInput) (HookResult, error) {
	if e.subAgents == nil {
		return HookResult{}, &HookSyntaxError{Handler: "@" + path,
			Err: fmt.Errorf("agent hooks are not available here")}
	}

	child := e.rctx.NewChildContext("verifier", e.rctx.Skills().FilterForSubtask())
	hookCtx := map[string]interface{}{
		"attempt":    in.Attempt,
		"stage":      "on_stop",
		"answer":     in.Answer,
		"think":      in.Think,
		"steps":      in.Steps,
		"tool_calls": in.ToolCalls,
	}
	if err := child.Pool().SetReserved("_hook_context", hookCtx); err != nil {
		return HookResult{Score: 0, Err: err.Error()}, nil
	}

	answer, err := e.subAgents.RunAgentFile(ctx, path, child)
	if err != nil {
		return HookResult{Score: 0, Retry: false, Err: err.Error()}, nil
	}
	return e.parseHookAnswer(answer), nil
}

func (e *Engine) parseHookAnswer(answer string) HookResult {
	trimmed := strings.TrimSpace(answer)

	if score, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return e.scoreToResult(clamp01(score), "", nil)
	}

	repaired, err := jsonrepair.JSONRepair(trimmed)
	if err != nil {
		return HookResult{Score: 0, Retry: false, Err: "unparseable verifier output"}
	}
	var parsed struct {
		Score     *float64               `json:"score"`
		Passed    *bool                  `json:"passed"`
		Feedback  string                 `json:"feedback"`
		Retry     *bool                  `json:"retry"`
		Breakdown map[string]interface{} `json:"breakdown"`
	}
	if err := json.Unmarshal([]byte(repaired), &parsed); err != nil || parsed.Score == nil {
		return HookResult{Score: 0, Retry: false, Err: "unparseable verifier output"}
	}

	result := e.scoreToResult(clamp01(*parsed.Score), parsed.Feedback, parsed.Breakdown)
	if parsed.Passed != nil {
		result.Passed = *parsed.Passed
	}
	if parsed.Retry != nil {
		result.Retry = *parsed.Retry
	} else {
		result.Retry = !result.Passed
	}
	return result
}

func (e *Engine) scoreToResult(score float64, feedback string, breakdown map[string]interface{}) HookResult {
	passed := score >= e.params.Threshold
	return HookResult{
		Score:     score,
		Passed:    passed,
		Feedback:  feedback,
		Retry:     !passed,
		Breakdown: breakdown,
	}
}

func scoreOf(v interface{}) float64 {
	switch t := v.(type) {
	case bool:
		if t {
			return 1
		}
		return 0
	case int:
		return clamp01(float64(t))
	case int64:
		return clamp01(float64(t))
	case float64:
		return clamp01(t)
	default:
		return 0
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// feedbackMessage renders hook feedback for the retry scratchpad entry.
func feedbackMessage(attempt int, result HookResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Your previous answer scored %.2f (attempt %d).", result.Score, attempt)
	if result.Feedback != "" {
		sb.WriteString(" Feedback: ")
		sb.WriteString(result.Feedback)
	}
	sb.WriteString(" Please revise your answer.")
	return sb.String()
}
