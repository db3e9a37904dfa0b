// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package explore

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/praxislang/praxis/pkg/contexteng"
	"github.com/praxislang/praxis/pkg/graph"
	"github.com/praxislang/praxis/pkg/llms"
	"github.com/praxislang/praxis/pkg/observability"
	"github.com/praxislang/praxis/pkg/protocol"
	"github.com/praxislang/praxis/pkg/runtime"
	"github.com/praxislang/praxis/pkg/skills"
)

// PendingToolCallVar parks the interrupted tool call across a pause;
// ToolResultVar is the fabricated result injected on resume.
// PromptedVar marks an in-flight invocation whose prompt is already in
// history, so a resumed frame does not append it twice.
const (
	PendingToolCallVar = "_pending_tool_call"
	ToolResultVar      = "_tool_result"
	PromptedVar        = "_explore_prompted"
)

// VerdictVar mirrors the final on_stop verdict into the pool so stream
// consumers can observe the score and how many attempts the block took.
const VerdictVar = "_verdict"

// StreamItem is the accumulated outcome of one LLM turn.
type StreamItem struct {
	Answer       string
	Think        string
	ToolCalls    []protocol.ToolCall
	FinishReason string
	Usage        *llms.Usage
}

// Engine runs the ReAct loop of one explore block: stream a turn, execute
// its tool calls, decide continuation, and on termination run the on_stop
// hook and coerce the answer.
type Engine struct {
	rctx      *runtime.Context
	params    Params
	types     *TypeRegistry
	subAgents SubAgentRunner
	dedup     *skills.Deduper
}

func NewEngine(rctx *runtime.Context, params Params, types *TypeRegistry, subAgents SubAgentRunner) *Engine {
	dedup := skills.NewDeduper()
	if params.DisableDedup {
		dedup = skills.NewDisabledDeduper()
	}
	return &Engine{rctx: rctx, params: params, types: types, subAgents: subAgents, dedup: dedup}
}

// Run executes the loop until termination and returns the coerced answer.
// UserInterrupt and ToolInterrupt errors propagate for the frame engine to
// convert into paused frames; the in-flight marker stays set across those
// so the resumed invocation produces no duplicated side effects.
func (e *Engine) Run(ctx context.Context, prompt string) (interface{}, error) {
	result, err := e.run(ctx, prompt)
	if err != nil {
		if _, ok := skills.AsUserInterrupt(err); ok {
			return result, err
		}
		if _, ok := skills.AsToolInterrupt(err); ok {
			return result, err
		}
	}
	_ = e.rctx.Pool().Delete(PromptedVar)
	return result, err
}

func (e *Engine) run(ctx context.Context, prompt string) (interface{}, error) {
	defs, err := e.toolDefinitions()
	if err != nil {
		return nil, err
	}

	if e.params.SystemPrompt != "" {
		e.rctx.Store().Replace(contexteng.BucketSystem,
			[]protocol.Message{protocol.NewTextMessage(protocol.RoleSystem, e.params.SystemPrompt)})
	}
	// the marker means this is a resume of the same invocation (user
	// interrupt or parked tool call); the prompt is already in history
	_, resuming := e.rctx.Pool().Get(PromptedVar)
	if !resuming {
		_, resuming = e.rctx.Pool().Get(PendingToolCallVar)
	}
	if prompt != "" && !resuming {
		if err := e.rctx.AddMessage(contexteng.BucketHistory,
			protocol.NewTextMessage(protocol.RoleUser, prompt)); err != nil {
			return nil, err
		}
	}
	if err := e.rctx.Pool().SetReserved(PromptedVar, true); err != nil {
		return nil, err
	}
	if err := e.injectPendingToolResult(); err != nil {
		return nil, err
	}

	attempt := 0
	var last StreamItem
	for turn := 0; turn < e.params.MaxIterations; turn++ {
		if err := e.rctx.CheckInterrupt(); err != nil {
			return nil, err
		}

		item, err := e.streamTurn(ctx, defs, turn)
		if err != nil {
			return nil, err
		}
		last = item

		e.appendAssistantMessage(item)

		cont, err := e.shouldContinue(ctx, item)
		if err != nil {
			return nil, err
		}
		if !cont {
			done, result, err := e.onTermination(ctx, item, turn, &attempt)
			if err != nil {
				return nil, err
			}
			if done {
				return result, nil
			}
			continue
		}

		if err := e.executeToolCalls(ctx, item); err != nil {
			return nil, err
		}
	}

	slog.Warn("Explore loop hit iteration limit", "agent", e.rctx.AgentName(),
		"max_iterations", e.params.MaxIterations)
	return CoerceOutput(last.Answer, e.params.Output, e.types)
}

func (e *Engine) toolDefinitions() ([]protocol.ToolDefinition, error) {
	names := append([]string{}, e.params.Tools...)
	for _, kit := range e.params.Skillkits {
		kitNames, err := e.rctx.Skills().KitSkillNames(kit)
		if err != nil {
			return nil, err
		}
		names = append(names, kitNames...)
	}

	seen := make(map[string]bool, len(names))
	unique := names[:0]
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			unique = append(unique, n)
		}
	}
	if _, ok := e.rctx.Skills().Resolve(skills.DetailSkillName); ok && !seen[skills.DetailSkillName] {
		unique = append(unique, skills.DetailSkillName)
	}
	if len(unique) == 0 {
		return nil, nil
	}
	return e.rctx.Skills().Definitions(unique...)
}

// streamTurn runs one LLM turn and folds the stream into a StreamItem,
// surfacing progress after each chunk.
func (e *Engine) streamTurn(ctx context.Context, defs []protocol.ToolDefinition, turn int) (StreamItem, error) {
	tracer := observability.GetTracer("praxis.explore")
	ctx, span := tracer.Start(ctx, observability.SpanExploreTurn,
		trace.WithAttributes(
			attribute.String(observability.AttrAgentName, e.rctx.AgentName()),
			attribute.Int("explore.turn", turn)))
	defer span.End()

	messages := e.rctx.Engineer().Assemble()
	if contract := FormatContract(e.params.Output, e.types); contract != "" {
		messages = append(messages, protocol.NewTextMessage(protocol.RoleSystem, contract))
	}

	req := &llms.Request{
		Model:          e.params.Model,
		Messages:       messages,
		Tools:          defs,
		SessionCounter: turn,
	}
	stream, err := e.rctx.LLM().ChatStream(ctx, req)
	if err != nil {
		return StreamItem{}, err
	}

	recorder := e.rctx.Recorder()
	recorder.StartStage(graph.StageLLM)

	var final llms.Chunk
	for chunk := range stream {
		if chunk.Err != nil {
			recorder.EndStage(graph.StageFailed)
			return StreamItem{}, chunk.Err
		}
		final = chunk
		recorder.UpdateStage(graph.StageUpdate{Answer: &chunk.Content, Think: &chunk.Reasoning})
	}
	recorder.EndStage(graph.StageCompleted)

	return StreamItem{
		Answer:       final.Content,
		Think:        final.Reasoning,
		ToolCalls:    llms.ToolCallsFromChunk(final, turn),
		FinishReason: final.FinishReason,
		Usage:        final.Usage,
	}, nil
}

func (e *Engine) appendAssistantMessage(item StreamItem) {
	if item.Answer == "" && len(item.ToolCalls) == 0 {
		return
	}
	msg := protocol.NewTextMessage(protocol.RoleAssistant, item.Answer)
	msg.ToolCalls = item.ToolCalls
	if err := e.rctx.AddMessage(contexteng.BucketHistory, msg); err != nil {
		slog.Warn("Failed to append assistant message", "error", err)
	}
}

// shouldContinue applies the plan guardrail first, then the complete
// tool-call rule.
func (e *Engine) shouldContinue(ctx context.Context, item StreamItem) (bool, error) {
	if e.rctx.HasActivePlan() {
		if !hasCompleteCall(item) {
			e.injectPlanHint()
		}
		return true, nil
	}
	return hasCompleteCall(item), nil
}

func hasCompleteCall(item StreamItem) bool {
	for _, tc := range item.ToolCalls {
		if tc.Complete {
			return true
		}
	}
	return false
}

// injectPlanHint nudges the model back to plan supervision via the control
// bucket.
func (e *Engine) injectPlanHint() {
	running := 0
	if plan := e.rctx.PlanState(); plan != nil {
		running = plan.RunningCount()
	}
	hint := fmt.Sprintf(
		"%d tasks still running; call _wait(15) then _check_progress before answering.", running)
	if err := e.rctx.AddMessage(contexteng.BucketControl,
		protocol.NewTextMessage(protocol.RoleSystem, hint)); err != nil {
		slog.Warn("Failed to inject plan hint", "error", err)
	}
}

// executeToolCalls runs the turn's calls sequentially in index order. A
// regular failure becomes an error tool response and the loop goes on; a
// ToolInterrupt parks the pending call and propagates. With multi_tool_calls
// off, only the first complete call runs; the rest get declined responses so
// every call ID still has an answer in history.
func (e *Engine) executeToolCalls(ctx context.Context, item StreamItem) error {
	recorder := e.rctx.Recorder()

	executed := false
	for _, tc := range item.ToolCalls {
		if !tc.Complete {
			e.appendErrorResponse(tc.ID, fmt.Sprintf("malformed arguments for %s: %s", tc.Name, tc.RawArgs))
			continue
		}
		if executed && !e.params.MultiToolCalls {
			e.appendErrorResponse(tc.ID,
				fmt.Sprintf("tool %s not executed: only one tool call per turn is allowed", tc.Name))
			continue
		}
		executed = true

		recorder.StartStage(graph.StageToolCall)
		recorder.UpdateStage(graph.StageUpdate{SkillInfo: map[string]interface{}{
			"name": tc.Name, "args": tc.Args, "tool_call_id": tc.ID,
		}})

		call := &skills.Call{Skill: tc.Name, ToolCallID: tc.ID, Args: tc.Args, Context: e.rctx}
		rec, cached, err := e.rctx.Dispatcher().Invoke(ctx, call, e.dedup)

		if err != nil {
			if ti, ok := skills.AsToolInterrupt(err); ok {
				recorder.EndStage(graph.StageProcessing)
				e.parkPendingCall(tc, ti)
				return err
			}
			if _, ok := skills.AsUserInterrupt(err); ok {
				recorder.EndStage(graph.StageProcessing)
				return err
			}
			recorder.EndStage(graph.StageFailed)
			e.appendErrorResponse(tc.ID, fmt.Sprintf("tool %s failed: %v", tc.Name, err))
			continue
		}

		if cached {
			slog.Debug("Duplicate tool call served from cache", "skill", tc.Name, "ref", rec.ID)
		}
		if err := e.rctx.AppendToolResponseMessage(tc.ID, rec.ID, tc.Name); err != nil {
			recorder.EndStage(graph.StageFailed)
			e.appendErrorResponse(tc.ID, fmt.Sprintf("failed to record result of %s: %v", tc.Name, err))
			continue
		}
		recorder.EndStage(graph.StageCompleted)
	}
	return nil
}

func (e *Engine) appendErrorResponse(toolCallID, text string) {
	msg := protocol.NewToolResponse(toolCallID, text)
	msg.SetMetadata(protocol.MetaError, true)
	if err := e.rctx.AddMessage(contexteng.BucketHistory, msg); err != nil {
		slog.Warn("Failed to append error tool response", "error", err)
	}
}

// parkPendingCall records the interrupted call so a resume can fabricate
// its result.
func (e *Engine) parkPendingCall(tc protocol.ToolCall, ti *skills.ToolInterrupt) {
	pending := map[string]interface{}{
		"tool_call_id": tc.ID,
		"name":         tc.Name,
		"args":         tc.Args,
		"reason":       ti.Reason,
	}
	if err := e.rctx.Pool().SetReserved(PendingToolCallVar, pending); err != nil {
		slog.Warn("Failed to park pending tool call", "error", err)
	}
}

// injectPendingToolResult completes an interrupted call from the resume
// updates, if both sides are present.
func (e *Engine) injectPendingToolResult() error {
	pool := e.rctx.Pool()
	pendingRaw, ok := pool.Get(PendingToolCallVar)
	if !ok {
		return nil
	}
	resultRaw, ok := pool.Get(ToolResultVar)
	if !ok {
		return nil
	}

	pending, _ := pendingRaw.(map[string]interface{})
	id, _ := pending["tool_call_id"].(string)
	if id == "" {
		return nil
	}

	content := fmt.Sprintf("%v", resultRaw)
	if err := e.rctx.AddMessage(contexteng.BucketHistory,
		protocol.NewToolResponse(id, content)); err != nil {
		return err
	}
	_ = pool.Delete(PendingToolCallVar)
	_ = pool.Delete(ToolResultVar)
	return nil
}

// onTermination runs the on_stop hook. done=false re-enters the loop for a
// feedback retry.
func (e *Engine) onTermination(ctx context.Context, item StreamItem, turn int, attempt *int) (bool, interface{}, error) {
	if e.params.OnStop == "" {
		result, err := CoerceOutput(item.Answer, e.params.Output, e.types)
		return true, result, err
	}

	in := hookInput{
		Attempt:        *attempt,
		Answer:         item.Answer,
		Think:          item.Think,
		Steps:          turn + 1,
		ToolCallsCount: len(item.ToolCalls),
		ToolCalls:      toolCallDicts(item.ToolCalls),
	}
	verdict, err := e.evalHook(ctx, in)
	if err != nil {
		return false, nil, err
	}

	if verdict.Retry && *attempt < e.params.MaxRetries {
		*attempt++
		slog.Info("Explore hook requested retry",
			"agent", e.rctx.AgentName(), "attempt", *attempt, "score", verdict.Score)
		if err := e.rctx.AddMessage(contexteng.BucketScratchpad,
			protocol.NewTextMessage(protocol.RoleUser, feedbackMessage(*attempt, verdict))); err != nil {
			return false, nil, err
		}
		return false, nil, nil
	}

	e.publishVerdict(verdict, *attempt+1)
	result, err := CoerceOutput(item.Answer, e.params.Output, e.types)
	return true, result, err
}

func (e *Engine) publishVerdict(v HookResult, attempts int) {
	entry := map[string]interface{}{
		"score":    v.Score,
		"passed":   v.Passed,
		"attempts": attempts,
	}
	if v.Feedback != "" {
		entry["feedback"] = v.Feedback
	}
	if v.Err != "" {
		entry["error"] = v.Err
	}
	if err := e.rctx.Pool().SetReserved(VerdictVar, entry); err != nil {
		slog.Warn("Failed to publish hook verdict", "error", err)
	}
}

func toolCallDicts(calls []protocol.ToolCall) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(calls))
	for _, tc := range calls {
		out = append(out, map[string]interface{}{
			"id": tc.ID, "name": tc.Name, "args": tc.Args,
		})
	}
	return out
}
