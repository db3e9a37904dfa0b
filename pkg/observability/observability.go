// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	AttrAgentName       = "agent.name"
	AttrSkillName       = "skill.name"
	AttrLLMModel        = "llm.model"
	AttrLLMTokensInput  = "llm.tokens.input"
	AttrLLMTokensOutput = "llm.tokens.output"
	AttrBlockKind       = "block.kind"
	AttrFrameID         = "frame.id"
	AttrErrorType       = "error.type"

	SpanLLMRequest     = "runtime.llm_request"
	SpanSkillExecution = "runtime.skill_execution"
	SpanBlockExecution = "runtime.block_execution"
	SpanExploreTurn    = "runtime.explore_turn"

	meterName = "praxis"
)

// GetTracer returns a tracer from the globally configured provider.
// Exporter wiring is the host process's responsibility.
func GetTracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// Metrics bundles the runtime's instruments. Instances are cheap views over
// the global meter provider.
type Metrics struct {
	llmCalls      metric.Int64Counter
	llmTokens     metric.Int64Counter
	llmDuration   metric.Float64Histogram
	skillCalls    metric.Int64Counter
	skillDuration metric.Float64Histogram
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// GetGlobalMetrics lazily builds the instrument set. A nil return means
// instrument creation failed and callers skip recording.
func GetGlobalMetrics() *Metrics {
	metricsOnce.Do(func() {
		meter := otel.Meter(meterName)

		llmCalls, err := meter.Int64Counter("praxis_llm_calls_total",
			metric.WithDescription("Total LLM requests"))
		if err != nil {
			return
		}
		llmTokens, err := meter.Int64Counter("praxis_llm_tokens_total",
			metric.WithDescription("Total LLM tokens by direction"))
		if err != nil {
			return
		}
		llmDuration, err := meter.Float64Histogram("praxis_llm_duration_seconds",
			metric.WithDescription("LLM request duration in seconds"))
		if err != nil {
			return
		}
		skillCalls, err := meter.Int64Counter("praxis_skill_calls_total",
			metric.WithDescription("Total skill invocations"))
		if err != nil {
			return
		}
		skillDuration, err := meter.Float64Histogram("praxis_skill_duration_seconds",
			metric.WithDescription("Skill execution duration in seconds"))
		if err != nil {
			return
		}

		globalMetrics = &Metrics{
			llmCalls:      llmCalls,
			llmTokens:     llmTokens,
			llmDuration:   llmDuration,
			skillCalls:    skillCalls,
			skillDuration: skillDuration,
		}
	})
	return globalMetrics
}

func (m *Metrics) RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String(AttrLLMModel, model),
		attribute.Bool("error", err != nil),
	}
	m.llmCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.llmDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	if inputTokens > 0 {
		m.llmTokens.Add(ctx, int64(inputTokens), metric.WithAttributes(
			attribute.String(AttrLLMModel, model), attribute.String("direction", "input")))
	}
	if outputTokens > 0 {
		m.llmTokens.Add(ctx, int64(outputTokens), metric.WithAttributes(
			attribute.String(AttrLLMModel, model), attribute.String("direction", "output")))
	}
}

func (m *Metrics) RecordSkillExecution(ctx context.Context, skill string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String(AttrSkillName, skill),
		attribute.Bool("error", err != nil),
	}
	m.skillCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.skillDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}
