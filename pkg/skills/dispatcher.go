// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package skills

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/praxislang/praxis/pkg/observability"
	"github.com/praxislang/praxis/pkg/resultcache"
)

// Dispatcher invokes skills and routes results through the cache and
// retention policies.
type Dispatcher struct {
	registry *Registry
}

func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Invoke executes one skill call. On a dedup hit the prior record is
// returned with cached=true and the skill does not run again. ToolInterrupt
// and UserInterrupt errors propagate untouched for the frame engine.
func (d *Dispatcher) Invoke(ctx context.Context, call *Call, dedup *Deduper) (rec *resultcache.Record, cached bool, err error) {
	skill, ok := d.registry.Resolve(call.Skill)
	if !ok {
		return nil, false, newDispatchError(call.Skill, "Invoke", "unknown skill", nil)
	}

	if !skill.NoDedup {
		if refID, hit := dedup.Check(call.Skill, call.Args); hit {
			if prior, found := d.registry.Cache().Get(refID); found {
				return prior, true, nil
			}
		}
	}

	tracer := observability.GetTracer("praxis.skills")
	ctx, span := tracer.Start(ctx, observability.SpanSkillExecution,
		trace.WithAttributes(attribute.String(observability.AttrSkillName, call.Skill)))
	defer span.End()

	startTime := time.Now()
	raw, err := skill.Handler(ctx, call)
	duration := time.Since(startTime)

	metrics := observability.GetGlobalMetrics()
	if metrics != nil {
		metrics.RecordSkillExecution(ctx, call.Skill, duration, err)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	span.SetStatus(codes.Ok, "success")

	agentName := ""
	if call.Context != nil {
		agentName = call.Context.AgentName()
	}
	rec = d.registry.Cache().Store(call.Skill, agentName, call.Args, raw)
	dedup.Record(call.Skill, call.Args, rec.ID)
	return rec, false, nil
}

// OnBeforeSendToContext renders a cached result for the LLM context using
// the skill's retention policy.
func (d *Dispatcher) OnBeforeSendToContext(refID, skillName string) (string, map[string]interface{}, error) {
	rec, ok := d.registry.Cache().Get(refID)
	if !ok {
		return "", nil, newDispatchError(skillName, "OnBeforeSendToContext", "reference not found: "+refID, nil)
	}
	var policy *RetentionPolicy
	if skill, found := d.registry.Resolve(skillName); found {
		policy = skill.Retention
	}
	content, metadata := ApplyRetention(rec, policy)
	return content, metadata, nil
}
