// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package explore

import (
	"strings"

	"github.com/praxislang/praxis/pkg/dsl"
)

// Params are the explore block knobs.
type Params struct {
	// Tools lists individual skill names; Skillkits pulls whole kits.
	Tools     []string
	Skillkits []string

	Model        string
	SystemPrompt string

	// Output is "", "raw", "json", "jsonl" or "obj/<TypeName>".
	Output string

	// OnStop is an expression or "@path/to/verifier.px" agent reference.
	OnStop string

	MultiToolCalls bool
	MaxIterations  int

	// Hook retry budget and pass threshold.
	MaxRetries int
	Threshold  float64

	DisableDedup bool
}

func DefaultParams() Params {
	return Params{
		MultiToolCalls: true,
		MaxIterations:  30,
		MaxRetries:     2,
		Threshold:      0.7,
	}
}

// ParamsFromBlock reads the explore knobs from a parsed block. List-valued
// params are comma-separated.
func ParamsFromBlock(b *dsl.Block) Params {
	p := DefaultParams()
	p.Tools = splitList(b.StringParam("tools", ""))
	p.Skillkits = splitList(b.StringParam("skillkits", ""))
	p.Model = b.StringParam("model", "")
	p.SystemPrompt = b.StringParam("system_prompt", "")
	p.Output = b.StringParam("output", "")
	p.OnStop = b.StringParam("on_stop", "")
	p.MultiToolCalls = b.BoolParam("multi_tool_calls", true)
	p.MaxIterations = b.IntParam("max_iterations", p.MaxIterations)
	p.MaxRetries = b.IntParam("max_retries", p.MaxRetries)
	if v, ok := b.Params["threshold"].(float64); ok {
		p.Threshold = v
	}
	p.DisableDedup = b.BoolParam("disable_dedup", false)
	return p
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
