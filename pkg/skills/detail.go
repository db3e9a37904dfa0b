// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package skills

import (
	"context"

	"github.com/praxislang/praxis/pkg/resultcache"
)

const (
	DetailSkillName = "_get_result_detail"
	detailKitName   = "_system_detail"

	defaultDetailLimit = 8 * 1024
)

type detailArgs struct {
	ReferenceID string `json:"reference_id"`
	Offset      int    `json:"offset,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

// detailKit exposes _get_result_detail, reading raw results back out of the
// result cache when retention shortened them.
func detailKit(cache *resultcache.Cache) Skillkit {
	skill := &Skill{
		Name:        DetailSkillName,
		Description: "Fetch the full content behind a result reference. Use offset/limit to page through long results.",
		Category:    CategorySystem,
		Parameters: []Parameter{
			{Name: "reference_id", Type: "string", Description: "Reference ID from a shortened tool result", Required: true},
			{Name: "offset", Type: "integer", Description: "Byte offset to start from", Required: false},
			{Name: "limit", Type: "integer", Description: "Maximum bytes to return", Required: false},
		},
		Handler: func(ctx context.Context, call *Call) (interface{}, error) {
			var args detailArgs
			if err := DecodeArgs(call.Args, &args); err != nil {
				return nil, err
			}
			if args.ReferenceID == "" {
				return nil, newDispatchError(DetailSkillName, "Invoke", "reference_id is required", nil)
			}
			limit := args.Limit
			if limit <= 0 {
				limit = defaultDetailLimit
			}
			return cache.ReadRange(args.ReferenceID, args.Offset, limit)
		},
	}
	kit := NewKit(detailKitName, skill)
	return kit
}
