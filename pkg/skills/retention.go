// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package skills

import (
	"fmt"
	"unicode/utf8"

	"github.com/praxislang/praxis/pkg/protocol"
	"github.com/praxislang/praxis/pkg/resultcache"
)

// PinMarker prefixes pinned tool results so a human reading the transcript
// can spot content that compression must never touch.
const PinMarker = "[PINNED] "

const (
	summaryHeadRatio = 0.6
	summaryTailRatio = 0.2
)

// ApplyRetention renders a cached result for the LLM context according to
// the skill's retention policy. The returned metadata always carries
// original_length, processed_length, retention_mode and pinned.
func ApplyRetention(rec *resultcache.Record, policy *RetentionPolicy) (string, map[string]interface{}) {
	mode := RetentionFull
	if policy != nil && policy.Mode != "" {
		mode = policy.Mode
	}

	content := rec.Raw
	pinned := false

	switch mode {
	case RetentionSummary:
		maxLength := 0
		if policy != nil {
			maxLength = policy.MaxLength
		}
		content = summarize(rec, maxLength)
	case RetentionReference:
		content = fmt.Sprintf("[%s result] %d bytes stored as %s. Call %s(reference_id=%q) to fetch the content.",
			rec.Skill, len(rec.Raw), rec.ID, DetailSkillName, rec.ID)
	case RetentionPin:
		content = PinMarker + content
		pinned = true
	case RetentionFull:
	default:
	}

	metadata := map[string]interface{}{
		protocol.MetaOriginalLength:  len(rec.Raw),
		protocol.MetaProcessedLength: len(content),
		protocol.MetaRetentionMode:   string(mode),
		protocol.MetaPinned:          pinned,
		"reference_id":               rec.ID,
	}
	return content, metadata
}

func summarize(rec *resultcache.Record, maxLength int) string {
	raw := rec.Raw
	if maxLength <= 0 || len(raw) <= maxLength {
		return raw
	}
	headLen := int(float64(maxLength) * summaryHeadRatio)
	tailLen := int(float64(maxLength) * summaryTailRatio)
	if headLen+tailLen >= len(raw) {
		return raw
	}
	// byte offsets back up to rune boundaries so multi-byte text never
	// splits mid-character
	for headLen > 0 && !utf8.RuneStart(raw[headLen]) {
		headLen--
	}
	tailStart := len(raw) - tailLen
	for tailStart > 0 && tailStart < len(raw) && !utf8.RuneStart(raw[tailStart]) {
		tailStart--
	}
	return fmt.Sprintf("%s\n...\n%s\n[For full content, call %s(%s)]",
		raw[:headLen], raw[tailStart:], DetailSkillName, rec.ID)
}
