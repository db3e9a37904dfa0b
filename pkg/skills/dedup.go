// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package skills

import (
	"github.com/praxislang/praxis/pkg/protocol"
)

// Deduper detects repeated skill invocations within one explore
// invocation. Identity is (name, canonical JSON args).
type Deduper struct {
	disabled bool
	seen     map[string]string
}

func NewDeduper() *Deduper {
	return &Deduper{seen: make(map[string]string)}
}

// NewDisabledDeduper returns a deduper that never reports duplicates.
func NewDisabledDeduper() *Deduper {
	return &Deduper{disabled: true, seen: make(map[string]string)}
}

func dedupKey(name string, args map[string]interface{}) string {
	return name + "\x00" + protocol.CanonicalArgs(args)
}

// Check returns the reference ID of a prior identical invocation, if any.
func (d *Deduper) Check(name string, args map[string]interface{}) (string, bool) {
	if d == nil || d.disabled {
		return "", false
	}
	refID, ok := d.seen[dedupKey(name, args)]
	return refID, ok
}

// Record remembers a completed invocation's reference ID.
func (d *Deduper) Record(name string, args map[string]interface{}, refID string) {
	if d == nil || d.disabled {
		return
	}
	d.seen[dedupKey(name, args)] = refID
}
