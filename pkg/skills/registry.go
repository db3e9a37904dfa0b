// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package skills

import (
	"fmt"

	"github.com/praxislang/praxis/pkg/protocol"
	"github.com/praxislang/praxis/pkg/registry"
	"github.com/praxislang/praxis/pkg/resultcache"
)

type entry struct {
	skill *Skill
	kit   Skillkit
}

// Registry resolves skills by name across registered skillkits. Names are
// unique within one registry.
type Registry struct {
	entries *registry.BaseRegistry[entry]
	kits    *registry.BaseRegistry[Skillkit]
	cache   *resultcache.Cache
}

func NewRegistry(cache *resultcache.Cache) *Registry {
	return &Registry{
		entries: registry.NewBaseRegistry[entry](),
		kits:    registry.NewBaseRegistry[Skillkit](),
		cache:   cache,
	}
}

// Register adds a skillkit. When any registered skill uses summary or
// reference retention, the _get_result_detail system skill is injected so
// the model can fetch full results back.
func (r *Registry) Register(kit Skillkit) error {
	if kit.Name() == "" {
		return fmt.Errorf("skillkit name cannot be empty")
	}
	if err := r.kits.Register(kit.Name(), kit); err != nil {
		return fmt.Errorf("failed to register skillkit: %w", err)
	}

	needsDetail := false
	for _, s := range kit.Skills() {
		if s.Name == "" {
			return fmt.Errorf("skillkit %s contains a skill without a name", kit.Name())
		}
		if s.Handler == nil {
			return fmt.Errorf("skill %s has no handler", s.Name)
		}
		if err := r.entries.Register(s.Name, entry{skill: s, kit: kit}); err != nil {
			return fmt.Errorf("failed to register skill %s: %w", s.Name, err)
		}
		if s.Retention != nil &&
			(s.Retention.Mode == RetentionSummary || s.Retention.Mode == RetentionReference) {
			needsDetail = true
		}
	}

	if needsDetail {
		if _, exists := r.entries.Get(DetailSkillName); !exists {
			if err := r.registerDetailKit(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Registry) registerDetailKit() error {
	kit := detailKit(r.cache)
	if err := r.kits.Register(kit.Name(), kit); err != nil {
		return fmt.Errorf("failed to register detail kit: %w", err)
	}
	for _, s := range kit.Skills() {
		if err := r.entries.Register(s.Name, entry{skill: s, kit: kit}); err != nil {
			return fmt.Errorf("failed to register %s: %w", s.Name, err)
		}
	}
	return nil
}

// Resolve returns a skill by name.
func (r *Registry) Resolve(name string) (*Skill, bool) {
	e, ok := r.entries.Get(name)
	if !ok {
		return nil, false
	}
	return e.skill, true
}

// KitOf returns the skillkit a skill belongs to.
func (r *Registry) KitOf(name string) (Skillkit, bool) {
	e, ok := r.entries.Get(name)
	if !ok {
		return nil, false
	}
	return e.kit, true
}

// Names lists skill names in registration order.
func (r *Registry) Names() []string {
	return r.entries.Keys()
}

// Definitions generates the function-call tool schemas for the given skill
// names; with no names, all registered skills are listed.
func (r *Registry) Definitions(names ...string) ([]protocol.ToolDefinition, error) {
	if len(names) == 0 {
		names = r.entries.Keys()
	}
	defs := make([]protocol.ToolDefinition, 0, len(names))
	for _, name := range names {
		skill, ok := r.Resolve(name)
		if !ok {
			return nil, fmt.Errorf("unknown skill %q", name)
		}
		defs = append(defs, skill.Definition())
	}
	return defs, nil
}

// KitSkillNames lists the skill names of one registered kit.
func (r *Registry) KitSkillNames(kitName string) ([]string, error) {
	kit, ok := r.kits.Get(kitName)
	if !ok {
		return nil, fmt.Errorf("unknown skillkit %q", kitName)
	}
	names := make([]string, 0, len(kit.Skills()))
	for _, s := range kit.Skills() {
		names = append(names, s.Name)
	}
	return names, nil
}

// Cache exposes the result cache shared by the dispatcher and the detail
// skill.
func (r *Registry) Cache() *resultcache.Cache {
	return r.cache
}

// FilterForSubtask returns a registry view without kits marked
// ExcludeFromSubtask, for plan subtask contexts.
func (r *Registry) FilterForSubtask() *Registry {
	filtered := NewRegistry(r.cache)
	for _, kit := range r.kits.List() {
		if kit.ExcludeFromSubtask() {
			continue
		}
		if kit.Name() == detailKitName {
			continue
		}
		// Registration errors cannot occur here: names were unique in the
		// parent registry.
		_ = filtered.Register(kit)
	}
	return filtered
}
