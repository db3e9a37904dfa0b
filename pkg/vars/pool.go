// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package vars

import (
	"fmt"
	"strings"
	"sync"
)

// SetMode selects how Set merges with an existing value.
type SetMode string

const (
	ModeOverwrite SetMode = "overwrite"
	ModeAppend    SetMode = "append"
)

const subscriptionBuffer = 64

type PoolError struct {
	Op   string
	Path string
	Msg  string
}

func (e *PoolError) Error() string {
	return fmt.Sprintf("[VariablePool:%s] %s: %s", e.Op, e.Path, e.Msg)
}

func newPoolError(op, path, msg string) *PoolError {
	return &PoolError{Op: op, Path: path, Msg: msg}
}

// Pool is a named, typed, concurrency-safe variable store with dotted-path
// lookup. Names beginning with "_" are reserved for runtime output and can
// only be written through SetReserved.
type Pool struct {
	mu     sync.RWMutex
	values map[string]interface{}
	order  []string
	subs   map[string][]chan interface{}
}

func NewPool() *Pool {
	return &Pool{
		values: make(map[string]interface{}),
		subs:   make(map[string][]chan interface{}),
	}
}

// IsReserved reports whether a variable name is runtime-reserved.
func IsReserved(name string) bool {
	return strings.HasPrefix(name, "_")
}

// Set writes a value at a dotted path. Intermediate objects are created as
// needed. Reserved names are rejected; the runtime uses SetReserved.
func (p *Pool) Set(path string, value interface{}, mode SetMode) error {
	root := rootOf(path)
	if IsReserved(root) {
		return newPoolError("Set", path, "name is reserved for runtime output")
	}
	return p.set(path, value, mode)
}

// SetReserved writes a runtime-output variable (e.g. _progress, _artifacts).
func (p *Pool) SetReserved(path string, value interface{}) error {
	if !IsReserved(rootOf(path)) {
		return newPoolError("SetReserved", path, "not a reserved name")
	}
	return p.set(path, value, ModeOverwrite)
}

func (p *Pool) set(path string, value interface{}, mode SetMode) error {
	segments := strings.Split(path, ".")
	if segments[0] == "" {
		return newPoolError("Set", path, "empty variable name")
	}

	p.mu.Lock()
	root := segments[0]
	if _, exists := p.values[root]; !exists {
		p.order = append(p.order, root)
	}

	var err error
	if len(segments) == 1 {
		p.values[root] = merge(p.values[root], value, mode)
	} else {
		err = p.setNested(segments, value, mode)
	}

	var notify interface{}
	var channels []chan interface{}
	if err == nil {
		notify = deepCopy(p.values[root])
		channels = append(channels, p.subs[root]...)
	}
	p.mu.Unlock()

	if err != nil {
		return err
	}
	for _, ch := range channels {
		publish(ch, notify)
	}
	return nil
}

func (p *Pool) setNested(segments []string, value interface{}, mode SetMode) error {
	root := segments[0]
	node, exists := p.values[root]
	if !exists || node == nil {
		node = make(map[string]interface{})
		p.values[root] = node
	}

	current, ok := node.(map[string]interface{})
	if !ok {
		return newPoolError("Set", strings.Join(segments, "."),
			fmt.Sprintf("segment %q is not an object", root))
	}

	for _, seg := range segments[1 : len(segments)-1] {
		next, exists := current[seg]
		if !exists || next == nil {
			child := make(map[string]interface{})
			current[seg] = child
			current = child
			continue
		}
		childMap, ok := next.(map[string]interface{})
		if !ok {
			return newPoolError("Set", strings.Join(segments, "."),
				fmt.Sprintf("segment %q is not an object", seg))
		}
		current = childMap
	}

	leaf := segments[len(segments)-1]
	current[leaf] = merge(current[leaf], value, mode)
	return nil
}

// merge applies append semantics: lists grow, strings concatenate, anything
// else becomes a two-element list. Overwrite replaces.
func merge(existing, value interface{}, mode SetMode) interface{} {
	if mode != ModeAppend || existing == nil {
		return value
	}
	switch prev := existing.(type) {
	case []interface{}:
		return append(prev, value)
	case string:
		if s, ok := value.(string); ok {
			return prev + s
		}
		return []interface{}{prev, value}
	default:
		return []interface{}{prev, value}
	}
}

// Get resolves a dotted path and returns a deep copy of the value.
func (p *Pool) Get(path string) (interface{}, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	segments := strings.Split(path, ".")
	node, exists := p.values[segments[0]]
	if !exists {
		return nil, false
	}
	for _, seg := range segments[1:] {
		m, ok := node.(map[string]interface{})
		if !ok {
			return nil, false
		}
		node, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return deepCopy(node), true
}

// GetString resolves a path as a string, with "" for missing or non-string.
func (p *Pool) GetString(path string) string {
	v, ok := p.Get(path)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Delete removes a top-level variable.
func (p *Pool) Delete(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.values[name]; !exists {
		return newPoolError("Delete", name, "not found")
	}
	delete(p.values, name)
	for i, n := range p.order {
		if n == name {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return nil
}

// Names returns variable names in insertion order.
func (p *Pool) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Snapshot returns a deep copy of all variables plus their insertion order.
func (p *Pool) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	values := make(map[string]interface{}, len(p.values))
	for k, v := range p.values {
		values[k] = deepCopy(v)
	}
	order := make([]string, len(p.order))
	copy(order, p.order)
	return Snapshot{Values: values, Order: order}
}

// Restore replaces the pool contents with a snapshot.
func (p *Pool) Restore(snap Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.values = make(map[string]interface{}, len(snap.Values))
	for k, v := range snap.Values {
		p.values[k] = deepCopy(v)
	}
	p.order = make([]string, len(snap.Order))
	copy(p.order, snap.Order)
}

// Snapshot is a serializable capture of the pool.
type Snapshot struct {
	Values map[string]interface{} `json:"values"`
	Order  []string               `json:"order"`
}

// Subscribe returns a channel that receives the new value of a top-level
// variable on every write, in write order. Slow consumers lose the oldest
// update rather than blocking writers.
func (p *Pool) Subscribe(name string) <-chan interface{} {
	ch := make(chan interface{}, subscriptionBuffer)
	p.mu.Lock()
	p.subs[name] = append(p.subs[name], ch)
	p.mu.Unlock()
	return ch
}

// Unsubscribe detaches a channel previously returned by Subscribe.
func (p *Pool) Unsubscribe(name string, ch <-chan interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	subs := p.subs[name]
	for i, sub := range subs {
		if sub == ch {
			p.subs[name] = append(subs[:i], subs[i+1:]...)
			close(sub)
			return
		}
	}
}

func publish(ch chan interface{}, value interface{}) {
	select {
	case ch <- value:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- value:
		default:
		}
	}
}

func rootOf(path string) string {
	if i := strings.IndexByte(path, '.'); i >= 0 {
		return path[:i]
	}
	return path
}

func deepCopy(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = deepCopy(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return v
	}
}
