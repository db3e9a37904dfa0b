// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package resultcache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"
)

const (
	DefaultByteBudget = 64 * 1024 * 1024
	defaultMaxEntries = 4096
)

// Record binds a reference ID to the full raw result of one skill
// invocation.
type Record struct {
	ID        string                 `json:"id"`
	Skill     string                 `json:"skill"`
	Args      map[string]interface{} `json:"args,omitempty"`
	AgentName string                 `json:"agent_name,omitempty"`
	Raw       string                 `json:"raw"`
	CreatedAt time.Time              `json:"created_at"`
	Size      int                    `json:"size"`
}

type CacheError struct {
	Op  string
	ID  string
	Msg string
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("[ResultCache:%s] %s: %s", e.Op, e.ID, e.Msg)
}

// Cache stores full skill outputs and hands out reference IDs. Eviction is
// LRU under a byte budget; pinned references are held outside the LRU and
// never evicted.
type Cache struct {
	mu         sync.Mutex
	entries    *lru.Cache[string, *Record]
	pinned     map[string]*Record
	bytes      int
	byteBudget int
	dir        string
}

type Option func(*Cache)

// WithByteBudget overrides the default eviction budget.
func WithByteBudget(budget int) Option {
	return func(c *Cache) {
		if budget > 0 {
			c.byteBudget = budget
		}
	}
}

// WithDirectory enables optional filesystem persistence keyed by reference
// ID. Lookups fall back to disk after eviction.
func WithDirectory(dir string) Option {
	return func(c *Cache) {
		c.dir = dir
	}
}

func New(opts ...Option) (*Cache, error) {
	c := &Cache{
		pinned:     make(map[string]*Record),
		byteBudget: DefaultByteBudget,
	}
	for _, opt := range opts {
		opt(c)
	}

	entries, err := lru.NewWithEvict[string, *Record](defaultMaxEntries, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("failed to create result cache: %w", err)
	}
	c.entries = entries

	if c.dir != "" {
		if err := os.MkdirAll(c.dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create result cache directory: %w", err)
		}
	}
	return c, nil
}

// onEvict runs under c.mu (all Add/Remove calls hold it).
func (c *Cache) onEvict(_ string, rec *Record) {
	c.bytes -= rec.Size
}

// Stringify renders any serializable result value for text storage.
func Stringify(result interface{}) string {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case error:
		return v.Error()
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}

// Store pins a raw result and returns its reference ID.
func (c *Cache) Store(skill, agentName string, args map[string]interface{}, result interface{}) *Record {
	raw := Stringify(result)
	rec := &Record{
		ID:        "ref_" + uuid.NewString()[:8],
		Skill:     skill,
		Args:      args,
		AgentName: agentName,
		Raw:       raw,
		CreatedAt: time.Now(),
		Size:      len(raw),
	}

	c.mu.Lock()
	c.entries.Add(rec.ID, rec)
	c.bytes += rec.Size
	for c.bytes > c.byteBudget && c.entries.Len() > 0 {
		if _, _, ok := c.entries.RemoveOldest(); !ok {
			break
		}
	}
	c.mu.Unlock()

	if c.dir != "" {
		if err := c.persist(rec); err != nil {
			slog.Warn("Failed to persist result record", "ref_id", rec.ID, "error", err)
		}
	}
	return rec
}

// Get looks a record up by reference ID, falling back to disk when
// persistence is enabled.
func (c *Cache) Get(id string) (*Record, bool) {
	c.mu.Lock()
	if rec, ok := c.pinned[id]; ok {
		c.mu.Unlock()
		return rec, true
	}
	if rec, ok := c.entries.Get(id); ok {
		c.mu.Unlock()
		return rec, true
	}
	c.mu.Unlock()

	if c.dir == "" {
		return nil, false
	}
	rec, err := c.load(id)
	if err != nil {
		return nil, false
	}
	c.mu.Lock()
	c.entries.Add(id, rec)
	c.bytes += rec.Size
	c.mu.Unlock()
	return rec, true
}

// ReadRange returns a substring of the raw result with a trailing
// remaining-bytes hint when truncated, for _get_result_detail.
func (c *Cache) ReadRange(id string, offset, limit int) (string, error) {
	rec, ok := c.Get(id)
	if !ok {
		return "", &CacheError{Op: "ReadRange", ID: id, Msg: "reference not found"}
	}
	raw := rec.Raw
	if offset < 0 {
		offset = 0
	}
	if offset >= len(raw) {
		return "", nil
	}
	if limit <= 0 {
		limit = len(raw) - offset
	}
	end := offset + limit
	if end > len(raw) {
		end = len(raw)
	}
	out := raw[offset:end]
	if remaining := len(raw) - end; remaining > 0 {
		out += fmt.Sprintf("\n[... %d more bytes, continue with offset=%d]", remaining, end)
	}
	return out, nil
}

// Pin marks a reference as ineligible for eviction while any non-terminal
// frame still references it.
func (c *Cache) Pin(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pinned[id]; ok {
		return true
	}
	rec, ok := c.entries.Peek(id)
	if !ok {
		return false
	}
	c.entries.Remove(id)
	// Remove decremented the byte count via onEvict; pinned bytes are
	// accounted outside the budget.
	c.pinned[id] = rec
	return true
}

// Unpin returns a pinned reference to normal LRU accounting.
func (c *Cache) Unpin(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.pinned[id]
	if !ok {
		return
	}
	delete(c.pinned, id)
	c.entries.Add(id, rec)
	c.bytes += rec.Size
	for c.bytes > c.byteBudget && c.entries.Len() > 0 {
		if _, _, ok := c.entries.RemoveOldest(); !ok {
			break
		}
	}
}

// Len returns the number of resident records (LRU + pinned).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len() + len(c.pinned)
}

// Bytes returns the current unpinned byte usage.
func (c *Cache) Bytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

func (c *Cache) persist(rec *Record) error {
	encoded, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.dir, rec.ID+".json"), encoded, 0o644)
}

func (c *Cache) load(id string) (*Record, error) {
	data, err := os.ReadFile(filepath.Join(c.dir, id+".json"))
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
