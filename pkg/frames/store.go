// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package frames

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var ErrNotFound = errors.New("not found")

// Conflict reports a compare-and-swap failure on a frame version.
type Conflict struct {
	FrameID  string
	Expected int
	Actual   int
}

func (e *Conflict) Error() string {
	return fmt.Sprintf("frame %s version conflict: expected %d, found %d", e.FrameID, e.Expected, e.Actual)
}

// Store persists frames and snapshots. Snapshots are written pending first
// and become readable only after FinalizeSnapshot; SaveFrame is a CAS on
// the frame version (expectedVersion 0 creates).
type Store interface {
	SaveFrame(f *ExecutionFrame, expectedVersion int) error
	LoadFrame(frameID string) (*ExecutionFrame, error)
	ListFrames() ([]*ExecutionFrame, error)
	DeleteFrame(frameID string) error

	PutPendingSnapshot(snap *StoredSnapshot) error
	FinalizeSnapshot(snapshotID string) error
	LoadSnapshot(snapshotID string) (*StoredSnapshot, error)
	DeleteSnapshot(snapshotID string) error

	// CollectOrphans removes pending snapshots older than the given age.
	CollectOrphans(olderThan time.Duration) (int, error)

	Close() error
}

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	frames    map[string]*ExecutionFrame
	final     map[string]*StoredSnapshot
	pending   map[string]*StoredSnapshot
	pendingAt map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		frames:    map[string]*ExecutionFrame{},
		final:     map[string]*StoredSnapshot{},
		pending:   map[string]*StoredSnapshot{},
		pendingAt: map[string]time.Time{},
	}
}

func (s *MemoryStore) SaveFrame(f *ExecutionFrame, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.frames[f.FrameID]
	if expectedVersion == 0 {
		if exists {
			return &Conflict{FrameID: f.FrameID, Expected: 0, Actual: current.Version}
		}
	} else {
		if !exists {
			return fmt.Errorf("frame %s: %w", f.FrameID, ErrNotFound)
		}
		if current.Version != expectedVersion {
			return &Conflict{FrameID: f.FrameID, Expected: expectedVersion, Actual: current.Version}
		}
	}
	s.frames[f.FrameID] = f.Clone()
	return nil
}

func (s *MemoryStore) LoadFrame(frameID string) (*ExecutionFrame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.frames[frameID]
	if !ok {
		return nil, fmt.Errorf("frame %s: %w", frameID, ErrNotFound)
	}
	return f.Clone(), nil
}

func (s *MemoryStore) ListFrames() ([]*ExecutionFrame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ExecutionFrame, 0, len(s.frames))
	for _, f := range s.frames {
		out = append(out, f.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) DeleteFrame(frameID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.frames, frameID)
	return nil
}

func (s *MemoryStore) PutPendingSnapshot(snap *StoredSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[snap.SnapshotID] = snap
	s.pendingAt[snap.SnapshotID] = time.Now()
	return nil
}

func (s *MemoryStore) FinalizeSnapshot(snapshotID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.pending[snapshotID]
	if !ok {
		return fmt.Errorf("pending snapshot %s: %w", snapshotID, ErrNotFound)
	}
	delete(s.pending, snapshotID)
	delete(s.pendingAt, snapshotID)
	s.final[snapshotID] = snap
	return nil
}

func (s *MemoryStore) LoadSnapshot(snapshotID string) (*StoredSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.final[snapshotID]
	if !ok {
		return nil, fmt.Errorf("snapshot %s: %w", snapshotID, ErrNotFound)
	}
	return snap, nil
}

func (s *MemoryStore) DeleteSnapshot(snapshotID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.final, snapshotID)
	delete(s.pending, snapshotID)
	delete(s.pendingAt, snapshotID)
	return nil
}

func (s *MemoryStore) CollectOrphans(olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for id, at := range s.pendingAt {
		if at.Before(cutoff) {
			delete(s.pending, id)
			delete(s.pendingAt, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Close() error { return nil }
