// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package frames

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const pendingSuffix = ".pending"

// journalEntry marks a frame save whose snapshot may not be finalized yet.
// Recovery finalizes the snapshot when the frame already points at it.
type journalEntry struct {
	FrameID    string `json:"frame_id"`
	SnapshotID string `json:"snapshot_id"`
	Version    int    `json:"version"`
}

// FilesystemStore persists frames and snapshots as JSON files. Snapshot
// finalization is an atomic rename; frame saves go through a temp file
// rename guarded by a journal.
type FilesystemStore struct {
	dir string
	mu  sync.Mutex
}

func NewFilesystemStore(dir string) (*FilesystemStore, error) {
	for _, sub := range []string{"frames", "snapshots"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	s := &FilesystemStore{dir: dir}
	if err := s.recover(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FilesystemStore) framePath(id string) string {
	return filepath.Join(s.dir, "frames", id+".json")
}

func (s *FilesystemStore) snapshotPath(id string, pending bool) string {
	p := filepath.Join(s.dir, "snapshots", id+".json")
	if pending {
		p += pendingSuffix
	}
	return p
}

func (s *FilesystemStore) journalPath() string {
	return filepath.Join(s.dir, "journal.jsonl")
}

// recover completes interrupted commits: a frame already pointing at a
// still-pending snapshot gets that snapshot finalized. Untracked pending
// snapshots are left to orphan collection.
func (s *FilesystemStore) recover() error {
	data, err := os.ReadFile(s.journalPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read journal: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var entry journalEntry
		if json.Unmarshal([]byte(line), &entry) != nil {
			continue
		}
		frame, err := s.LoadFrame(entry.FrameID)
		if err != nil {
			continue
		}
		pending := s.snapshotPath(entry.SnapshotID, true)
		if frame.ContextSnapshotID == entry.SnapshotID {
			if _, err := os.Stat(pending); err == nil {
				if err := os.Rename(pending, s.snapshotPath(entry.SnapshotID, false)); err != nil {
					return fmt.Errorf("failed to finalize snapshot %s: %w", entry.SnapshotID, err)
				}
			}
		}
	}
	return os.Remove(s.journalPath())
}

func (s *FilesystemStore) SaveFrame(f *ExecutionFrame, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.framePath(f.FrameID)
	current, err := s.loadFrameLocked(f.FrameID)
	switch {
	case expectedVersion == 0:
		if err == nil {
			return &Conflict{FrameID: f.FrameID, Expected: 0, Actual: current.Version}
		}
	case err != nil:
		return err
	case current.Version != expectedVersion:
		return &Conflict{FrameID: f.FrameID, Expected: expectedVersion, Actual: current.Version}
	}

	if err := s.appendJournal(journalEntry{
		FrameID: f.FrameID, SnapshotID: f.ContextSnapshotID, Version: f.Version,
	}); err != nil {
		return err
	}
	return writeJSONAtomic(path, f)
}

func (s *FilesystemStore) appendJournal(entry journalEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	file, err := os.OpenFile(s.journalPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer file.Close()
	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append journal: %w", err)
	}
	return file.Sync()
}

func (s *FilesystemStore) LoadFrame(frameID string) (*ExecutionFrame, error) {
	return s.loadFrameLocked(frameID)
}

func (s *FilesystemStore) loadFrameLocked(frameID string) (*ExecutionFrame, error) {
	data, err := os.ReadFile(s.framePath(frameID))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("frame %s: %w", frameID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var f ExecutionFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("corrupt frame %s: %w", frameID, err)
	}
	return &f, nil
}

func (s *FilesystemStore) ListFrames() ([]*ExecutionFrame, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, "frames"))
	if err != nil {
		return nil, err
	}
	var out []*ExecutionFrame
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		f, err := s.loadFrameLocked(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func (s *FilesystemStore) DeleteFrame(frameID string) error {
	err := os.Remove(s.framePath(frameID))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *FilesystemStore) PutPendingSnapshot(snap *StoredSnapshot) error {
	return writeJSONAtomic(s.snapshotPath(snap.SnapshotID, true), snap)
}

func (s *FilesystemStore) FinalizeSnapshot(snapshotID string) error {
	err := os.Rename(s.snapshotPath(snapshotID, true), s.snapshotPath(snapshotID, false))
	if os.IsNotExist(err) {
		return fmt.Errorf("pending snapshot %s: %w", snapshotID, ErrNotFound)
	}
	return err
}

func (s *FilesystemStore) LoadSnapshot(snapshotID string) (*StoredSnapshot, error) {
	data, err := os.ReadFile(s.snapshotPath(snapshotID, false))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("snapshot %s: %w", snapshotID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var snap StoredSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("corrupt snapshot %s: %w", snapshotID, err)
	}
	return &snap, nil
}

func (s *FilesystemStore) DeleteSnapshot(snapshotID string) error {
	for _, pending := range []bool{false, true} {
		if err := os.Remove(s.snapshotPath(snapshotID, pending)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func (s *FilesystemStore) CollectOrphans(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, "snapshots"))
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), pendingSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if os.Remove(filepath.Join(s.dir, "snapshots", entry.Name())) == nil {
			removed++
		}
	}
	return removed, nil
}

func (s *FilesystemStore) Close() error { return nil }

func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
