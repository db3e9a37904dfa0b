// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package frames

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	createFramesTableSQL = `
CREATE TABLE IF NOT EXISTS frames (
    frame_id VARCHAR(255) PRIMARY KEY,
    version INTEGER NOT NULL,
    data TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
)`

	createSnapshotsTableSQL = `
CREATE TABLE IF NOT EXISTS snapshots (
    snapshot_id VARCHAR(255) PRIMARY KEY,
    frame_id VARCHAR(255) NOT NULL,
    finalized INTEGER NOT NULL DEFAULT 0,
    data TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
)`

	createSnapshotsFrameIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_snapshots_frame_id ON snapshots(frame_id)`
)

// SQLiteStore keeps frames and snapshots in a single sqlite database.
// Finalization flips a flag inside a transaction, which gives the same
// pending/finalized visibility as the filesystem rename.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dir string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", filepath.Join(dir, "frames.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open frames database: %w", err)
	}
	// sqlite serializes writers; a single connection avoids lock errors
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{createFramesTableSQL, createSnapshotsTableSQL, createSnapshotsFrameIndexSQL} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize frames schema: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveFrame(f *ExecutionFrame, expectedVersion int) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}

	if expectedVersion == 0 {
		_, err := s.db.Exec(
			`INSERT INTO frames (frame_id, version, data, created_at) VALUES (?, ?, ?, ?)`,
			f.FrameID, f.Version, string(data), f.CreatedAt)
		if err != nil {
			if actual, lookupErr := s.currentVersion(f.FrameID); lookupErr == nil {
				return &Conflict{FrameID: f.FrameID, Expected: 0, Actual: actual}
			}
			return err
		}
		return nil
	}

	res, err := s.db.Exec(
		`UPDATE frames SET version = ?, data = ? WHERE frame_id = ? AND version = ?`,
		f.Version, string(data), f.FrameID, expectedVersion)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		actual, lookupErr := s.currentVersion(f.FrameID)
		if lookupErr != nil {
			return fmt.Errorf("frame %s: %w", f.FrameID, ErrNotFound)
		}
		return &Conflict{FrameID: f.FrameID, Expected: expectedVersion, Actual: actual}
	}
	return nil
}

func (s *SQLiteStore) currentVersion(frameID string) (int, error) {
	var version int
	err := s.db.QueryRow(`SELECT version FROM frames WHERE frame_id = ?`, frameID).Scan(&version)
	return version, err
}

func (s *SQLiteStore) LoadFrame(frameID string) (*ExecutionFrame, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM frames WHERE frame_id = ?`, frameID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("frame %s: %w", frameID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var f ExecutionFrame
	if err := json.Unmarshal([]byte(data), &f); err != nil {
		return nil, fmt.Errorf("corrupt frame %s: %w", frameID, err)
	}
	return &f, nil
}

func (s *SQLiteStore) ListFrames() ([]*ExecutionFrame, error) {
	rows, err := s.db.Query(`SELECT data FROM frames ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ExecutionFrame
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var f ExecutionFrame
		if err := json.Unmarshal([]byte(data), &f); err != nil {
			continue
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteFrame(frameID string) error {
	_, err := s.db.Exec(`DELETE FROM frames WHERE frame_id = ?`, frameID)
	return err
}

func (s *SQLiteStore) PutPendingSnapshot(snap *StoredSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO snapshots (snapshot_id, frame_id, finalized, data, created_at)
		 VALUES (?, ?, 0, ?, ?)`,
		snap.SnapshotID, snap.FrameID, string(data), snap.Timestamp)
	return err
}

func (s *SQLiteStore) FinalizeSnapshot(snapshotID string) error {
	res, err := s.db.Exec(`UPDATE snapshots SET finalized = 1 WHERE snapshot_id = ? AND finalized = 0`, snapshotID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("pending snapshot %s: %w", snapshotID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) LoadSnapshot(snapshotID string) (*StoredSnapshot, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM snapshots WHERE snapshot_id = ? AND finalized = 1`, snapshotID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("snapshot %s: %w", snapshotID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var snap StoredSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("corrupt snapshot %s: %w", snapshotID, err)
	}
	return &snap, nil
}

func (s *SQLiteStore) DeleteSnapshot(snapshotID string) error {
	_, err := s.db.Exec(`DELETE FROM snapshots WHERE snapshot_id = ?`, snapshotID)
	return err
}

func (s *SQLiteStore) CollectOrphans(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := s.db.Exec(`DELETE FROM snapshots WHERE finalized = 0 AND created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
