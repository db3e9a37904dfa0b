// Copyright 2026 The Praxis Authors
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

package contexteng

import (
	"fmt"
	"sync"

	"github.com/praxislang/praxis/pkg/protocol"
)

type BucketName string

// Built-in buckets, in assembly order.
const (
	BucketSystem     BucketName = "system"
	BucketPlaybook   BucketName = "playbook"
	BucketHistory    BucketName = "history"
	BucketScratchpad BucketName = "scratchpad"
	BucketControl    BucketName = "control"
)

var assemblyOrder = []BucketName{
	BucketSystem,
	BucketPlaybook,
	BucketHistory,
	BucketScratchpad,
	BucketControl,
}

type StoreError struct {
	Bucket string
	Msg    string
	Err    error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[MessageStore] bucket %s: %s: %v", e.Bucket, e.Msg, e.Err)
	}
	return fmt.Sprintf("[MessageStore] bucket %s: %s", e.Bucket, e.Msg)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Store holds the context's messages partitioned into named buckets. The
// bucket is the unit of assembly and compression.
type Store struct {
	mu        sync.RWMutex
	buckets   map[BucketName][]protocol.Message
	urlPolicy protocol.URLPolicy
}

func NewStore() *Store {
	return NewStoreWithPolicy(protocol.DefaultURLPolicy())
}

func NewStoreWithPolicy(policy protocol.URLPolicy) *Store {
	return &Store{
		buckets:   make(map[BucketName][]protocol.Message),
		urlPolicy: policy,
	}
}

// Add validates and appends one message to a bucket.
func (s *Store) Add(bucket BucketName, msg protocol.Message) error {
	if err := msg.Validate(s.urlPolicy); err != nil {
		return &StoreError{Bucket: string(bucket), Msg: "invalid message", Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets[bucket] = append(s.buckets[bucket], msg)
	return nil
}

// Messages returns a copy of one bucket's messages.
func (s *Store) Messages(bucket BucketName) []protocol.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.buckets[bucket]
	out := make([]protocol.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// Replace swaps a bucket's contents wholesale (used by compression).
func (s *Store) Replace(bucket BucketName, msgs []protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets[bucket] = msgs
}

// Clear drops all messages of one bucket.
func (s *Store) Clear(bucket BucketName) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, bucket)
}

// Len returns the message count of one bucket.
func (s *Store) Len(bucket BucketName) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buckets[bucket])
}

// All returns the flat message list in canonical bucket order.
func (s *Store) All() []protocol.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []protocol.Message
	for _, bucket := range assemblyOrder {
		for _, m := range s.buckets[bucket] {
			out = append(out, m.Clone())
		}
	}
	return out
}

// Snapshot captures all buckets for serialization.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{Buckets: make(map[string][]protocol.Message, len(s.buckets))}
	for name, msgs := range s.buckets {
		copied := make([]protocol.Message, len(msgs))
		for i, m := range msgs {
			copied[i] = m.Clone()
		}
		snap.Buckets[string(name)] = copied
	}
	return snap
}

// Restore replaces the store contents from a snapshot.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets = make(map[BucketName][]protocol.Message, len(snap.Buckets))
	for name, msgs := range snap.Buckets {
		copied := make([]protocol.Message, len(msgs))
		for i, m := range msgs {
			copied[i] = m.Clone()
		}
		s.buckets[BucketName(name)] = copied
	}
}

type Snapshot struct {
	Buckets map[string][]protocol.Message `json:"buckets"`
}
