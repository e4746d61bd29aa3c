package snapshot

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store for tests and ephemeral sessions.
type MemoryStore struct {
	mu        sync.Mutex
	snap      *Snapshot
	challenge *ChallengeRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load describes the load operation and its observable behavior.
//
// Load may return an error when input validation, dependency calls, or security checks fail.
// Load does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *MemoryStore) Load(_ context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return nil, nil
	}
	cp := *s.snap
	cp.User = append([]byte(nil), s.snap.User...)
	return validateLoaded(&cp)
}

// Save describes the save operation and its observable behavior.
//
// Save may return an error when input validation, dependency calls, or security checks fail.
// Save does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *MemoryStore) Save(_ context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *snap
	cp.User = append([]byte(nil), snap.User...)
	s.snap = &cp
	return nil
}

// Clear describes the clear operation and its observable behavior.
//
// Clear may return an error when input validation, dependency calls, or security checks fail.
// Clear does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = nil
	return nil
}

// LoadChallenge describes the loadchallenge operation and its observable behavior.
//
// LoadChallenge may return an error when input validation, dependency calls, or security checks fail.
// LoadChallenge does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *MemoryStore) LoadChallenge(_ context.Context) (*ChallengeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.challenge == nil {
		return nil, nil
	}
	cp := *s.challenge
	return &cp, nil
}

// SaveChallenge describes the savechallenge operation and its observable behavior.
//
// SaveChallenge may return an error when input validation, dependency calls, or security checks fail.
// SaveChallenge does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *MemoryStore) SaveChallenge(_ context.Context, rec *ChallengeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.challenge = &cp
	return nil
}

// ClearChallenge describes the clearchallenge operation and its observable behavior.
//
// ClearChallenge may return an error when input validation, dependency calls, or security checks fail.
// ClearChallenge does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *MemoryStore) ClearChallenge(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenge = nil
	return nil
}
