package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	sessionFileName   = "session.json"
	challengeFileName = "challenge.json"
	fileMode          = 0o600
	dirMode           = 0o700
)

// FileStore persists the key-space as JSON files under a directory, one file
// per slot. Writes go through a temp file and rename so a crash never leaves
// a half-written snapshot behind.
type FileStore struct {
	dir string
}

// NewFileStore creates a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("snapshot: dir must not be empty")
	}
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, fmt.Errorf("snapshot: create dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Load describes the load operation and its observable behavior.
//
// Load may return an error when input validation, dependency calls, or security checks fail.
// Load does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *FileStore) Load(_ context.Context) (*Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, sessionFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("snapshot: read session file: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errors.Join(ErrCorrupt, err)
	}
	return validateLoaded(&snap)
}

// Save describes the save operation and its observable behavior.
//
// Save may return an error when input validation, dependency calls, or security checks fail.
// Save does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *FileStore) Save(_ context.Context, snap *Snapshot) error {
	if snap == nil {
		return errors.New("snapshot: nil snapshot")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("snapshot: encode session: %w", err)
	}
	return s.writeAtomic(sessionFileName, data)
}

// Clear describes the clear operation and its observable behavior.
//
// Clear may return an error when input validation, dependency calls, or security checks fail.
// Clear does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *FileStore) Clear(_ context.Context) error {
	return removeIfPresent(filepath.Join(s.dir, sessionFileName))
}

// LoadChallenge describes the loadchallenge operation and its observable behavior.
//
// LoadChallenge may return an error when input validation, dependency calls, or security checks fail.
// LoadChallenge does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *FileStore) LoadChallenge(_ context.Context) (*ChallengeRecord, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, challengeFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("snapshot: read challenge file: %w", err)
	}

	var rec ChallengeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Join(ErrCorrupt, err)
	}
	if rec.ChallengeID == "" {
		return nil, errors.Join(ErrCorrupt, errors.New("challenge record missing id"))
	}
	return &rec, nil
}

// SaveChallenge describes the savechallenge operation and its observable behavior.
//
// SaveChallenge may return an error when input validation, dependency calls, or security checks fail.
// SaveChallenge does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *FileStore) SaveChallenge(_ context.Context, rec *ChallengeRecord) error {
	if rec == nil || rec.ChallengeID == "" {
		return errors.New("snapshot: challenge record missing id")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("snapshot: encode challenge: %w", err)
	}
	return s.writeAtomic(challengeFileName, data)
}

// ClearChallenge describes the clearchallenge operation and its observable behavior.
//
// ClearChallenge may return an error when input validation, dependency calls, or security checks fail.
// ClearChallenge does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *FileStore) ClearChallenge(_ context.Context) error {
	return removeIfPresent(filepath.Join(s.dir, challengeFileName))
}

func (s *FileStore) writeAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("snapshot: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("snapshot: write temp file: %w", err)
	}
	if err := tmp.Chmod(fileMode); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("snapshot: chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("snapshot: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("snapshot: rename temp file: %w", err)
	}
	return nil
}

func removeIfPresent(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("snapshot: remove %s: %w", filepath.Base(path), err)
	}
	return nil
}
