package snapshot

import (
	"context"
	"encoding/json"
	"errors"
)

// Flat key set of the persisted key-space. These names are the wire format of
// the storage layer and must not change without a migration.
const (
	KeyToken          = "token"
	KeyRefreshToken   = "refreshToken"
	KeySessionTokenID = "sessionTokenId"
	KeyUser           = "user"
)

var (
	// ErrCorrupt is an exported constant or variable used by the session core.
	// Load and LoadChallenge wrap it when a persisted entry cannot be decoded
	// or carries a torn triple; callers clear the slot and continue signed out.
	ErrCorrupt = errors.New("corrupt persisted entry")
)

// Snapshot is the full persisted credential snapshot. User holds the
// serialized profile exactly as stored; the session core owns its schema.
type Snapshot struct {
	Token          string          `json:"token"`
	RefreshToken   string          `json:"refreshToken"`
	SessionTokenID string          `json:"sessionTokenId"`
	User           json.RawMessage `json:"user"`
}

// Complete reports whether the snapshot carries the whole credential triple.
func (s *Snapshot) Complete() bool {
	return s != nil && s.Token != "" && s.RefreshToken != "" && s.SessionTokenID != ""
}

// ChallengeRecord is the minimal persisted two-factor challenge: the token
// identifying it server-side plus presentation hints. Credentials are never
// stored here.
type ChallengeRecord struct {
	ChallengeID string `json:"challengeId"`
	Email       string `json:"email,omitempty"`
	RedirectTo  string `json:"redirectTo,omitempty"`
	CreatedAt   int64  `json:"createdAt"`
}

// Store is the persistence contract consumed by the session core.
//
// Load returns (nil, nil) when no snapshot exists and an [ErrCorrupt]-wrapped
// error when one exists but cannot be restored; it never partially restores.
// Save always writes the full key set; Clear removes it entirely. The
// challenge slot is independent of the snapshot slot.
type Store interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
	Clear(ctx context.Context) error

	LoadChallenge(ctx context.Context) (*ChallengeRecord, error)
	SaveChallenge(ctx context.Context, rec *ChallengeRecord) error
	ClearChallenge(ctx context.Context) error
}

func validateLoaded(snap *Snapshot) (*Snapshot, error) {
	if snap == nil {
		return nil, nil
	}
	if snap.Token == "" && snap.RefreshToken == "" && snap.SessionTokenID == "" && len(snap.User) == 0 {
		return nil, nil
	}
	if !snap.Complete() {
		return nil, errors.Join(ErrCorrupt, errors.New("incomplete credential triple"))
	}
	return snap, nil
}
