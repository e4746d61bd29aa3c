package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "bidsession"

// RedisStore persists the key-space in Redis: the snapshot as one hash with
// the flat field set, the challenge slot as a separate JSON string key. It
// serves kiosk/edge deployments that share one snapshot key-space between
// processes; failure handling is the same discard-and-log contract as the
// file store.
type RedisStore struct {
	redis  *redis.Client
	prefix string
}

// NewRedisStore creates a RedisStore on the given client. An empty prefix
// falls back to "bidsession".
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) sessionKey() string   { return s.prefix + ":session" }
func (s *RedisStore) challengeKey() string { return s.prefix + ":challenge" }

// Load describes the load operation and its observable behavior.
//
// Load may return an error when input validation, dependency calls, or security checks fail.
// Load does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *RedisStore) Load(ctx context.Context) (*Snapshot, error) {
	fields, err := s.redis.HGetAll(ctx, s.sessionKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("snapshot: redis load: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	snap := &Snapshot{
		Token:          fields[KeyToken],
		RefreshToken:   fields[KeyRefreshToken],
		SessionTokenID: fields[KeySessionTokenID],
	}
	if raw, ok := fields[KeyUser]; ok && raw != "" {
		if !json.Valid([]byte(raw)) {
			return nil, errors.Join(ErrCorrupt, errors.New("user field is not valid json"))
		}
		snap.User = json.RawMessage(raw)
	}
	return validateLoaded(snap)
}

// Save describes the save operation and its observable behavior.
//
// Save may return an error when input validation, dependency calls, or security checks fail.
// Save does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *RedisStore) Save(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return errors.New("snapshot: nil snapshot")
	}
	fields := map[string]any{
		KeyToken:          snap.Token,
		KeyRefreshToken:   snap.RefreshToken,
		KeySessionTokenID: snap.SessionTokenID,
		KeyUser:           string(snap.User),
	}
	if err := s.redis.HSet(ctx, s.sessionKey(), fields).Err(); err != nil {
		return fmt.Errorf("snapshot: redis save: %w", err)
	}
	return nil
}

// Clear describes the clear operation and its observable behavior.
//
// Clear may return an error when input validation, dependency calls, or security checks fail.
// Clear does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.redis.Del(ctx, s.sessionKey()).Err(); err != nil {
		return fmt.Errorf("snapshot: redis clear: %w", err)
	}
	return nil
}

// LoadChallenge describes the loadchallenge operation and its observable behavior.
//
// LoadChallenge may return an error when input validation, dependency calls, or security checks fail.
// LoadChallenge does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *RedisStore) LoadChallenge(ctx context.Context) (*ChallengeRecord, error) {
	data, err := s.redis.Get(ctx, s.challengeKey()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("snapshot: redis load challenge: %w", err)
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
func (s *RedisStore) SaveChallenge(ctx context.Context, rec *ChallengeRecord) error {
	if rec == nil || rec.ChallengeID == "" {
		return errors.New("snapshot: challenge record missing id")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("snapshot: encode challenge: %w", err)
	}
	if err := s.redis.Set(ctx, s.challengeKey(), data, 0).Err(); err != nil {
		return fmt.Errorf("snapshot: redis save challenge: %w", err)
	}
	return nil
}

// ClearChallenge describes the clearchallenge operation and its observable behavior.
//
// ClearChallenge may return an error when input validation, dependency calls, or security checks fail.
// ClearChallenge does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (s *RedisStore) ClearChallenge(ctx context.Context) error {
	if err := s.redis.Del(ctx, s.challengeKey()).Err(); err != nil {
		return fmt.Errorf("snapshot: redis clear challenge: %w", err)
	}
	return nil
}
