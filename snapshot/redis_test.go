package snapshot

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisStore(client, "test"), mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, _ := newTestRedisStore(t)

	if snap, err := store.Load(context.Background()); err != nil || snap != nil {
		t.Fatalf("expected empty load, got %+v / %v", snap, err)
	}

	saved := &Snapshot{
		Token:          "access-1",
		RefreshToken:   "refresh-1",
		SessionTokenID: "sess-1",
		User:           []byte(`{"id":7,"email":"bidder@example.com"}`),
	}
	if err := store.Save(context.Background(), saved); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Token != "access-1" || loaded.RefreshToken != "refresh-1" || loaded.SessionTokenID != "sess-1" {
		t.Fatalf("unexpected snapshot: %+v", loaded)
	}
	if string(loaded.User) != string(saved.User) {
		t.Fatalf("unexpected user payload: %s", loaded.User)
	}

	if err := store.Clear(context.Background()); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if snap, err := store.Load(context.Background()); err != nil || snap != nil {
		t.Fatalf("expected empty load after clear, got %+v / %v", snap, err)
	}
}

func TestRedisStoreUsesFlatFields(t *testing.T) {
	store, mr := newTestRedisStore(t)

	err := store.Save(context.Background(), &Snapshot{
		Token:          "access-1",
		RefreshToken:   "refresh-1",
		SessionTokenID: "sess-1",
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if got := mr.HGet("test:session", KeyToken); got != "access-1" {
		t.Fatalf("expected flat token field, got %q", got)
	}
	if got := mr.HGet("test:session", KeySessionTokenID); got != "sess-1" {
		t.Fatalf("expected flat session token id field, got %q", got)
	}
}

func TestRedisStoreRejectsCorruptUserField(t *testing.T) {
	store, mr := newTestRedisStore(t)

	mr.HSet("test:session", KeyToken, "access-1")
	mr.HSet("test:session", KeyRefreshToken, "refresh-1")
	mr.HSet("test:session", KeySessionTokenID, "sess-1")
	mr.HSet("test:session", KeyUser, "{not json")

	if _, err := store.Load(context.Background()); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestRedisStoreRejectsTornTriple(t *testing.T) {
	store, mr := newTestRedisStore(t)

	mr.HSet("test:session", KeyToken, "access-only")

	if _, err := store.Load(context.Background()); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt for torn triple, got %v", err)
	}
}

func TestRedisStoreChallengeRoundTrip(t *testing.T) {
	store, _ := newTestRedisStore(t)

	if rec, err := store.LoadChallenge(context.Background()); err != nil || rec != nil {
		t.Fatalf("expected empty challenge load, got %+v / %v", rec, err)
	}

	saved := &ChallengeRecord{ChallengeID: "ch-1", Email: "bidder@example.com", CreatedAt: 1_700_000_000}
	if err := store.SaveChallenge(context.Background(), saved); err != nil {
		t.Fatalf("SaveChallenge failed: %v", err)
	}

	loaded, err := store.LoadChallenge(context.Background())
	if err != nil {
		t.Fatalf("LoadChallenge failed: %v", err)
	}
	if loaded.ChallengeID != "ch-1" || loaded.CreatedAt != 1_700_000_000 {
		t.Fatalf("unexpected record: %+v", loaded)
	}

	if err := store.ClearChallenge(context.Background()); err != nil {
		t.Fatalf("ClearChallenge failed: %v", err)
	}
	if rec, err := store.LoadChallenge(context.Background()); err != nil || rec != nil {
		t.Fatalf("expected empty challenge after clear, got %+v / %v", rec, err)
	}
}

func TestMemoryStoreCopiesOnLoad(t *testing.T) {
	store := NewMemoryStore()

	saved := &Snapshot{
		Token:          "access-1",
		RefreshToken:   "refresh-1",
		SessionTokenID: "sess-1",
		User:           []byte(`{"id":7}`),
	}
	if err := store.Save(context.Background(), saved); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	first, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	first.Token = "mutated"
	first.User[0] = 'X'

	second, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if second.Token != "access-1" || string(second.User) != `{"id":7}` {
		t.Fatalf("expected stored snapshot unaffected by caller mutation, got %+v", second)
	}
}
