package bidsession

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lotline/bidsession/snapshot"
)

func newTestCoordinator(t *testing.T, api *fakeAPI, store snapshot.Store) *challengeCoordinator {
	t.Helper()
	if store == nil {
		store = snapshot.NewMemoryStore()
	}
	return newChallengeCoordinator(api, store, zap.NewNop(),
		NewMetrics(MetricsConfig{Enabled: true}),
		fixedClock{now: time.Unix(1_700_000_000, 0)},
		ChallengeConfig{PersistSlot: true})
}

func TestVerifyWithoutChallenge(t *testing.T) {
	coord := newTestCoordinator(t, &fakeAPI{}, nil)

	if _, err := coord.verify(context.Background(), "123456", ChallengeModeOTP); !errors.Is(err, ErrNoChallenge) {
		t.Fatalf("expected ErrNoChallenge, got %v", err)
	}
}

func TestVerifyRequiresCode(t *testing.T) {
	coord := newTestCoordinator(t, &fakeAPI{}, nil)
	coord.create(context.Background(), &ChallengeRequiredError{ChallengeID: "ch-1"})

	if _, err := coord.verify(context.Background(), "", ChallengeModeOTP); !errors.Is(err, ErrChallengeCodeMissing) {
		t.Fatalf("expected ErrChallengeCodeMissing, got %v", err)
	}
	if got := coord.current().State; got != ChallengeCreated {
		t.Fatalf("expected slot to stay retryable, got %s", got)
	}
}

func TestVerifyConsumesChallenge(t *testing.T) {
	api := &fakeAPI{
		verifyFn: func(req VerifyRequest) (*LoginPayload, error) {
			if req.ChallengeID != "ch-1" || req.Mode != ChallengeModeRecovery {
				t.Errorf("unexpected verify request: %+v", req)
			}
			return testPayload("1"), nil
		},
	}
	store := snapshot.NewMemoryStore()
	coord := newTestCoordinator(t, api, store)
	coord.create(context.Background(), &ChallengeRequiredError{ChallengeID: "ch-1"})

	payload, err := coord.verify(context.Background(), "recovery-code", ChallengeModeRecovery)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if payload.Credentials.SessionTokenID != "sess-1" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if coord.current() != nil {
		t.Fatal("expected slot cleared after consumption")
	}
	if rec, _ := store.LoadChallenge(context.Background()); rec != nil {
		t.Fatal("expected persisted record cleared after consumption")
	}

	// Single use: a second verify finds nothing.
	if _, err := coord.verify(context.Background(), "recovery-code", ChallengeModeRecovery); !errors.Is(err, ErrNoChallenge) {
		t.Fatalf("expected ErrNoChallenge after consumption, got %v", err)
	}
}

func TestVerifyRejectionTaxonomy(t *testing.T) {
	cases := []struct {
		name      string
		apiErr    error
		wantErr   error
		wantState ChallengeState
	}{
		{"rate limited", &APIError{Status: 429}, ErrChallengeRateLimited, ChallengeCreated},
		{"wrong code", &APIError{Status: 401}, ErrChallengeVerificationFailed, ChallengeCreated},
		{"forbidden", &APIError{Status: 403}, ErrChallengeVerificationFailed, ChallengeCreated},
		{"unknown challenge", &APIError{Status: 404}, ErrChallengeExpired, ChallengeExpired},
		{"gone challenge", &APIError{Status: 410}, ErrChallengeExpired, ChallengeExpired},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api := &fakeAPI{
				verifyFn: func(VerifyRequest) (*LoginPayload, error) { return nil, tc.apiErr },
			}
			coord := newTestCoordinator(t, api, nil)
			coord.create(context.Background(), &ChallengeRequiredError{ChallengeID: "ch-1"})

			_, err := coord.verify(context.Background(), "123456", ChallengeModeOTP)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if got := coord.current().State; got != tc.wantState {
				t.Fatalf("expected state %s, got %s", tc.wantState, got)
			}
		})
	}
}

func TestVerifyTransientErrorStaysRetryable(t *testing.T) {
	transient := errors.New("connection reset")
	api := &fakeAPI{
		verifyFn: func(VerifyRequest) (*LoginPayload, error) { return nil, transient },
	}
	coord := newTestCoordinator(t, api, nil)
	coord.create(context.Background(), &ChallengeRequiredError{ChallengeID: "ch-1"})

	_, err := coord.verify(context.Background(), "123456", ChallengeModeOTP)
	if !errors.Is(err, transient) {
		t.Fatalf("expected raw transient error, got %v", err)
	}
	if got := coord.current().State; got != ChallengeCreated {
		t.Fatalf("expected slot to stay retryable, got %s", got)
	}

	// The retry succeeds.
	api.mu.Lock()
	api.verifyFn = func(VerifyRequest) (*LoginPayload, error) { return testPayload("1"), nil }
	api.mu.Unlock()
	if _, err := coord.verify(context.Background(), "123456", ChallengeModeOTP); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
}

func TestExpiredChallengeRejectsFurtherVerifies(t *testing.T) {
	api := &fakeAPI{
		verifyFn: func(VerifyRequest) (*LoginPayload, error) { return nil, &APIError{Status: 410} },
	}
	coord := newTestCoordinator(t, api, nil)
	coord.create(context.Background(), &ChallengeRequiredError{ChallengeID: "ch-1"})

	if _, err := coord.verify(context.Background(), "123456", ChallengeModeOTP); !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected ErrChallengeExpired, got %v", err)
	}
	if _, err := coord.verify(context.Background(), "123456", ChallengeModeOTP); !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected ErrChallengeExpired on retry, got %v", err)
	}
}

func TestCancelClearsSlotAndRecord(t *testing.T) {
	store := snapshot.NewMemoryStore()
	coord := newTestCoordinator(t, &fakeAPI{}, store)
	coord.create(context.Background(), &ChallengeRequiredError{ChallengeID: "ch-1"})

	if !coord.cancel(context.Background()) {
		t.Fatal("expected cancel to act on a pending challenge")
	}
	if coord.cancel(context.Background()) {
		t.Fatal("expected second cancel to be a no-op")
	}
	if coord.current() != nil {
		t.Fatal("expected slot cleared")
	}
	if rec, _ := store.LoadChallenge(context.Background()); rec != nil {
		t.Fatal("expected persisted record cleared")
	}
}

func TestRestoreReloadsPersistedChallenge(t *testing.T) {
	store := snapshot.NewMemoryStore()
	first := newTestCoordinator(t, &fakeAPI{}, store)
	first.create(context.Background(), &ChallengeRequiredError{
		ChallengeID: "ch-1",
		Email:       "bidder@example.com",
		RedirectTo:  "/auctions/42",
	})

	// A fresh coordinator simulates a process restart.
	second := newTestCoordinator(t, &fakeAPI{}, store)
	second.restore(context.Background())

	challenge := second.current()
	if challenge == nil || challenge.ID != "ch-1" || challenge.State != ChallengeCreated {
		t.Fatalf("unexpected restored challenge: %+v", challenge)
	}
	if challenge.Email != "bidder@example.com" || challenge.RedirectTo != "/auctions/42" {
		t.Fatalf("expected email and redirect carried across restart, got %+v", challenge)
	}
}
