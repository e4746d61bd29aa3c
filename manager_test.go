package bidsession

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lotline/bidsession/snapshot"
)

type fakeAPI struct {
	mu             sync.Mutex
	loginFn        func(LoginRequest) (*LoginPayload, error)
	remainingFn    func(string) (*KeepAlivePayload, error)
	verifyFn       func(VerifyRequest) (*LoginPayload, error)
	remainingCalls int
}

func (f *fakeAPI) Login(_ context.Context, req LoginRequest) (*LoginPayload, error) {
	f.mu.Lock()
	fn := f.loginFn
	f.mu.Unlock()
	if fn == nil {
		return nil, errors.New("no login stub")
	}
	return fn(req)
}

func (f *fakeAPI) SessionRemaining(_ context.Context, sessionTokenID string) (*KeepAlivePayload, error) {
	f.mu.Lock()
	f.remainingCalls++
	fn := f.remainingFn
	f.mu.Unlock()
	if fn == nil {
		remaining := int64(3600)
		return &KeepAlivePayload{RemainingSeconds: &remaining}, nil
	}
	return fn(sessionTokenID)
}

func (f *fakeAPI) VerifyChallenge(_ context.Context, req VerifyRequest) (*LoginPayload, error) {
	f.mu.Lock()
	fn := f.verifyFn
	f.mu.Unlock()
	if fn == nil {
		return nil, errors.New("no verify stub")
	}
	return fn(req)
}

func (f *fakeAPI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remainingCalls
}

type fakeSub struct {
	channel *fakeChannel
	params  map[string]string
	fn      func([]byte)
	closed  bool
}

func (s *fakeSub) Unsubscribe() {
	s.channel.mu.Lock()
	s.closed = true
	s.channel.mu.Unlock()
}

type fakeChannel struct {
	mu      sync.Mutex
	subs    []*fakeSub
	failErr error
}

func (c *fakeChannel) Subscribe(_ context.Context, _ string, params map[string]string, fn func([]byte)) (Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failErr != nil {
		return nil, c.failErr
	}
	sub := &fakeSub{channel: c, params: params, fn: fn}
	c.subs = append(c.subs, sub)
	return sub, nil
}

func (c *fakeChannel) active() []*fakeSub {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeSub
	for _, sub := range c.subs {
		if !sub.closed {
			out = append(out, sub)
		}
	}
	return out
}

func (c *fakeChannel) push(message string) {
	c.mu.Lock()
	var fns []func([]byte)
	for _, sub := range c.subs {
		if !sub.closed {
			fns = append(fns, sub.fn)
		}
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn([]byte(message))
	}
}

func testPayload(suffix string) *LoginPayload {
	return &LoginPayload{
		Credentials: Credentials{
			AccessToken:    "access-" + suffix,
			RefreshToken:   "refresh-" + suffix,
			SessionTokenID: "sess-" + suffix,
		},
		User: User{ID: 7, Email: "bidder@example.com", BidCredits: 150},
	}
}

func newTestManager(t *testing.T, api *fakeAPI, channel *fakeChannel) (*SessionManager, *snapshot.MemoryStore) {
	t.Helper()

	store := snapshot.NewMemoryStore()
	builder := New().
		WithAPI(api).
		WithStore(store).
		WithPollInterval(20 * time.Millisecond)
	if channel != nil {
		builder = builder.WithPushChannel(channel)
	}

	manager, err := builder.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(manager.Close)
	return manager, store
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestLoginEstablishesSessionAndPersists(t *testing.T) {
	api := &fakeAPI{
		loginFn: func(LoginRequest) (*LoginPayload, error) { return testPayload("1"), nil },
	}
	channel := &fakeChannel{}
	manager, store := newTestManager(t, api, channel)

	session, err := manager.Login(context.Background(), LoginRequest{Email: "bidder@example.com", Password: "pw"})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !session.SignedIn() {
		t.Fatal("expected signed-in session after login")
	}
	if session.User == nil || session.User.Email != "bidder@example.com" {
		t.Fatalf("unexpected user: %+v", session.User)
	}

	snap, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if snap == nil || snap.Token != "access-1" || snap.SessionTokenID != "sess-1" {
		t.Fatalf("unexpected persisted snapshot: %+v", snap)
	}

	subs := channel.active()
	if len(subs) != 1 {
		t.Fatalf("expected one active subscription, got %d", len(subs))
	}
	if subs[0].params["token"] != "access-1" || subs[0].params["session_token_id"] != "sess-1" {
		t.Fatalf("unexpected subscription params: %v", subs[0].params)
	}
}

func TestLoginChallengeRequiredThenVerify(t *testing.T) {
	api := &fakeAPI{
		loginFn: func(LoginRequest) (*LoginPayload, error) {
			return nil, &ChallengeRequiredError{ChallengeID: "ch-1", Email: "bidder@example.com"}
		},
		verifyFn: func(req VerifyRequest) (*LoginPayload, error) {
			if req.ChallengeID != "ch-1" || req.Code != "123456" || req.Mode != ChallengeModeOTP {
				t.Errorf("unexpected verify request: %+v", req)
			}
			return testPayload("1"), nil
		},
	}
	manager, _ := newTestManager(t, api, &fakeChannel{})

	_, err := manager.Login(context.Background(), LoginRequest{Email: "bidder@example.com", Password: "pw"})
	if !errors.Is(err, ErrChallengeRequired) {
		t.Fatalf("expected ErrChallengeRequired, got %v", err)
	}
	challenge := manager.CurrentChallenge()
	if challenge == nil || challenge.ID != "ch-1" || challenge.State != ChallengeCreated {
		t.Fatalf("unexpected challenge: %+v", challenge)
	}

	session, err := manager.VerifyChallenge(context.Background(), "123456", ChallengeModeOTP)
	if err != nil {
		t.Fatalf("VerifyChallenge failed: %v", err)
	}
	if !session.SignedIn() {
		t.Fatal("expected signed-in session after verification")
	}
	if manager.CurrentChallenge() != nil {
		t.Fatal("expected challenge slot cleared after consumption")
	}
}

func TestFullLoginClearsPendingChallenge(t *testing.T) {
	demand := true
	api := &fakeAPI{}
	api.loginFn = func(LoginRequest) (*LoginPayload, error) {
		api.mu.Lock()
		pending := demand
		demand = false
		api.mu.Unlock()
		if pending {
			return nil, &ChallengeRequiredError{ChallengeID: "ch-1"}
		}
		return testPayload("1"), nil
	}
	manager, store := newTestManager(t, api, nil)

	if _, err := manager.Login(context.Background(), LoginRequest{}); !errors.Is(err, ErrChallengeRequired) {
		t.Fatalf("expected ErrChallengeRequired, got %v", err)
	}
	if manager.CurrentChallenge() == nil {
		t.Fatal("expected a pending challenge")
	}

	// The user abandons the second factor and signs in fresh instead.
	session, err := manager.Login(context.Background(), LoginRequest{})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !session.SignedIn() {
		t.Fatal("expected signed-in session")
	}
	if manager.CurrentChallenge() != nil {
		t.Fatal("expected stale challenge cleared by the successful login")
	}
	if rec, _ := store.LoadChallenge(context.Background()); rec != nil {
		t.Fatalf("expected persisted challenge slot cleared, got %+v", rec)
	}
}

func TestApplyLoginRejectsTornTriple(t *testing.T) {
	manager, _ := newTestManager(t, &fakeAPI{}, nil)

	err := manager.ApplyLogin(context.Background(), &LoginPayload{
		Credentials: Credentials{AccessToken: "only-access"},
	})
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
	if manager.Current().SignedIn() {
		t.Fatal("expected session to stay signed out")
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	api := &fakeAPI{
		loginFn: func(LoginRequest) (*LoginPayload, error) { return testPayload("1"), nil },
	}
	manager, store := newTestManager(t, api, &fakeChannel{})

	if _, err := manager.Login(context.Background(), LoginRequest{}); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	manager.Logout(context.Background())
	manager.Logout(context.Background())

	if manager.Current().SignedIn() {
		t.Fatal("expected signed-out session")
	}
	snap, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if snap != nil {
		t.Fatalf("expected cleared snapshot, got %+v", snap)
	}
	if got := manager.MetricsSnapshot().Counters[MetricLogout]; got != 1 {
		t.Fatalf("expected one logout recorded, got %d", got)
	}
}

func TestBroadcastInvalidationSignsOut(t *testing.T) {
	api := &fakeAPI{
		loginFn: func(LoginRequest) (*LoginPayload, error) { return testPayload("1"), nil },
	}
	channel := &fakeChannel{}
	manager, _ := newTestManager(t, api, channel)

	if _, err := manager.Login(context.Background(), LoginRequest{}); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	channel.push(`{"event":"session_invalidated"}`)
	waitFor(t, time.Second, "signed-out state", func() bool {
		return !manager.Current().SignedIn()
	})
	if subs := channel.active(); len(subs) != 0 {
		t.Fatalf("expected subscription torn down, got %d active", len(subs))
	}
}

func TestUnrelatedBroadcastIsIgnored(t *testing.T) {
	api := &fakeAPI{
		loginFn: func(LoginRequest) (*LoginPayload, error) { return testPayload("1"), nil },
	}
	channel := &fakeChannel{}
	manager, _ := newTestManager(t, api, channel)

	if _, err := manager.Login(context.Background(), LoginRequest{}); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	channel.push(`{"event":"outbid"}`)
	channel.push(`not json at all`)
	time.Sleep(50 * time.Millisecond)
	if !manager.Current().SignedIn() {
		t.Fatal("expected session to survive unrelated broadcasts")
	}
}

func TestRotationRekeysSubscriptionAndKeepsPolling(t *testing.T) {
	rotated := false
	api := &fakeAPI{
		loginFn: func(LoginRequest) (*LoginPayload, error) { return testPayload("1"), nil },
	}
	api.remainingFn = func(string) (*KeepAlivePayload, error) {
		remaining := int64(3600)
		payload := &KeepAlivePayload{RemainingSeconds: &remaining}
		api.mu.Lock()
		first := !rotated
		rotated = true
		api.mu.Unlock()
		if first {
			payload.Rotation = &Credentials{
				AccessToken:    "access-2",
				RefreshToken:   "refresh-2",
				SessionTokenID: "sess-2",
			}
		}
		return payload, nil
	}
	channel := &fakeChannel{}
	manager, _ := newTestManager(t, api, channel)

	if _, err := manager.Login(context.Background(), LoginRequest{}); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	waitFor(t, time.Second, "rotated credentials", func() bool {
		return manager.Current().Credentials.AccessToken == "access-2"
	})
	waitFor(t, time.Second, "rekeyed subscription", func() bool {
		subs := channel.active()
		return len(subs) == 1 &&
			subs[0].params["token"] == "access-2" &&
			subs[0].params["session_token_id"] == "sess-2"
	})

	// The poll timer survives rotation: more keep-alives keep arriving.
	before := api.calls()
	waitFor(t, time.Second, "further keep-alives", func() bool {
		return api.calls() > before
	})
}

func TestKeepAliveExpiryForcesSignOut(t *testing.T) {
	api := &fakeAPI{
		loginFn: func(LoginRequest) (*LoginPayload, error) { return testPayload("1"), nil },
	}
	api.remainingFn = func(string) (*KeepAlivePayload, error) {
		remaining := int64(0)
		return &KeepAlivePayload{RemainingSeconds: &remaining}, nil
	}
	manager, _ := newTestManager(t, api, &fakeChannel{})

	if _, err := manager.Login(context.Background(), LoginRequest{}); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	waitFor(t, time.Second, "expiry sign-out", func() bool {
		return !manager.Current().SignedIn()
	})
	if got := manager.MetricsSnapshot().Counters[MetricSessionInvalidated]; got != 1 {
		t.Fatalf("expected one invalidation, got %d", got)
	}
}

func TestUpdateUserBalance(t *testing.T) {
	api := &fakeAPI{
		loginFn: func(LoginRequest) (*LoginPayload, error) { return testPayload("1"), nil },
	}
	manager, _ := newTestManager(t, api, nil)

	if manager.UpdateUserBalance(context.Background(), 42) {
		t.Fatal("expected balance update to be rejected while signed out")
	}

	if _, err := manager.Login(context.Background(), LoginRequest{}); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !manager.UpdateUserBalance(context.Background(), 42) {
		t.Fatal("expected balance update to be applied")
	}
	if got := manager.Current().User.BidCredits; got != 42 {
		t.Fatalf("expected balance 42, got %d", got)
	}
}

func TestOperationsRequireStart(t *testing.T) {
	manager, err := New().WithAPI(&fakeAPI{}).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer manager.Close()

	if _, err := manager.Login(context.Background(), LoginRequest{}); !errors.Is(err, ErrManagerNotStarted) {
		t.Fatalf("expected ErrManagerNotStarted, got %v", err)
	}
	if err := manager.ApplyLogin(context.Background(), testPayload("1")); !errors.Is(err, ErrManagerNotStarted) {
		t.Fatalf("expected ErrManagerNotStarted, got %v", err)
	}
}

func TestClosedManagerRejectsOperations(t *testing.T) {
	manager, _ := newTestManager(t, &fakeAPI{}, nil)
	manager.Close()

	if _, err := manager.Login(context.Background(), LoginRequest{}); !errors.Is(err, ErrManagerClosed) {
		t.Fatalf("expected ErrManagerClosed, got %v", err)
	}
}

func TestSubscribeFailureDoesNotBlockLogin(t *testing.T) {
	api := &fakeAPI{
		loginFn: func(LoginRequest) (*LoginPayload, error) { return testPayload("1"), nil },
	}
	channel := &fakeChannel{failErr: errors.New("cable down")}
	manager, _ := newTestManager(t, api, channel)

	session, err := manager.Login(context.Background(), LoginRequest{})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !session.SignedIn() {
		t.Fatal("expected signed-in session despite subscription failure")
	}
	if got := manager.MetricsSnapshot().Counters[MetricSubscribeFailure]; got != 1 {
		t.Fatalf("expected one subscribe failure, got %d", got)
	}
}
