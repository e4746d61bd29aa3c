package bidsession

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/lotline/bidsession/snapshot"
)

type changeKind int

const (
	changeLogin changeKind = iota
	changeRotation
	changeInvalidate
)

// changeEvent is delivered to the manager after a state transition commits.
// It is fired outside the state lock so the handler can call back into the
// state machine.
type changeEvent struct {
	kind   changeKind
	creds  Credentials
	reason InvalidateReason
}

type pollOutcome int

const (
	pollApplied pollOutcome = iota
	pollStale
	pollExpired
)

// sessionState is the single source of truth for the session record. Every
// mutation happens under one mutex, persists to the snapshot store before the
// lock is released, and reports the transition through the changed callback
// after the lock is released. The generation counter increments on every
// credential swap; async results tagged with an older generation are dropped.
type sessionState struct {
	store   snapshot.Store
	logger  *zap.Logger
	clock   Clock
	metrics *Metrics

	discardExpired bool
	changed        func(changeEvent)

	mu        sync.Mutex
	user      *User
	creds     Credentials
	remaining *int64
	ready     bool
	gen       uint64
}

func newSessionState(store snapshot.Store, logger *zap.Logger, clock Clock, metrics *Metrics, cfg HydrationConfig, changed func(changeEvent)) *sessionState {
	return &sessionState{
		store:          store,
		logger:         logger.Named("state"),
		clock:          clock,
		metrics:        metrics,
		discardExpired: cfg.DiscardExpiredTokens,
		changed:        changed,
	}
}

func (s *sessionState) notify(ev *changeEvent) {
	if ev != nil && s.changed != nil {
		s.changed(*ev)
	}
}

// current returns a deep-copied read-only view of the session record.
func (s *sessionState) current() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Session{
		Credentials: s.creds,
		Ready:       s.ready,
		Generation:  s.gen,
	}
	if s.user != nil {
		u := *s.user
		snap.User = &u
	}
	if s.remaining != nil {
		r := *s.remaining
		snap.RemainingSeconds = &r
	}
	return snap
}

// hydrate restores a persisted snapshot, if any. A corrupt or torn snapshot is
// cleared and treated as signed-out; a snapshot whose access token is a JWT
// with a past exp claim is discarded rather than installed. Either way the
// state machine ends ready.
func (s *sessionState) hydrate(ctx context.Context) (restored bool, err error) {
	var ev *changeEvent
	defer func() { s.notify(ev) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	snap, loadErr := s.store.Load(ctx)
	switch {
	case loadErr != nil:
		if errors.Is(loadErr, snapshot.ErrCorrupt) {
			s.logger.Warn("discarding corrupt snapshot", zap.Error(loadErr))
			s.metrics.Inc(MetricHydrateDiscarded)
			if clearErr := s.store.Clear(ctx); clearErr != nil {
				s.logger.Warn("clearing corrupt snapshot failed", zap.Error(clearErr))
			}
			s.ready = true
			return false, nil
		}
		return false, loadErr

	case snap == nil:
		s.ready = true
		return false, nil
	}

	if s.discardExpired && tokenExpired(snap.Token, s.clock.Now()) {
		s.logger.Info("discarding snapshot with expired access token")
		s.metrics.Inc(MetricHydrateDiscarded)
		if clearErr := s.store.Clear(ctx); clearErr != nil {
			s.logger.Warn("clearing expired snapshot failed", zap.Error(clearErr))
		}
		s.ready = true
		return false, nil
	}

	var user *User
	if len(snap.User) > 0 {
		user = &User{}
		if jsonErr := json.Unmarshal(snap.User, user); jsonErr != nil {
			s.logger.Warn("discarding snapshot with unreadable user", zap.Error(jsonErr))
			s.metrics.Inc(MetricHydrateDiscarded)
			if clearErr := s.store.Clear(ctx); clearErr != nil {
				s.logger.Warn("clearing unreadable snapshot failed", zap.Error(clearErr))
			}
			s.ready = true
			return false, nil
		}
	}

	s.creds = Credentials{
		AccessToken:    snap.Token,
		RefreshToken:   snap.RefreshToken,
		SessionTokenID: snap.SessionTokenID,
	}
	s.user = user
	s.remaining = nil
	s.gen++
	s.ready = true
	s.metrics.Inc(MetricHydrateRestored)
	s.logger.Info("session restored from snapshot", zap.Uint64("generation", s.gen))

	ev = &changeEvent{kind: changeLogin, creds: s.creds}
	return true, nil
}

// applyLogin installs a validated login payload as the new session record.
// The credential triple is swapped whole and the generation advances, so any
// in-flight poll result for the previous credentials becomes stale.
func (s *sessionState) applyLogin(ctx context.Context, payload *LoginPayload) error {
	var ev *changeEvent
	defer func() { s.notify(ev) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	user := payload.User
	s.creds = payload.Credentials
	s.user = &user
	s.remaining = nil
	s.gen++
	s.ready = true
	s.persistLocked(ctx)

	s.logger.Info("session established",
		zap.Int64("user_id", user.ID),
		zap.Uint64("generation", s.gen))

	ev = &changeEvent{kind: changeLogin, creds: s.creds}
	return nil
}

// applyPollResult folds one keep-alive response into the record. gen is the
// generation the poll request was issued under; a mismatch means the
// credentials changed while the request was in flight and the whole result is
// dropped. An authoritative countdown of zero or less forces signed-out
// before any rotation or merge is considered.
func (s *sessionState) applyPollResult(ctx context.Context, gen uint64, payload *KeepAlivePayload) pollOutcome {
	var ev *changeEvent
	defer func() { s.notify(ev) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		s.metrics.Inc(MetricStaleResultDropped)
		s.logger.Debug("dropping stale poll result",
			zap.Uint64("result_generation", gen),
			zap.Uint64("current_generation", s.gen))
		return pollStale
	}

	if payload.RemainingSeconds != nil && *payload.RemainingSeconds <= 0 {
		ev = s.invalidateLocked(ctx, ReasonExpired)
		return pollExpired
	}

	if payload.Rotation != nil {
		s.creds = *payload.Rotation
		s.gen++
		s.metrics.Inc(MetricRotationApplied)
		s.logger.Info("credentials rotated", zap.Uint64("generation", s.gen))
		ev = &changeEvent{kind: changeRotation, creds: s.creds}
	} else if payload.PartialRotation {
		s.metrics.Inc(MetricRotationDropped)
		s.logger.Warn("dropping torn credential rotation")
	}

	if payload.User != nil {
		s.mergeUserLocked(payload.User)
		s.metrics.Inc(MetricUserMerged)
	}

	if payload.RemainingSeconds != nil {
		r := *payload.RemainingSeconds
		s.remaining = &r
	} else {
		// Countdown unknown until the backend reports it again; a stale
		// value must not keep showing.
		s.remaining = nil
		s.metrics.Inc(MetricKeepAliveNoCountdown)
	}

	if payload.Rotation != nil || payload.User != nil {
		s.persistLocked(ctx)
	}
	return pollApplied
}

// updateUserBalance sets the signed-in user's spendable balance. It is a
// no-op when signed out.
func (s *sessionState) updateUserBalance(ctx context.Context, balance int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.user == nil || !s.creds.Complete() {
		return false
	}
	s.user.BidCredits = balance
	s.metrics.Inc(MetricBalanceUpdated)
	s.persistLocked(ctx)
	return true
}

// invalidate forces the record to signed-out. It is idempotent: a second call
// while already signed out does nothing and reports false.
func (s *sessionState) invalidate(ctx context.Context, reason InvalidateReason) bool {
	var ev *changeEvent
	defer func() { s.notify(ev) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	ev = s.invalidateLocked(ctx, reason)
	return ev != nil
}

// invalidateIfGeneration invalidates only when the record still holds the
// given generation. Push handlers carry the generation they subscribed under
// so an event raced against a credential swap cannot kill the new session.
func (s *sessionState) invalidateIfGeneration(ctx context.Context, gen uint64, reason InvalidateReason) bool {
	var ev *changeEvent
	defer func() { s.notify(ev) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		s.metrics.Inc(MetricStaleResultDropped)
		s.logger.Debug("dropping stale invalidation",
			zap.Uint64("event_generation", gen),
			zap.Uint64("current_generation", s.gen))
		return false
	}
	ev = s.invalidateLocked(ctx, reason)
	return ev != nil
}

func (s *sessionState) invalidateLocked(ctx context.Context, reason InvalidateReason) *changeEvent {
	if s.creds.Empty() && s.user == nil {
		return nil
	}

	s.creds = Credentials{}
	s.user = nil
	s.remaining = nil
	s.gen++
	if err := s.store.Clear(ctx); err != nil {
		s.logger.Warn("clearing snapshot on invalidation failed", zap.Error(err))
	}

	s.metrics.Inc(MetricSessionInvalidated)
	s.logger.Info("session invalidated",
		zap.String("reason", string(reason)),
		zap.Uint64("generation", s.gen))

	return &changeEvent{kind: changeInvalidate, reason: reason}
}

func (s *sessionState) mergeUserLocked(patch *UserPatch) {
	if s.user == nil {
		s.user = &User{}
	}
	if patch.ID != nil {
		s.user.ID = *patch.ID
	}
	if patch.Email != nil {
		s.user.Email = *patch.Email
	}
	if patch.Name != nil {
		s.user.Name = *patch.Name
	}
	if patch.BidCredits != nil {
		s.user.BidCredits = *patch.BidCredits
	}
	if patch.IsAdmin != nil {
		s.user.IsAdmin = *patch.IsAdmin
	}
	if patch.IsSuperuser != nil {
		s.user.IsSuperuser = *patch.IsSuperuser
	}
	if patch.EmailVerified != nil {
		s.user.EmailVerified = *patch.EmailVerified
	}
	if patch.EmailVerifiedAt != nil {
		t := *patch.EmailVerifiedAt
		s.user.EmailVerifiedAt = &t
	}
}

// persistLocked writes the current record to the snapshot store. Persistence
// failures are logged and absorbed: the in-memory record stays authoritative
// for this process.
func (s *sessionState) persistLocked(ctx context.Context) {
	snap := &snapshot.Snapshot{
		Token:          s.creds.AccessToken,
		RefreshToken:   s.creds.RefreshToken,
		SessionTokenID: s.creds.SessionTokenID,
	}
	if s.user != nil {
		raw, err := json.Marshal(s.user)
		if err != nil {
			s.logger.Warn("encoding user for snapshot failed", zap.Error(err))
		} else {
			snap.User = raw
		}
	}
	if err := s.store.Save(ctx, snap); err != nil {
		s.logger.Warn("persisting snapshot failed", zap.Error(err))
	}
}

func (s *sessionState) generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

func (s *sessionState) credentials() Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds
}

func (s *sessionState) isReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}
