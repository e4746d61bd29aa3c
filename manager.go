package bidsession

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/lotline/bidsession/snapshot"
)

// SessionManager is the storefront-facing session facade. It owns the state
// machine, the keep-alive poller, the invalidation listener, and the
// challenge coordinator, and exposes the operations UI code is allowed to
// call. All methods are safe for concurrent use.
//
// A manager does nothing until Start and stops all background work on Close.
type SessionManager struct {
	cfg      *Config
	api      AuthAPI
	logger   *zap.Logger
	metrics  *Metrics
	store    snapshot.Store
	state    *sessionState
	poller   *sessionPoller
	listener *invalidationListener
	chal     *challengeCoordinator
	identity *identityDispatcher

	started   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
}

// Start describes the start operation and its observable behavior.
//
// Start may return an error when input validation, dependency calls, or security checks fail.
// Start does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *SessionManager) Start(ctx context.Context) error {
	if m.closed.Load() {
		return ErrManagerClosed
	}
	if !m.started.CompareAndSwap(false, true) {
		return nil
	}

	if _, err := m.state.hydrate(ctx); err != nil {
		m.started.Store(false)
		return err
	}
	m.chal.restore(ctx)
	return nil
}

// Close stops the poller, the push subscription, and the identity dispatcher,
// waits for background goroutines to exit, and permanently retires the
// manager. Idempotent.
func (m *SessionManager) Close() {
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		m.poller.stop()
		m.listener.stop()
		m.poller.wait()
		m.identity.Close()
	})
}

// Current describes the current operation and its observable behavior.
//
// Current does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *SessionManager) Current() Session {
	return m.state.current()
}

// Ready reports whether hydration has completed, whatever its outcome.
func (m *SessionManager) Ready() bool {
	return m.state.isReady()
}

// Login describes the login operation and its observable behavior.
//
// Login may return an error when input validation, dependency calls, or security checks fail.
// Login does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *SessionManager) Login(ctx context.Context, req LoginRequest) (Session, error) {
	if err := m.guard(); err != nil {
		return m.state.current(), err
	}

	payload, err := m.api.Login(ctx, req)
	if err != nil {
		var required *ChallengeRequiredError
		if errors.As(err, &required) {
			m.chal.create(ctx, required)
			return m.state.current(), err
		}
		m.metrics.Inc(MetricLoginFailure)
		return m.state.current(), err
	}

	if err := m.ApplyLogin(ctx, payload); err != nil {
		m.metrics.Inc(MetricLoginFailure)
		return m.state.current(), err
	}
	// A full re-login supersedes any challenge left over from an earlier
	// attempt.
	m.chal.cancel(ctx)
	return m.state.current(), nil
}

// ApplyLogin installs an externally obtained login payload, for flows where
// the host application drives the login request itself (an OAuth callback,
// a server-rendered handoff). The credential triple must be complete.
func (m *SessionManager) ApplyLogin(ctx context.Context, payload *LoginPayload) error {
	if err := m.guard(); err != nil {
		return err
	}
	if payload == nil || !payload.Credentials.Complete() {
		return ErrMalformedResponse
	}

	if err := m.state.applyLogin(ctx, payload); err != nil {
		return err
	}
	m.metrics.Inc(MetricLoginSuccess)
	return nil
}

// VerifyChallenge describes the verifychallenge operation and its observable behavior.
//
// VerifyChallenge may return an error when input validation, dependency calls, or security checks fail.
// VerifyChallenge does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *SessionManager) VerifyChallenge(ctx context.Context, code string, mode ChallengeMode) (Session, error) {
	if err := m.guard(); err != nil {
		return m.state.current(), err
	}

	payload, err := m.chal.verify(ctx, code, mode)
	if err != nil {
		return m.state.current(), err
	}
	if err := m.ApplyLogin(ctx, payload); err != nil {
		return m.state.current(), err
	}
	return m.state.current(), nil
}

// CurrentChallenge returns the pending second-factor challenge, or nil.
func (m *SessionManager) CurrentChallenge() *Challenge {
	return m.chal.current()
}

// CancelChallenge drops the pending second-factor challenge, if any.
func (m *SessionManager) CancelChallenge(ctx context.Context) bool {
	return m.chal.cancel(ctx)
}

// Logout describes the logout operation and its observable behavior.
//
// Logout does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *SessionManager) Logout(ctx context.Context) {
	if m.state.invalidate(ctx, ReasonLogout) {
		m.metrics.Inc(MetricLogout)
	}
}

// UpdateUserBalance sets the signed-in user's spendable balance after the
// host application learns of a spend or top-up. It reports false when no
// session is active.
func (m *SessionManager) UpdateUserBalance(ctx context.Context, balance int64) bool {
	return m.state.updateUserBalance(ctx, balance)
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *SessionManager) MetricsSnapshot() MetricsSnapshot {
	return m.metrics.Snapshot()
}

// IdentityDropped reports how many identity tags were discarded because the
// dispatcher buffer was full.
func (m *SessionManager) IdentityDropped() uint64 {
	return m.identity.Dropped()
}

func (m *SessionManager) guard() error {
	if m.closed.Load() {
		return ErrManagerClosed
	}
	if !m.started.Load() {
		return ErrManagerNotStarted
	}
	return nil
}

// handleChange reacts to committed state transitions. It runs outside the
// state lock, possibly on the poller or push goroutine, so everything here
// must be non-blocking.
func (m *SessionManager) handleChange(ev changeEvent) {
	if m.closed.Load() {
		return
	}

	switch ev.kind {
	case changeLogin:
		// A fresh session restarts the countdown; the old poll loop, if any,
		// is retired along with its timer.
		m.poller.restart()
		m.listener.rekey(context.Background(), ev.creds, false)
		session := m.state.current()
		m.identity.Emit(context.Background(), signedInTag(session.User))

	case changeRotation:
		// The poll timer survives rotation untouched; only the subscription
		// is keyed by credentials and must be rebuilt.
		m.listener.rekey(context.Background(), ev.creds, true)

	case changeInvalidate:
		m.poller.stop()
		m.listener.stop()
		m.identity.Emit(context.Background(), signedOutTag())
	}
}
