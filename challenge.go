package bidsession

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/lotline/bidsession/snapshot"
)

// ChallengeState is the lifecycle position of a pending second-factor
// challenge.
type ChallengeState string

const (
	// ChallengeNone means no challenge is pending.
	ChallengeNone ChallengeState = "none"
	// ChallengeCreated means the backend issued a challenge that is awaiting a
	// code.
	ChallengeCreated ChallengeState = "created"
	// ChallengeVerifying means a verify request is in flight.
	ChallengeVerifying ChallengeState = "verifying"
	// ChallengeConsumed means the challenge was exchanged for a session.
	ChallengeConsumed ChallengeState = "consumed"
	// ChallengeExpired means the backend no longer recognizes the challenge.
	ChallengeExpired ChallengeState = "expired"
	// ChallengeFailed means the verify exchange broke in a non-retryable way.
	ChallengeFailed ChallengeState = "failed"
)

// Challenge is a read-only view of the pending second-factor challenge.
type Challenge struct {
	ID         string
	Email      string
	RedirectTo string
	State      ChallengeState
}

// challengeCoordinator tracks the single pending challenge slot. A challenge
// is single-use: consumption, expiry, and cancellation all clear the slot, and
// a retryable failure returns it to the awaiting-code position. The slot is
// optionally persisted so an interrupted two-factor sign-in survives a
// restart; the backend remains the judge of whether a restored challenge is
// still valid.
type challengeCoordinator struct {
	api     AuthAPI
	store   snapshot.Store
	logger  *zap.Logger
	metrics *Metrics
	clock   Clock
	persist bool

	mu      sync.Mutex
	pending *Challenge
}

func newChallengeCoordinator(api AuthAPI, store snapshot.Store, logger *zap.Logger, metrics *Metrics, clock Clock, cfg ChallengeConfig) *challengeCoordinator {
	return &challengeCoordinator{
		api:     api,
		store:   store,
		logger:  logger.Named("challenge"),
		metrics: metrics,
		clock:   clock,
		persist: cfg.PersistSlot,
	}
}

// restore reloads a persisted challenge slot as awaiting-code. A corrupt
// record is cleared and forgotten.
func (c *challengeCoordinator) restore(ctx context.Context) {
	if !c.persist {
		return
	}
	rec, err := c.store.LoadChallenge(ctx)
	if err != nil {
		c.logger.Warn("discarding unreadable challenge record", zap.Error(err))
		if clearErr := c.store.ClearChallenge(ctx); clearErr != nil {
			c.logger.Warn("clearing challenge record failed", zap.Error(clearErr))
		}
		return
	}
	if rec == nil {
		return
	}

	c.mu.Lock()
	c.pending = &Challenge{
		ID:         rec.ChallengeID,
		Email:      rec.Email,
		RedirectTo: rec.RedirectTo,
		State:      ChallengeCreated,
	}
	c.mu.Unlock()
	c.logger.Info("restored pending challenge", zap.String("challenge_id", rec.ChallengeID))
}

// create installs a fresh challenge from a login rejection, replacing any
// previous slot.
func (c *challengeCoordinator) create(ctx context.Context, rejection *ChallengeRequiredError) {
	c.mu.Lock()
	c.pending = &Challenge{
		ID:         rejection.ChallengeID,
		Email:      rejection.Email,
		RedirectTo: rejection.RedirectTo,
		State:      ChallengeCreated,
	}
	c.mu.Unlock()

	c.metrics.Inc(MetricChallengeRequired)
	c.logger.Info("second factor required", zap.String("challenge_id", rejection.ChallengeID))

	if c.persist {
		rec := &snapshot.ChallengeRecord{
			ChallengeID: rejection.ChallengeID,
			Email:       rejection.Email,
			RedirectTo:  rejection.RedirectTo,
			CreatedAt:   c.clock.Now().Unix(),
		}
		if err := c.store.SaveChallenge(ctx, rec); err != nil {
			c.logger.Warn("persisting challenge record failed", zap.Error(err))
		}
	}
}

// current returns a copy of the pending challenge, or nil.
func (c *challengeCoordinator) current() *Challenge {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return nil
	}
	cp := *c.pending
	return &cp
}

// verify exchanges the pending challenge plus a second-factor code for a
// login payload. Rejections map to the challenge error taxonomy: rate
// limiting and a wrong code keep the slot retryable, an unknown challenge
// expires it, and an unreadable success body fails it terminally.
func (c *challengeCoordinator) verify(ctx context.Context, code string, mode ChallengeMode) (*LoginPayload, error) {
	c.mu.Lock()
	switch {
	case c.pending == nil:
		c.mu.Unlock()
		return nil, ErrNoChallenge
	case c.pending.State == ChallengeVerifying:
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: verification already in flight", ErrChallengeVerificationFailed)
	case c.pending.State == ChallengeConsumed:
		c.mu.Unlock()
		return nil, ErrChallengeConsumed
	case c.pending.State == ChallengeExpired:
		c.mu.Unlock()
		return nil, ErrChallengeExpired
	case c.pending.State == ChallengeFailed:
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: challenge already failed", ErrChallengeVerificationFailed)
	case code == "":
		c.mu.Unlock()
		return nil, ErrChallengeCodeMissing
	}
	if mode != ChallengeModeRecovery {
		mode = ChallengeModeOTP
	}
	challengeID := c.pending.ID
	c.pending.State = ChallengeVerifying
	c.mu.Unlock()

	payload, err := c.api.VerifyChallenge(ctx, VerifyRequest{
		ChallengeID: challengeID,
		Code:        code,
		Mode:        mode,
	})
	if err != nil {
		return nil, c.settleFailure(ctx, challengeID, err)
	}

	c.mu.Lock()
	if c.pending != nil && c.pending.ID == challengeID {
		c.pending.State = ChallengeConsumed
		c.pending = nil
	}
	c.mu.Unlock()

	c.metrics.Inc(MetricChallengeConsumed)
	c.logger.Info("challenge consumed", zap.String("challenge_id", challengeID))
	c.clearPersisted(ctx)
	return payload, nil
}

// cancel drops the pending challenge, if any.
func (c *challengeCoordinator) cancel(ctx context.Context) bool {
	c.mu.Lock()
	had := c.pending != nil
	c.pending = nil
	c.mu.Unlock()
	if had {
		c.clearPersisted(ctx)
	}
	return had
}

func (c *challengeCoordinator) settleFailure(ctx context.Context, challengeID string, err error) error {
	status, isAPI := apiStatus(err)

	terminal := false
	var mapped error
	switch {
	case isAPI && status == 429:
		c.metrics.Inc(MetricChallengeRateLimited)
		mapped = ErrChallengeRateLimited
	case isAPI && (status == 401 || status == 403):
		c.metrics.Inc(MetricChallengeFailure)
		mapped = ErrChallengeVerificationFailed
	case isAPI && (status == 404 || status == 410):
		c.metrics.Inc(MetricChallengeFailure)
		mapped = ErrChallengeExpired
		terminal = true
	case errors.Is(err, ErrMalformedResponse):
		c.metrics.Inc(MetricChallengeFailure)
		mapped = err
		terminal = true
	default:
		// Transient transport trouble: the slot stays retryable and the
		// caller sees the raw error.
		mapped = err
	}

	c.mu.Lock()
	if c.pending != nil && c.pending.ID == challengeID {
		switch {
		case errors.Is(mapped, ErrChallengeExpired):
			c.pending.State = ChallengeExpired
		case terminal:
			c.pending.State = ChallengeFailed
		default:
			c.pending.State = ChallengeCreated
		}
	}
	c.mu.Unlock()

	if terminal {
		c.clearPersisted(ctx)
	}
	c.logger.Warn("challenge verification failed",
		zap.String("challenge_id", challengeID),
		zap.Error(mapped))
	return mapped
}

func (c *challengeCoordinator) clearPersisted(ctx context.Context) {
	if !c.persist {
		return
	}
	if err := c.store.ClearChallenge(ctx); err != nil {
		c.logger.Warn("clearing challenge record failed", zap.Error(err))
	}
}
