package bidsession

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// invalidationListener holds the single push subscription for forced-logout
// broadcasts. Rekeying always tears down the previous subscription before
// opening the next one, so at most one subscription exists at any time.
type invalidationListener struct {
	channel PushChannel
	state   *sessionState
	logger  *zap.Logger
	metrics *Metrics
	cfg     ChannelConfig

	mu  sync.Mutex
	sub Subscription
}

func newInvalidationListener(channel PushChannel, state *sessionState, logger *zap.Logger, metrics *Metrics, cfg ChannelConfig) *invalidationListener {
	return &invalidationListener{
		channel: channel,
		state:   state,
		logger:  logger.Named("listener"),
		metrics: metrics,
		cfg:     cfg,
	}
}

// rekey replaces the subscription with one keyed by the given credentials.
// An incomplete pair only tears down; subscription failure is absorbed so a
// flaky push transport never blocks sign-in, the poller still catches a dead
// session on its next tick.
func (l *invalidationListener) rekey(ctx context.Context, creds Credentials, resubscribe bool) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sub != nil {
		l.sub.Unsubscribe()
		l.sub = nil
	}
	if creds.AccessToken == "" || creds.SessionTokenID == "" {
		return
	}

	// The generation captured here pins the handler to this credential set.
	// An event raced against a later swap is dropped by the state machine.
	gen := l.state.generation()
	params := map[string]string{
		"token":            creds.AccessToken,
		"session_token_id": creds.SessionTokenID,
	}

	sub, err := l.channel.Subscribe(ctx, l.cfg.Name, params, func(message []byte) {
		l.handle(gen, message)
	})
	if err != nil {
		l.metrics.Inc(MetricSubscribeFailure)
		l.logger.Warn("push subscription failed", zap.Error(err))
		return
	}
	l.sub = sub
	if resubscribe {
		l.metrics.Inc(MetricResubscribed)
	}
	l.logger.Debug("push subscription established",
		zap.String("channel", l.cfg.Name),
		zap.Uint64("generation", gen))
}

// stop tears down the subscription, if any. Idempotent.
func (l *invalidationListener) stop() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sub != nil {
		l.sub.Unsubscribe()
		l.sub = nil
	}
}

func (l *invalidationListener) handle(gen uint64, message []byte) {
	if ResolveEventName(message) != eventSessionInvalidated {
		return
	}
	l.metrics.Inc(MetricBroadcastInvalidation)
	l.logger.Info("forced sign-out received")
	l.state.invalidateIfGeneration(context.Background(), gen, ReasonBroadcast)
}
