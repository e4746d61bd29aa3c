package bidsession

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/lotline/bidsession/snapshot"
)

// Builder defines a public type used by bidsession APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config

	api     AuthAPI
	channel PushChannel
	store   snapshot.Store
	logger  *zap.Logger
	clock   Clock
	tagger  IdentityTagger

	built bool
}

// New describes the new operation and its observable behavior.
//
// New does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
//
// WithConfig does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithAPI describes the withapi operation and its observable behavior.
//
// WithAPI does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithAPI(api AuthAPI) *Builder {
	b.api = api
	return b
}

// WithPushChannel describes the withpushchannel operation and its observable behavior.
//
// WithPushChannel does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithPushChannel(channel PushChannel) *Builder {
	b.channel = channel
	return b
}

// WithStore describes the withstore operation and its observable behavior.
//
// WithStore does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithStore(store snapshot.Store) *Builder {
	b.store = store
	return b
}

// WithLogger describes the withlogger operation and its observable behavior.
//
// WithLogger does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock describes the withclock operation and its observable behavior.
//
// WithClock does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithClock(clock Clock) *Builder {
	b.clock = clock
	return b
}

// WithIdentityTagger describes the withidentitytagger operation and its observable behavior.
//
// WithIdentityTagger does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithIdentityTagger(tagger IdentityTagger) *Builder {
	b.tagger = tagger
	return b
}

// WithPollInterval describes the withpollinterval operation and its observable behavior.
//
// WithPollInterval does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithPollInterval(interval time.Duration) *Builder {
	b.config.Poll.Interval = interval
	return b
}

// WithMetricsEnabled describes the withmetricsenabled operation and its observable behavior.
//
// WithMetricsEnabled does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms describes the withlatencyhistograms operation and its observable behavior.
//
// WithLatencyHistograms does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build may return an error when input validation, dependency calls, or security checks fail.
// Build does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) Build() (*SessionManager, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.api == nil {
		return nil, errors.New("auth api required")
	}

	store := b.store
	if store == nil {
		store = snapshot.NewMemoryStore()
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := b.clock
	if clock == nil {
		clock = systemClock{}
	}

	metrics := NewMetrics(cfg.Metrics)

	m := &SessionManager{
		cfg:     &cfg,
		api:     b.api,
		logger:  logger,
		metrics: metrics,
		store:   store,
	}

	m.state = newSessionState(store, logger, clock, metrics, cfg.Hydration, m.handleChange)
	m.poller = newSessionPoller(b.api, m.state, logger, metrics, clock, cfg.Poll)
	if b.channel != nil {
		m.listener = newInvalidationListener(b.channel, m.state, logger, metrics, cfg.Channel)
	}
	m.chal = newChallengeCoordinator(b.api, store, logger, metrics, clock, cfg.Challenge)
	m.identity = newIdentityDispatcher(cfg.Identity, b.tagger)

	b.built = true
	return m, nil
}
