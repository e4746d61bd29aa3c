package bidsession

import (
	"errors"
	"time"
)

// Config defines a public type used by bidsession APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Poll      PollConfig
	Channel   ChannelConfig
	Challenge ChallengeConfig
	Hydration HydrationConfig
	Identity  IdentityConfig
	Metrics   MetricsConfig
}

/*
====================================
POLL CONFIG
====================================
*/

// PollConfig defines a public type used by bidsession APIs.
//
// PollConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type PollConfig struct {
	// Interval is the fixed keep-alive poll interval. The timer is re-armed
	// only after the in-flight request settles, so effective spacing is
	// Interval plus request latency.
	Interval time.Duration
	// RequestTimeout bounds a single keep-alive request. Zero disables the
	// per-request deadline.
	RequestTimeout time.Duration
}

/*
====================================
CHANNEL CONFIG
====================================
*/

// ChannelConfig defines a public type used by bidsession APIs.
//
// ChannelConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type ChannelConfig struct {
	// Name is the push-channel name the invalidation listener subscribes to.
	Name string
}

/*
====================================
CHALLENGE CONFIG
====================================
*/

// ChallengeConfig defines a public type used by bidsession APIs.
//
// ChallengeConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type ChallengeConfig struct {
	// PersistSlot persists the pending challenge token in its own storage
	// slot so a process restart mid-challenge resumes at Created instead of
	// fabricating a signed-in state. Staleness is enforced by the server
	// rejecting an old challenge id.
	PersistSlot bool
}

/*
====================================
HYDRATION CONFIG
====================================
*/

// HydrationConfig defines a public type used by bidsession APIs.
//
// HydrationConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type HydrationConfig struct {
	// DiscardExpiredTokens drops a persisted snapshot whose access token
	// parses as a JWT with an exp claim already in the past. Opaque tokens
	// are installed untouched; the server stays authoritative either way.
	DiscardExpiredTokens bool
}

/*
====================================
IDENTITY CONFIG
====================================
*/

// IdentityConfig defines a public type used by bidsession APIs.
//
// IdentityConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type IdentityConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops tags instead of blocking when the buffer is full.
	// Login and logout must never wait on the tagging sink.
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig defines a public type used by bidsession APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

func defaultConfig() Config {
	return Config{
		Poll: PollConfig{
			Interval:       60 * time.Second,
			RequestTimeout: 15 * time.Second,
		},
		Channel: ChannelConfig{
			Name: "SessionChannel",
		},
		Challenge: ChallengeConfig{
			PersistSlot: true,
		},
		Hydration: HydrationConfig{
			DiscardExpiredTokens: true,
		},
		Identity: IdentityConfig{
			Enabled:    true,
			BufferSize: 16,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	// All fields are value types; a shallow copy is a deep copy.
	return cfg
}

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c Config) Validate() error {
	if c.Poll.Interval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if c.Poll.RequestTimeout < 0 {
		return errors.New("poll request timeout must not be negative")
	}
	if c.Channel.Name == "" {
		return errors.New("channel name must not be empty")
	}
	if c.Identity.Enabled && c.Identity.BufferSize < 0 {
		return errors.New("identity buffer size must not be negative")
	}
	return nil
}
