package bidsession

import (
	"sync/atomic"
	"time"
)

// MetricID identifies a specific counter or histogram bucket in the
// in-process metrics system.
type MetricID uint16

const (
	// MetricLoginSuccess is an exported constant or variable used by the session core.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure is an exported constant or variable used by the session core.
	MetricLoginFailure
	// MetricChallengeRequired is an exported constant or variable used by the session core.
	MetricChallengeRequired
	// MetricChallengeConsumed is an exported constant or variable used by the session core.
	MetricChallengeConsumed
	// MetricChallengeFailure is an exported constant or variable used by the session core.
	MetricChallengeFailure
	// MetricChallengeRateLimited is an exported constant or variable used by the session core.
	MetricChallengeRateLimited
	// MetricHydrateRestored is an exported constant or variable used by the session core.
	MetricHydrateRestored
	// MetricHydrateDiscarded is an exported constant or variable used by the session core.
	MetricHydrateDiscarded
	// MetricKeepAlive is an exported constant or variable used by the session core.
	MetricKeepAlive
	// MetricKeepAliveNoCountdown is an exported constant or variable used by the session core.
	MetricKeepAliveNoCountdown
	// MetricPollTransientFailure is an exported constant or variable used by the session core.
	MetricPollTransientFailure
	// MetricPollAuthRejected is an exported constant or variable used by the session core.
	MetricPollAuthRejected
	// MetricRotationApplied is an exported constant or variable used by the session core.
	MetricRotationApplied
	// MetricRotationDropped is an exported constant or variable used by the session core.
	MetricRotationDropped
	// MetricUserMerged is an exported constant or variable used by the session core.
	MetricUserMerged
	// MetricBalanceUpdated is an exported constant or variable used by the session core.
	MetricBalanceUpdated
	// MetricSessionInvalidated is an exported constant or variable used by the session core.
	MetricSessionInvalidated
	// MetricBroadcastInvalidation is an exported constant or variable used by the session core.
	MetricBroadcastInvalidation
	// MetricLogout is an exported constant or variable used by the session core.
	MetricLogout
	// MetricStaleResultDropped is an exported constant or variable used by the session core.
	MetricStaleResultDropped
	// MetricResubscribed is an exported constant or variable used by the session core.
	MetricResubscribed
	// MetricSubscribeFailure is an exported constant or variable used by the session core.
	MetricSubscribeFailure
	// MetricPollLatency is an exported constant or variable used by the session core.
	MetricPollLatency

	metricIDCount
)

// HistogramBucketCount is the number of latency buckets tracked per
// histogram. The last bucket is the overflow bucket.
const HistogramBucketCount = 8

// histogramBoundsMillis are the finite upper bounds (inclusive) of the
// latency buckets; observations above the last bound land in the overflow
// bucket.
var histogramBoundsMillis = [HistogramBucketCount - 1]uint64{5, 10, 25, 50, 100, 250, 500}

// Metrics holds atomic counters and optional latency histograms. When
// disabled, all operations are no-ops.
type Metrics struct {
	enabled bool
	latency bool

	counters [metricIDCount]atomic.Uint64

	// pollBuckets[i] counts observations that fell into bucket i alone;
	// exporters derive cumulative counts.
	pollBuckets [HistogramBucketCount]atomic.Uint64
}

// NewMetrics creates a [Metrics] instance configured by the given
// [MetricsConfig].
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled: cfg.Enabled,
		latency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Inc describes the inc operation and its observable behavior.
//
// Inc does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	m.counters[id].Add(1)
}

// LatencyEnabled reports whether latency histograms are being recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.latency
}

// Observe describes the observe operation and its observable behavior.
//
// Observe does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.latency || id != MetricPollLatency {
		return
	}
	m.pollBuckets[bucketIndex(d)].Add(1)
}

func bucketIndex(d time.Duration) int {
	millis := uint64(d / time.Millisecond)
	for i, bound := range histogramBoundsMillis {
		if millis <= bound {
			return i
		}
	}
	return HistogramBucketCount - 1
}

// MetricsSnapshot is a point-in-time deep copy of all metrics. Histogram
// values hold per-bucket counts; exporters derive cumulative counts and
// totals.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// Snapshot describes the snapshot operation and its observable behavior.
//
// Snapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}
	if m == nil || !m.enabled {
		return snap
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		if id == MetricPollLatency {
			continue
		}
		snap.Counters[id] = m.counters[id].Load()
	}
	if m.latency {
		values := make([]uint64, HistogramBucketCount)
		for i := 0; i < HistogramBucketCount; i++ {
			values[i] = m.pollBuckets[i].Load()
		}
		snap.Histograms[MetricPollLatency] = values
	}
	return snap
}
