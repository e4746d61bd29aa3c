package internaldefs

import (
	bidsession "github.com/lotline/bidsession"
)

// CounterDef defines a public type used by bidsession APIs.
//
// CounterDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type CounterDef struct {
	ID   bidsession.MetricID
	Name string
	Help string
}

// HistogramDef defines a public type used by bidsession APIs.
//
// HistogramDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type HistogramDef struct {
	ID   bidsession.MetricID
	Name string
	Help string
}

// CounterDefs is an exported constant or variable used by the session core.
var CounterDefs = []CounterDef{
	{ID: bidsession.MetricLoginSuccess, Name: "bidsession_login_success_total", Help: "Sessions established from a login payload."},
	{ID: bidsession.MetricLoginFailure, Name: "bidsession_login_failure_total", Help: "Failed login attempts."},
	{ID: bidsession.MetricChallengeRequired, Name: "bidsession_challenge_required_total", Help: "Login flows demanding a second factor."},
	{ID: bidsession.MetricChallengeConsumed, Name: "bidsession_challenge_consumed_total", Help: "Challenges exchanged for a session."},
	{ID: bidsession.MetricChallengeFailure, Name: "bidsession_challenge_failure_total", Help: "Failed challenge verifications."},
	{ID: bidsession.MetricChallengeRateLimited, Name: "bidsession_challenge_rate_limited_total", Help: "Rate-limited challenge verifications."},
	{ID: bidsession.MetricHydrateRestored, Name: "bidsession_hydrate_restored_total", Help: "Sessions restored from a persisted snapshot."},
	{ID: bidsession.MetricHydrateDiscarded, Name: "bidsession_hydrate_discarded_total", Help: "Persisted snapshots discarded during hydration."},
	{ID: bidsession.MetricKeepAlive, Name: "bidsession_keep_alive_total", Help: "Keep-alive responses applied."},
	{ID: bidsession.MetricKeepAliveNoCountdown, Name: "bidsession_keep_alive_no_countdown_total", Help: "Keep-alive responses without a countdown value."},
	{ID: bidsession.MetricPollTransientFailure, Name: "bidsession_poll_transient_failure_total", Help: "Keep-alive requests that failed transiently."},
	{ID: bidsession.MetricPollAuthRejected, Name: "bidsession_poll_auth_rejected_total", Help: "Keep-alive requests rejected as unauthorized."},
	{ID: bidsession.MetricRotationApplied, Name: "bidsession_rotation_applied_total", Help: "Credential rotations applied."},
	{ID: bidsession.MetricRotationDropped, Name: "bidsession_rotation_dropped_total", Help: "Torn credential rotations dropped."},
	{ID: bidsession.MetricUserMerged, Name: "bidsession_user_merged_total", Help: "User patches merged from keep-alive responses."},
	{ID: bidsession.MetricBalanceUpdated, Name: "bidsession_balance_updated_total", Help: "Balance updates applied by the host application."},
	{ID: bidsession.MetricSessionInvalidated, Name: "bidsession_session_invalidated_total", Help: "Sessions forced to signed-out."},
	{ID: bidsession.MetricBroadcastInvalidation, Name: "bidsession_broadcast_invalidation_total", Help: "Forced sign-out broadcasts received."},
	{ID: bidsession.MetricLogout, Name: "bidsession_logout_total", Help: "User-initiated logouts."},
	{ID: bidsession.MetricStaleResultDropped, Name: "bidsession_stale_result_dropped_total", Help: "Async results dropped for a stale generation."},
	{ID: bidsession.MetricResubscribed, Name: "bidsession_resubscribed_total", Help: "Push subscriptions rebuilt after rotation."},
	{ID: bidsession.MetricSubscribeFailure, Name: "bidsession_subscribe_failure_total", Help: "Failed push subscription attempts."},
}

// HistogramDefs is an exported constant or variable used by the session core.
var HistogramDefs = []HistogramDef{
	{ID: bidsession.MetricPollLatency, Name: "bidsession_poll_latency_seconds", Help: "Keep-alive request latency histogram."},
}

// HistogramBounds is an exported constant or variable used by the session core.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is an exported constant or variable used by the session core.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets describes the normalizebuckets operation and its observable behavior.
//
// NormalizeBuckets does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets describes the cumulativebuckets operation and its observable behavior.
//
// CumulativeBuckets does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
