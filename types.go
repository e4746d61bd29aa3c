package bidsession

import (
	"context"
	"time"
)

// Credentials is the session triple: access token, refresh token, and session
// token id. The three fields are always installed and cleared together; a
// Credentials value is either complete or empty, never torn.
type Credentials struct {
	AccessToken    string
	RefreshToken   string
	SessionTokenID string
}

// Complete reports whether all three fields of the triple are present.
func (c Credentials) Complete() bool {
	return c.AccessToken != "" && c.RefreshToken != "" && c.SessionTokenID != ""
}

// Empty reports whether no field of the triple is present.
func (c Credentials) Empty() bool {
	return c.AccessToken == "" && c.RefreshToken == "" && c.SessionTokenID == ""
}

// User is the storefront profile attached to a session. BidCredits is the
// spendable balance; it is mutated only by
// [SessionManager.UpdateUserBalance] or by a keep-alive merge carrying a
// fresher user object.
type User struct {
	ID              int64
	Email           string
	Name            string
	BidCredits      int64
	IsAdmin         bool
	IsSuperuser     bool
	EmailVerified   bool
	EmailVerifiedAt *time.Time
}

// Session is a read-only snapshot of the authoritative session record as
// returned by [SessionManager.Current]. RemainingSeconds is nil when the
// countdown is unknown or not tracked; nil never means expired.
type Session struct {
	User             *User
	Credentials      Credentials
	RemainingSeconds *int64
	Ready            bool
	Generation       uint64
}

// SignedIn reports whether the snapshot carries a complete credential triple.
func (s Session) SignedIn() bool {
	return s.Credentials.Complete()
}

// LoginPayload is a decoded, validated login or verify response: a complete
// credential triple plus the authenticated user.
type LoginPayload struct {
	Credentials Credentials
	User        User
}

// LoginRequest is the input to [SessionManager.Login]. OTP and RecoveryCode
// are set only by the two-factor retry path and are mutually exclusive.
type LoginRequest struct {
	Email        string
	Password     string
	OTP          string
	RecoveryCode string
}

// ChallengeMode selects the second-factor input mode for a verify call.
type ChallengeMode string

const (
	// ChallengeModeOTP submits a time-based one-time code.
	ChallengeModeOTP ChallengeMode = "otp"
	// ChallengeModeRecovery submits a single-use recovery code.
	ChallengeModeRecovery ChallengeMode = "recovery"
)

// VerifyRequest is the input to [AuthAPI.VerifyChallenge].
type VerifyRequest struct {
	ChallengeID string
	Code        string
	Mode        ChallengeMode
}

// UserPatch is a shallow merge patch carried by a keep-alive response. Only
// non-nil fields are applied; a known role flag is never un-set unless the
// patch carries it explicitly.
type UserPatch struct {
	ID              *int64
	Email           *string
	Name            *string
	BidCredits      *int64
	IsAdmin         *bool
	IsSuperuser     *bool
	EmailVerified   *bool
	EmailVerifiedAt *time.Time
}

// KeepAlivePayload is a decoded keep-alive (remaining time) response.
// Rotation is non-nil only when the response carried the complete triple;
// PartialRotation records that a torn triple was present and dropped.
type KeepAlivePayload struct {
	RemainingSeconds *int64
	Rotation         *Credentials
	PartialRotation  bool
	User             *UserPatch
}

// InvalidateReason names the source that forced a session to signed-out.
type InvalidateReason string

const (
	// ReasonExpired is an invalidation driven by remaining time reaching zero.
	ReasonExpired InvalidateReason = "expired"
	// ReasonUnauthorized is an invalidation driven by an authoritative
	// rejection of the keep-alive request.
	ReasonUnauthorized InvalidateReason = "unauthorized"
	// ReasonBroadcast is an invalidation pushed over the subscription channel.
	ReasonBroadcast InvalidateReason = "broadcast"
	// ReasonLogout is a user-initiated sign-out.
	ReasonLogout InvalidateReason = "logout"
)

// AuthAPI is the REST collaborator consumed by the session core. Request
// plumbing, retries, and header injection are the implementation's concern;
// the restapi subpackage provides the default one.
//
// Login returns *ChallengeRequiredError when the backend demands a second
// factor. SessionRemaining and VerifyChallenge classify HTTP rejections
// through *APIError so the core can separate authoritative expiry from
// transient failure.
type AuthAPI interface {
	Login(ctx context.Context, req LoginRequest) (*LoginPayload, error)
	SessionRemaining(ctx context.Context, sessionTokenID string) (*KeepAlivePayload, error)
	VerifyChallenge(ctx context.Context, req VerifyRequest) (*LoginPayload, error)
}

// Subscription is one live push-channel subscription. Unsubscribe is
// idempotent and never blocks on in-flight message delivery.
type Subscription interface {
	Unsubscribe()
}

// PushChannel is the push transport collaborator. Connection establishment
// and reconnect policy belong to the implementation; the cable subpackage
// provides an Action-Cable-style default.
type PushChannel interface {
	Subscribe(ctx context.Context, channel string, params map[string]string, fn func(message []byte)) (Subscription, error)
}

// IdentityTag is the fire-and-forget identity attachment handed to an
// [IdentityTagger] on login and logout (crash-reporting user tagging and the
// like).
type IdentityTag struct {
	UserID   string
	Email    string
	SignedIn bool
}

// IdentityTagger receives [IdentityTag] values from the manager's identity
// dispatcher. Implementations must tolerate concurrent calls; slow sinks are
// absorbed by the dispatcher buffer, never by login or logout.
type IdentityTagger interface {
	Tag(ctx context.Context, tag IdentityTag)
}

// NoOpTagger is an [IdentityTagger] that silently discards all tags.
type NoOpTagger struct{}

// Tag implements [IdentityTagger].
func (NoOpTagger) Tag(context.Context, IdentityTag) {}

// Clock abstracts wall-clock reads so expiry checks are testable.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
