package bidsession

import (
	"errors"
	"fmt"
)

var (
	// ErrChallengeRequired is an exported constant or variable used by the session core.
	ErrChallengeRequired = errors.New("second factor required")
	// ErrChallengeVerificationFailed is an exported constant or variable used by the session core.
	ErrChallengeVerificationFailed = errors.New("verification failed")
	// ErrChallengeRateLimited is an exported constant or variable used by the session core.
	ErrChallengeRateLimited = errors.New("too many verification attempts")
	// ErrChallengeExpired is an exported constant or variable used by the session core.
	ErrChallengeExpired = errors.New("challenge expired")
	// ErrChallengeConsumed is an exported constant or variable used by the session core.
	ErrChallengeConsumed = errors.New("challenge already consumed")
	// ErrNoChallenge is an exported constant or variable used by the session core.
	ErrNoChallenge = errors.New("no active challenge")
	// ErrChallengeCodeMissing is an exported constant or variable used by the session core.
	ErrChallengeCodeMissing = errors.New("verification code required")
	// ErrMalformedResponse is an exported constant or variable used by the session core.
	ErrMalformedResponse = errors.New("unexpected server response")
	// ErrManagerClosed is an exported constant or variable used by the session core.
	ErrManagerClosed = errors.New("session manager closed")
	// ErrManagerNotStarted is an exported constant or variable used by the session core.
	ErrManagerNotStarted = errors.New("session manager not started")
	// ErrManagerNotReady is an exported constant or variable used by the session core.
	ErrManagerNotReady = errors.New("session manager not initialized")
)

// APIError is a classified HTTP rejection from the REST collaborator. The
// core inspects Status to separate authoritative expiry (fail closed) from
// transient backend trouble (fail open).
type APIError struct {
	Status int
	Body   string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("api rejection: status %d", e.Status)
	}
	return fmt.Sprintf("api rejection: status %d: %s", e.Status, e.Body)
}

// ChallengeRequiredError is the typed rejection returned by a login attempt
// that must be completed with a second factor. It unwraps to
// [ErrChallengeRequired] so callers can branch with errors.Is.
type ChallengeRequiredError struct {
	ChallengeID string
	Email       string
	RedirectTo  string
}

// Error implements the error interface.
func (e *ChallengeRequiredError) Error() string {
	return "second factor required: challenge " + e.ChallengeID
}

// Unwrap makes errors.Is(err, ErrChallengeRequired) hold.
func (e *ChallengeRequiredError) Unwrap() error { return ErrChallengeRequired }

// isAuthRejection reports whether err is an authoritative credential
// rejection: the backend has decided these credentials are dead, as opposed
// to being unreachable or broken.
func isAuthRejection(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == 401
}

func apiStatus(err error) (int, bool) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return 0, false
	}
	return apiErr.Status, true
}
