package bidsession

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// Decode failures carry a named cause wrapped in [ErrMalformedResponse].
// Business logic only ever sees a typed payload or that sentinel; there is no
// silent fall-through on a missing field.
var (
	errDecodeBadJSON     = errors.New("body is not valid json")
	errDecodeTornTriple  = errors.New("credential triple missing or torn")
	errDecodeMissingUser = errors.New("user object missing or incomplete")
)

func decodeError(cause error) error {
	return fmt.Errorf("%w: %v", ErrMalformedResponse, cause)
}

type userWire struct {
	ID              *int64     `json:"id"`
	Email           *string    `json:"email"`
	Name            *string    `json:"name"`
	BidCredits      *int64     `json:"bid_credits"`
	IsAdmin         *bool      `json:"is_admin"`
	IsSuperuser     *bool      `json:"is_superuser"`
	EmailVerified   *bool      `json:"email_verified"`
	EmailVerifiedAt *time.Time `json:"email_verified_at"`
}

type loginWire struct {
	AccessToken    string    `json:"access_token"`
	RefreshToken   string    `json:"refresh_token"`
	SessionTokenID string    `json:"session_token_id"`
	User           *userWire `json:"user"`
	IsAdmin        *bool     `json:"is_admin"`
	IsSuperuser    *bool     `json:"is_superuser"`
}

type keepAliveWire struct {
	RemainingSeconds *float64  `json:"remaining_seconds"`
	Token            string    `json:"token"`
	RefreshToken     string    `json:"refresh_token"`
	SessionTokenID   string    `json:"session_token_id"`
	User             *userWire `json:"user"`
	IsAdmin          *bool     `json:"is_admin"`
	IsSuperuser      *bool     `json:"is_superuser"`
}

// DecodeLoginPayload decodes a login or verify response body into a validated
// [LoginPayload]. The credential triple must be complete and the user object
// must carry at least an id and email; anything less is
// [ErrMalformedResponse].
func DecodeLoginPayload(data []byte) (*LoginPayload, error) {
	var wire loginWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, decodeError(errDecodeBadJSON)
	}

	creds := Credentials{
		AccessToken:    wire.AccessToken,
		RefreshToken:   wire.RefreshToken,
		SessionTokenID: wire.SessionTokenID,
	}
	if !creds.Complete() {
		return nil, decodeError(errDecodeTornTriple)
	}

	user, err := userFromWire(wire.User)
	if err != nil {
		return nil, decodeError(err)
	}
	// Top-level role flags win over the nested user object when both appear.
	if wire.IsAdmin != nil {
		user.IsAdmin = *wire.IsAdmin
	}
	if wire.IsSuperuser != nil {
		user.IsSuperuser = *wire.IsSuperuser
	}

	return &LoginPayload{Credentials: creds, User: user}, nil
}

// DecodeKeepAlivePayload decodes a keep-alive (remaining time) response body.
// A token triple is applied all-or-nothing: a torn triple is reported via
// PartialRotation and otherwise ignored, never installed.
func DecodeKeepAlivePayload(data []byte) (*KeepAlivePayload, error) {
	var wire keepAliveWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, decodeError(errDecodeBadJSON)
	}

	payload := &KeepAlivePayload{}
	if wire.RemainingSeconds != nil {
		// Round up: a fractional positive countdown still means time left.
		remaining := int64(math.Ceil(*wire.RemainingSeconds))
		payload.RemainingSeconds = &remaining
	}

	creds := Credentials{
		AccessToken:    wire.Token,
		RefreshToken:   wire.RefreshToken,
		SessionTokenID: wire.SessionTokenID,
	}
	switch {
	case creds.Complete():
		payload.Rotation = &creds
	case !creds.Empty():
		payload.PartialRotation = true
	}

	if wire.User != nil || wire.IsAdmin != nil || wire.IsSuperuser != nil {
		payload.User = patchFromWire(wire.User, wire.IsAdmin, wire.IsSuperuser)
	}
	return payload, nil
}

func userFromWire(wire *userWire) (User, error) {
	if wire == nil || wire.ID == nil || wire.Email == nil || *wire.Email == "" {
		return User{}, errDecodeMissingUser
	}
	user := User{
		ID:    *wire.ID,
		Email: *wire.Email,
	}
	if wire.Name != nil {
		user.Name = *wire.Name
	}
	if wire.BidCredits != nil {
		user.BidCredits = *wire.BidCredits
	}
	if wire.IsAdmin != nil {
		user.IsAdmin = *wire.IsAdmin
	}
	if wire.IsSuperuser != nil {
		user.IsSuperuser = *wire.IsSuperuser
	}
	if wire.EmailVerified != nil {
		user.EmailVerified = *wire.EmailVerified
	}
	user.EmailVerifiedAt = wire.EmailVerifiedAt
	return user, nil
}

func patchFromWire(wire *userWire, isAdmin, isSuperuser *bool) *UserPatch {
	patch := &UserPatch{}
	if wire != nil {
		patch.ID = wire.ID
		patch.Email = wire.Email
		patch.Name = wire.Name
		patch.BidCredits = wire.BidCredits
		patch.IsAdmin = wire.IsAdmin
		patch.IsSuperuser = wire.IsSuperuser
		patch.EmailVerified = wire.EmailVerified
		patch.EmailVerifiedAt = wire.EmailVerifiedAt
	}
	// Top-level flags override whatever the nested object said.
	if isAdmin != nil {
		patch.IsAdmin = isAdmin
	}
	if isSuperuser != nil {
		patch.IsSuperuser = isSuperuser
	}
	return patch
}

// ResolveEventName extracts the event name from an opaque push message using
// the fallback order: bare string payload, then the event, type, and status
// fields of an object payload. It returns "" when no name resolves.
func ResolveEventName(message []byte) string {
	var name string
	if err := json.Unmarshal(message, &name); err == nil {
		return name
	}

	var envelope struct {
		Event  string `json:"event"`
		Type   string `json:"type"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(message, &envelope); err != nil {
		return ""
	}
	switch {
	case envelope.Event != "":
		return envelope.Event
	case envelope.Type != "":
		return envelope.Type
	case envelope.Status != "":
		return envelope.Status
	default:
		return ""
	}
}

// eventSessionInvalidated is the only actionable push event name.
const eventSessionInvalidated = "session_invalidated"
