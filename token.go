package bidsession

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenClaims is the unverified claims peek used for hydration hygiene. The
// token is never validated here; only the server can do that.
type tokenClaims struct {
	expiresAt *time.Time
}

func peekTokenClaims(token string) (*tokenClaims, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, false
	}

	peek := &tokenClaims{}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		t := exp.Time
		peek.expiresAt = &t
	}
	return peek, true
}

// tokenExpired reports whether token is a JWT whose exp claim is already in
// the past. Opaque tokens and JWTs without exp report false.
func tokenExpired(token string, now time.Time) bool {
	peek, ok := peekTokenClaims(token)
	if !ok || peek.expiresAt == nil {
		return false
	}
	return peek.expiresAt.Before(now)
}
