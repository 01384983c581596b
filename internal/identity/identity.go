// Package identity defines the boundary to the external identity provider.
// The core never verifies credentials itself; it observes Identity records
// and auth events produced by the provider.
package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"crew/pkg/domain"
)

// Identity is the provider's authenticated-principal record as observed by
// the application. It is distinct from the application-level Profile.
type Identity struct {
	ID          domain.UserID
	Email       string
	AccessToken string
	ExpiresAt   time.Time
}

// Clone returns a copy so callers cannot mutate provider-held state.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}

// TokenExpiry extracts the expiry claim from an access token without
// verifying the signature. The provider already verified the token; the core
// only needs the timestamp for session bookkeeping. Falls back to the given
// time when the token is opaque or carries no expiry.
func TokenExpiry(raw string, fallback time.Time) time.Time {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return fallback
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return fallback
	}
	return exp.Time
}

// TokenSubject extracts the subject claim from an access token without
// verifying the signature. Returns empty string for opaque tokens.
func TokenSubject(raw string) string {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return ""
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return ""
	}
	return sub
}
