package utils // package utils provides helper functions for inspecting API credentials

import (
	"time" // time utilities for comparing expirations

	"github.com/golang-jwt/jwt/v5" // JWT library for decoding the API's access tokens
)

// TokenExpiry reads the exp claim of a JWT without verifying its signature.
// The portal never holds the REST API's signing key, so the claim is only a
// hint: it lets a restored session be dropped before a round trip that is
// certain to fail.  ok is false when the token is not a JWT or carries no
// exp claim; such tokens are treated as opaque and never expire locally.
func TokenExpiry(raw string) (exp time.Time, ok bool) {
	claims := jwt.MapClaims{}
	// ParseUnverified only splits and decodes the token; it checks neither
	// the signature nor the time-based claims.
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}, false
	}
	nd, err := claims.GetExpirationTime()
	if err != nil || nd == nil {
		return time.Time{}, false
	}
	return nd.Time, true
}

// TokenExpired reports whether raw is a JWT whose exp claim is not after now.
// Opaque tokens are never reported as expired.
func TokenExpired(raw string, now time.Time) bool {
	exp, ok := TokenExpiry(raw)
	if !ok {
		return false
	}
	return !now.Before(exp)
}
