package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// InspectToken decodes the claims of a backend-issued token without verifying
// its signature. The signing secret lives with the backend, which still
// verifies every call; the claims here only drive local decisions such as
// discarding an expired session on restore.
func InspectToken(tokenString string) (*CustomerTokenClaims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, fmt.Errorf("token is required")
	}
	claims := &CustomerTokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	return claims, nil
}

// Expired reports whether the token's exp claim is at or before now. Opaque
// (non-JWT) tokens and tokens without exp are never considered expired.
func Expired(tokenString string, now time.Time) bool {
	claims, err := InspectToken(tokenString)
	if err != nil || claims.ExpiresAt == nil {
		return false
	}
	return !claims.ExpiresAt.After(now)
}
