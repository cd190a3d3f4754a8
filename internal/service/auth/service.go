package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtpkg "github.com/oneops/oneops/pkg/jwt"
)

// AuthError means the caller could not be identified.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unauthorized: %s: %v", e.Reason, e.Err)
	}
	return "unauthorized: " + e.Reason
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Identity is the verified caller.
type Identity struct {
	UserID string
	Email  string
}

// Service verifies bearer tokens issued for the deployer.
type Service struct {
	secret string
	ttl    time.Duration
}

// New constructs a Service signing and verifying with secret.
func New(secret string, ttl time.Duration) Service {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return Service{secret: secret, ttl: ttl}
}

// Authorize validates token and returns the identity it was issued for.
func (s Service) Authorize(ctx context.Context, token string) (Identity, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return Identity{}, &AuthError{Reason: "token required"}
	}
	if s.secret == "" {
		return Identity{}, &AuthError{Reason: "token verification not configured"}
	}
	claims, err := jwtpkg.Parse(trimmed, s.secret)
	if err != nil {
		return Identity{}, &AuthError{Reason: "invalid token", Err: err}
	}
	return Identity{UserID: claims.Owner(), Email: claims.Email}, nil
}

// Issue mints a token for userID. Used by operators running without an
// external identity provider.
func (s Service) Issue(userID, email string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("user id required")
	}
	if s.secret == "" {
		return "", errors.New("jwt secret not configured")
	}
	return jwtpkg.GenerateToken(userID, email, s.secret, s.ttl)
}
