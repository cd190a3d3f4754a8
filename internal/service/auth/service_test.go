package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	jwtpkg "github.com/oneops/oneops/pkg/jwt"
)

func TestAuthorizeRoundTrip(t *testing.T) {
	svc := New("secret", time.Minute)
	token, err := svc.Issue("user-1", "dev@example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	id, err := svc.Authorize(context.Background(), "  "+token+" ")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if id.UserID != "user-1" || id.Email != "dev@example.com" {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestAuthorizeFailures(t *testing.T) {
	other, err := jwtpkg.GenerateToken("user-1", "", "other-secret", time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	expired, err := jwtpkg.GenerateToken("user-1", "", "secret", -time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	cases := map[string]struct {
		svc   Service
		token string
	}{
		"empty":        {New("secret", 0), ""},
		"garbage":      {New("secret", 0), "not-a-jwt"},
		"wrong secret": {New("secret", 0), other},
		"expired":      {New("secret", 0), expired},
		"no secret":    {New("", 0), other},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := tc.svc.Authorize(context.Background(), tc.token)
			var authErr *AuthError
			if !errors.As(err, &authErr) {
				t.Fatalf("expected AuthError, got %v", err)
			}
		})
	}
}

func TestIssueRequiresUser(t *testing.T) {
	if _, err := New("secret", 0).Issue(" ", ""); err == nil {
		t.Fatal("expected error")
	}
}
