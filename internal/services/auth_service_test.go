package services

import (
	"context"
	"errors"
	"testing"
	"time"

	sentinal_errors "sentinal-call/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func TestIssueAndAuthenticate(t *testing.T) {
	svc := NewAuthService("secret", time.Minute)
	id := uuid.New()

	token, exp, err := svc.IssueAccessToken(id)
	if err != nil {
		t.Fatal(err)
	}
	if !exp.After(time.Now()) {
		t.Errorf("expiry %s not in the future", exp)
	}
	got, err := svc.Authenticate(token)
	if err != nil {
		t.Fatal(err)
	}
	if got != id {
		t.Errorf("user = %s, want %s", got, id)
	}
}

func TestAuthenticateRejects(t *testing.T) {
	svc := NewAuthService("secret", time.Minute)
	id := uuid.New()

	expired := NewAuthService("secret", time.Minute)
	expired.clock = func() time.Time { return time.Now().Add(-time.Hour) }
	old, _, err := expired.IssueAccessToken(id)
	if err != nil {
		t.Fatal(err)
	}

	other, _, err := NewAuthService("other", time.Minute).IssueAccessToken(id)
	if err != nil {
		t.Fatal(err)
	}

	notUUID := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	badSub, err := notUUID.SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}

	tests := map[string]string{
		"empty":            "",
		"garbage":          "not-a-token",
		"expired":          old,
		"wrong secret":     other,
		"non uuid subject": badSub,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.Authenticate(token); !errors.Is(err, sentinal_errors.ErrUnauthorized) {
				t.Errorf("err = %v, want ErrUnauthorized", err)
			}
		})
	}
}

func TestUserContext(t *testing.T) {
	id := uuid.New()
	ctx := WithUserContext(context.Background(), id)
	got, ok := UserIDFromContext(ctx)
	if !ok || got != id {
		t.Errorf("got %s %v", got, ok)
	}
	if _, ok := UserIDFromContext(context.Background()); ok {
		t.Error("empty context reported a user")
	}
}
