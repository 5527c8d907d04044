package services

import (
	"context"
	"time"

	sentinal_errors "sentinal-call/pkg/errors"
	"sentinal-call/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AuthService verifies bearer tokens. Identity is issued elsewhere; Issue
// exists for development tooling and tests.
type AuthService struct {
	jwtSecret []byte
	accessTTL time.Duration
	clock     func() time.Time
}

func NewAuthService(secret string, accessTTL time.Duration) *AuthService {
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	return &AuthService{jwtSecret: []byte(secret), accessTTL: accessTTL, clock: time.Now}
}

type AccessClaims struct {
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the subject as a uuid.
func (c AccessClaims) UserID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, sentinal_errors.ErrUnauthorized
	}
	return id, nil
}

func (s *AuthService) ParseAccessToken(tokenString string) (AccessClaims, error) {
	if tokenString == "" {
		return AccessClaims{}, sentinal_errors.ErrUnauthorized
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, sentinal_errors.ErrUnauthorized
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.clock), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return AccessClaims{}, sentinal_errors.ErrUnauthorized
	}

	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return AccessClaims{}, sentinal_errors.ErrUnauthorized
	}

	return *claims, nil
}

// Authenticate parses a token and returns its user id.
func (s *AuthService) Authenticate(tokenString string) (uuid.UUID, error) {
	claims, err := s.ParseAccessToken(tokenString)
	if err != nil {
		return uuid.Nil, err
	}
	return claims.UserID()
}

// IssueAccessToken signs an HS256 token for userID.
func (s *AuthService) IssueAccessToken(userID uuid.UUID) (string, time.Time, error) {
	now := s.clock()
	expiresAt := now.Add(s.accessTTL)

	claims := AccessClaims{
		SessionID: uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

type ctxKey string

var userIDKey ctxKey = "user_id"

// WithUserContext stores the authenticated user on ctx, both typed and as
// the logger's string field.
func WithUserContext(ctx context.Context, userID uuid.UUID) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, logger.UserIdKey, userID.String())
}

func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	value := ctx.Value(userIDKey)
	if value == nil {
		return uuid.Nil, false
	}
	userID, ok := value.(uuid.UUID)
	return userID, ok
}
