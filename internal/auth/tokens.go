// Package auth issues and validates the platform's bearer access tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"wallet-custody/internal/apperrors"
	"wallet-custody/models"
)

// Store persists issued tokens
type Store interface {
	CreateAuthToken(ctx context.Context, t *models.AuthToken) error
	FindAuthToken(ctx context.Context, token string) (*models.AuthToken, error)
	RevokeAuthToken(ctx context.Context, token string) (bool, error)
}

// UserClaim identifies the token's user
type UserClaim struct {
	ID string `json:"id"`
}

// Claims is the payload of an access token
type Claims struct {
	User UserClaim `json:"user"`
	jwt.RegisteredClaims
}

// TokenService signs access tokens with the platform secret
type TokenService struct {
	store  Store
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService creates a token service
func NewTokenService(store Store, secret string, ttl time.Duration) *TokenService {
	return &TokenService{store: store, secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs and stores an active token for user
func (s *TokenService) Issue(ctx context.Context, user *models.User) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("access token secret is not configured")
	}

	now := s.now()
	claims := Claims{
		User: UserClaim{ID: user.ID.String()},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}

	err = s.store.CreateAuthToken(ctx, &models.AuthToken{
		ID:        uuid.New(),
		UserID:    user.ID,
		Token:     signed,
		Status:    models.AuthTokenStatusActive,
		ExpiresAt: claims.ExpiresAt.Time,
		CreatedAt: now,
	})
	if err != nil {
		return "", fmt.Errorf("failed to store access token: %w", err)
	}

	return signed, nil
}

// Validate checks signature, expiry and stored status and returns the user id
func (s *TokenService) Validate(ctx context.Context, token string) (uuid.UUID, error) {
	if token == "" {
		return uuid.Nil, apperrors.Unauthorized(apperrors.CodeAPIJWTNotProvided, "access token is required")
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return uuid.Nil, invalid().Wrap(err)
	}

	userID, err := uuid.Parse(claims.User.ID)
	if err != nil {
		return uuid.Nil, invalid().Wrap(err)
	}

	stored, err := s.store.FindAuthToken(ctx, token)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to load access token: %w", err)
	}
	if stored == nil || stored.UserID != userID {
		return uuid.Nil, invalid()
	}
	if stored.Status != models.AuthTokenStatusActive {
		return uuid.Nil, apperrors.Unauthorized(apperrors.CodeAPIJWTNotActive, "access token is no longer active")
	}

	return userID, nil
}

// Revoke deactivates token. Revoking twice is not an error.
func (s *TokenService) Revoke(ctx context.Context, token string) error {
	if _, err := s.store.RevokeAuthToken(ctx, token); err != nil {
		return fmt.Errorf("failed to revoke access token: %w", err)
	}
	return nil
}

// BearerToken extracts the token from an Authorization header value
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func invalid() *apperrors.Error {
	return apperrors.Unauthorized(apperrors.CodeAPIJWTInvalid, "unauthorized access token")
}
