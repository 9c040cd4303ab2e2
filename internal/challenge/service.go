// Package challenge issues one-time messages and consumes their signatures.
package challenge

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"wallet-custody/internal/apperrors"
	"wallet-custody/internal/cryptography"
	"wallet-custody/models"
	"wallet-custody/observability"
)

// Store persists challenges
type Store interface {
	CreateChallenge(ctx context.Context, c *models.Challenge) error
	FindChallenge(ctx context.Context, clientPublicKey, message string) (*models.Challenge, error)
	MarkChallengeUsed(ctx context.Context, c *models.Challenge) (bool, error)
}

const messageBytes = 32

// Service issues and consumes challenges
type Service struct {
	store   Store
	ttl     time.Duration
	metrics *observability.Metrics
	now     func() time.Time
}

// NewService creates a challenge service whose challenges live for ttl
func NewService(store Store, ttl time.Duration, metrics *observability.Metrics) *Service {
	if metrics == nil {
		metrics = observability.GetMetrics()
	}
	return &Service{store: store, ttl: ttl, metrics: metrics, now: time.Now}
}

// Issue creates a fresh pending challenge for clientPublicKey and returns its message
func (s *Service) Issue(ctx context.Context, clientPublicKey string) (string, error) {
	if clientPublicKey == "" {
		return "", apperrors.BadRequest(apperrors.CodeRequestPayloadMissing, "clientAuthPubKey is required")
	}
	if strings.HasPrefix(clientPublicKey, "0x") {
		return "", apperrors.BadRequest(apperrors.CodeRequestPayloadWrongFormat, "clientAuthPubKey must not be 0x prefixed")
	}
	if _, err := cryptography.ParsePublicKey(clientPublicKey); err != nil {
		return "", apperrors.BadRequest(apperrors.CodeRequestPayloadWrongFormat, "clientAuthPubKey is not a valid secp256k1 public key")
	}

	buf := make([]byte, messageBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate challenge: %w", err)
	}

	c := models.NewChallenge(clientPublicKey, hex.EncodeToString(buf))
	c.CreatedAt = s.now()
	if err := s.store.CreateChallenge(ctx, c); err != nil {
		return "", fmt.Errorf("failed to store challenge: %w", err)
	}

	s.metrics.RecordChallengeIssued()
	return c.Message, nil
}

// Consume checks a signed request against its pending challenge and marks
// the challenge used. Each challenge is accepted at most once.
func (s *Service) Consume(ctx context.Context, req models.SignedRequest) error {
	err := s.consume(ctx, req)
	s.metrics.RecordChallengeConsumed(outcome(err))
	return err
}

func (s *Service) consume(ctx context.Context, req models.SignedRequest) error {
	if req.Signature == "" || req.Message == "" || req.ClientAuthPubKey == "" {
		return apperrors.BadRequest(apperrors.CodeRequestPayloadMissing, "signature, message and clientAuthPubKey are required")
	}
	if strings.HasPrefix(req.ClientAuthPubKey, "0x") {
		return apperrors.BadRequest(apperrors.CodeRequestPayloadWrongFormat, "clientAuthPubKey must not be 0x prefixed")
	}

	c, err := s.store.FindChallenge(ctx, req.ClientAuthPubKey, req.Message)
	if err != nil {
		return fmt.Errorf("failed to load challenge: %w", err)
	}
	if c == nil {
		return apperrors.Unauthorized(apperrors.CodeChallengeNotMatch, "client public key and message do not match")
	}
	if c.ExpiredAt(s.now(), s.ttl) {
		return apperrors.Unauthorized(apperrors.CodeChallengeExpired, "challenge expired")
	}
	if c.Status == models.ChallengeStatusUsed {
		return alreadyUsed()
	}
	if !cryptography.Verify(req.Message, req.Signature, req.ClientAuthPubKey) {
		return apperrors.Unauthorized(apperrors.CodeChallengeSignatureFailed, "signature verification failed")
	}

	ok, err := s.store.MarkChallengeUsed(ctx, c)
	if err != nil {
		return fmt.Errorf("failed to mark challenge used: %w", err)
	}
	if !ok {
		return alreadyUsed()
	}

	return nil
}

func alreadyUsed() error {
	return apperrors.Unauthorized(apperrors.CodeChallengeAlreadyUsed, "challenge already used")
}

func outcome(err error) string {
	if err == nil {
		return "accepted"
	}
	return string(apperrors.CodeOf(err))
}
