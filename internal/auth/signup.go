package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"wallet-custody/internal/apperrors"
	"wallet-custody/models"
	"wallet-custody/observability"
	"wallet-custody/repository"
	"wallet-custody/services"
)

// UserStore persists users and their registered auth keys
type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	FindUserByExternalID(ctx context.Context, externalID string) (*models.User, error)
	CreateAuthPublicKey(ctx context.Context, k *models.AuthPublicKey) error
}

// SignUpResult is returned to a newly registered client
type SignUpResult struct {
	UserID            uuid.UUID `json:"userId"`
	AccessToken       string    `json:"accessToken"`
	WallabyAuthPubKey string    `json:"wallabyAuthPubKey"`
}

// SignUpService registers users coming from an integrator's own identity system
type SignUpService struct {
	users  UserStore
	keys   services.KeyPairProvider
	tokens *TokenService
}

// NewSignUpService creates a sign-up service
func NewSignUpService(users UserStore, keys services.KeyPairProvider, tokens *TokenService) *SignUpService {
	return &SignUpService{users: users, keys: keys, tokens: tokens}
}

// SignUpExternal creates the user named by the client JWT's externalUserId,
// provisions its custodial keypair and binds clientAuthPubKey to it. The
// caller must already have consumed the signed challenge.
func (s *SignUpService) SignUpExternal(ctx context.Context, externalUserID, clientAuthPubKey string) (*SignUpResult, error) {
	if externalUserID == "" {
		return nil, apperrors.Unauthorized(apperrors.CodeClientJWTMissingExternalID, "the client JWT has no externalUserId in the payload")
	}
	if clientAuthPubKey == "" {
		return nil, apperrors.BadRequest(apperrors.CodeRequestPayloadMissing, "clientAuthPubKey is required")
	}

	existing, err := s.users.FindUserByExternalID(ctx, externalUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if existing != nil {
		return nil, userExists()
	}

	user := models.NewUser(externalUserID)

	pair, err := s.keys.GetOrCreateKeyPair(ctx, user.ID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to provision custodial keypair: %w", err)
	}
	if pair == nil || pair.KeyPair.PublicKey == "" {
		return nil, errors.New("KMS returned no custodial keypair")
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, userExists()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	err = s.users.CreateAuthPublicKey(ctx, &models.AuthPublicKey{
		ID:                uuid.New(),
		UserID:            user.ID,
		ClientAuthPubKey:  clientAuthPubKey,
		WallabyAuthPubKey: pair.KeyPair.PublicKey,
		CreatedAt:         time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register auth public key: %w", err)
	}

	token, err := s.tokens.Issue(ctx, user)
	if err != nil {
		return nil, err
	}

	observability.WithUser(ctx, user.ID.String()).Info("external user signed up", "key_version", pair.KeyVersion)
	return &SignUpResult{UserID: user.ID, AccessToken: token, WallabyAuthPubKey: pair.KeyPair.PublicKey}, nil
}

func userExists() error {
	return apperrors.Conflict(apperrors.CodeUserAlreadyExists, "user already exists")
}
