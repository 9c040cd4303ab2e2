package repository

import (
	"context"

	"github.com/google/uuid"

	"wallet-custody/models"
)

// RepositoryInterface defines all repository operations
type RepositoryInterface interface {
	// Health and lifecycle
	Close()
	Health(ctx context.Context) error

	// API keys
	FindAPIKey(ctx context.Context, key string) (*models.APIKey, error)
	CreateAPIKey(ctx context.Context, k *models.APIKey) error
	UpdateAPIKeyStatus(ctx context.Context, key string, status models.APIKeyStatus) error

	// Users
	CreateUser(ctx context.Context, u *models.User) error
	FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindUserByExternalID(ctx context.Context, externalID string) (*models.User, error)
	SetHashingSaltIfEmpty(ctx context.Context, userID uuid.UUID, salt string) (string, error)
	CreateAuthPublicKey(ctx context.Context, k *models.AuthPublicKey) error
	FindAuthPublicKeyByUser(ctx context.Context, userID uuid.UUID) (*models.AuthPublicKey, error)

	// Access tokens
	CreateAuthToken(ctx context.Context, t *models.AuthToken) error
	FindAuthToken(ctx context.Context, token string) (*models.AuthToken, error)
	RevokeAuthToken(ctx context.Context, token string) (bool, error)

	// Challenges
	ChallengeStore

	// Wallets
	CreateWallet(ctx context.Context, w *models.Wallet, accounts []models.Account) error
	FindWalletByHash(ctx context.Context, hash string) (*models.Wallet, error)
	FindWalletsByUser(ctx context.Context, userID uuid.UUID) ([]models.Wallet, error)
	FindAccountsByAddresses(ctx context.Context, addresses []string) ([]models.Account, error)

	// Multisig
	FindMultisigAsset(ctx context.Context, address string) (*models.MultisigAsset, error)
	InsertMultisigAsset(ctx context.Context, a *models.MultisigAsset) (bool, error)
	CreateMultisigTransaction(ctx context.Context, t *models.Transaction, participants []models.MultisigParticipant) error
	FindTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	FindMultisigParticipant(ctx context.Context, transactionID uuid.UUID, address string) (*models.MultisigParticipant, error)
	ListMultisigParticipants(ctx context.Context, transactionID uuid.UUID) ([]models.MultisigParticipant, error)
	ApproveMultisigParticipant(ctx context.Context, participantID, transactionID uuid.UUID, txBlob string) (*models.ApprovalOutcome, error)
	RejectMultisigParticipant(ctx context.Context, participantID, transactionID uuid.UUID) (*models.Transaction, bool, error)
	TransitionTransaction(ctx context.Context, id uuid.UUID, from, to models.TransactionStatus, txHash string) (bool, error)
}

// ChallengeStore is the persistence the challenge flow needs. Redis can serve
// it on its own.
type ChallengeStore interface {
	CreateChallenge(ctx context.Context, c *models.Challenge) error
	FindChallenge(ctx context.Context, clientPublicKey, message string) (*models.Challenge, error)
	MarkChallengeUsed(ctx context.Context, c *models.Challenge) (bool, error)
}

// Compile-time interface verification
var _ RepositoryInterface = (*Repository)(nil)
var _ RepositoryInterface = (*MemoryStore)(nil)
var _ ChallengeStore = (*RedisChallengeStore)(nil)
