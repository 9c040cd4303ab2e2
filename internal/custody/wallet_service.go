package custody

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/google/uuid"

	"wallet-custody/internal/apperrors"
	"wallet-custody/internal/cryptography"
	"wallet-custody/models"
	"wallet-custody/observability"
	"wallet-custody/repository"
)

// Store is the persistence the wallet flows need
type Store interface {
	SetHashingSaltIfEmpty(ctx context.Context, userID uuid.UUID, salt string) (string, error)
	FindAuthPublicKeyByUser(ctx context.Context, userID uuid.UUID) (*models.AuthPublicKey, error)
	CreateWallet(ctx context.Context, w *models.Wallet, accounts []models.Account) error
	FindWalletByHash(ctx context.Context, hash string) (*models.Wallet, error)
}

// WalletResult is returned by Create and Import. EncryptedSeed is the
// mnemonic sealed to the client's registered auth key.
type WalletResult struct {
	Wallet            *models.Wallet       `json:"wallet"`
	EncryptedSeed     *models.SeedEnvelope `json:"encryptedSeed"`
	WallabyAuthPubKey string               `json:"wallabyAuthPubKey"`
	Created           bool                 `json:"created"`
}

// WalletService creates and imports custodial wallets
type WalletService struct {
	store   Store
	custody *Custody
	net     *chaincfg.Params
	metrics *observability.Metrics
}

// NewWalletService creates a wallet service deriving BTC addresses for net
func NewWalletService(store Store, custody *Custody, net *chaincfg.Params, metrics *observability.Metrics) *WalletService {
	if net == nil {
		net = &chaincfg.MainNetParams
	}
	if metrics == nil {
		metrics = observability.GetMetrics()
	}
	return &WalletService{store: store, custody: custody, net: net, metrics: metrics}
}

// Create generates a fresh mnemonic and registers its wallet for user
func (s *WalletService) Create(ctx context.Context, user *models.User, clientAuthPubKey string) (*WalletResult, error) {
	authKey, err := s.authKey(ctx, user, clientAuthPubKey)
	if err != nil {
		return nil, err
	}

	mnemonic, err := s.custody.GenerateMnemonic(ctx)
	if err != nil {
		return nil, err
	}

	return s.register(ctx, user, authKey, mnemonic, false)
}

// Import opens an envelope sealed to the user's custodial key and registers
// the wallet it contains. Re-importing returns the existing wallet.
func (s *WalletService) Import(ctx context.Context, user *models.User, clientAuthPubKey string, encrypted *models.SeedEnvelope) (*WalletResult, error) {
	if !encrypted.Complete() {
		return nil, apperrors.BadRequest(apperrors.CodeRequestPayloadMissing, "encryptedSeed must carry iv, ephemPublicKey, ciphertext and mac")
	}

	authKey, err := s.authKey(ctx, user, clientAuthPubKey)
	if err != nil {
		return nil, err
	}

	plaintext, ok := s.custody.Decrypt(ctx, user.ID, encrypted)
	if !ok {
		return nil, apperrors.BadRequest(apperrors.CodeSeedCouldNotBeDecrypted, "the seed phrase could not be decrypted, wrong format or tampered")
	}

	mnemonic := NormalizeMnemonic(plaintext)
	if !ValidMnemonic(mnemonic) {
		return nil, apperrors.BadRequest(apperrors.CodeSeedInvalid, "the seed phrase is not a valid mnemonic")
	}

	return s.register(ctx, user, authKey, mnemonic, true)
}

// authKey returns the user's registered auth key, checking it against the
// key that signed the request when one is given
func (s *WalletService) authKey(ctx context.Context, user *models.User, clientAuthPubKey string) (*models.AuthPublicKey, error) {
	if user == nil {
		return nil, apperrors.NotFound(apperrors.CodeUserNotFound, "user not found")
	}

	authKey, err := s.store.FindAuthPublicKeyByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load auth public key: %w", err)
	}
	if authKey == nil || !sameKey(authKey.ClientAuthPubKey, clientAuthPubKey) {
		return nil, apperrors.Unauthorized(apperrors.CodeClientPubKeyNotFound, "the client public key is not registered for this user")
	}
	return authKey, nil
}

func sameKey(registered, presented string) bool {
	if presented == "" {
		return true
	}
	a, errA := cryptography.NormalizePublicKey(registered)
	b, errB := cryptography.NormalizePublicKey(presented)
	return errA == nil && errB == nil && a == b
}

func (s *WalletService) register(ctx context.Context, user *models.User, authKey *models.AuthPublicKey, mnemonic string, imported bool) (*WalletResult, error) {
	source := "generated"
	if imported {
		source = "imported"
	}

	salt, err := s.userSalt(ctx, user)
	if err != nil {
		return nil, err
	}

	hash, err := s.custody.DedupeHash(ctx, mnemonic, salt)
	if err != nil {
		return nil, fmt.Errorf("failed to hash seed phrase: %w", err)
	}

	existing, err := s.store.FindWalletByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to look up wallet: %w", err)
	}

	wallet := existing
	created := false
	if wallet == nil {
		wallet, created, err = s.createWallet(ctx, user, mnemonic, hash, salt, imported)
		if err != nil {
			return nil, err
		}
	}

	if wallet.UserID != user.ID {
		observability.WithUser(ctx, user.ID.String()).Error("seed phrase belongs to another user",
			"wallet_id", wallet.ID)
		s.metrics.RecordWallet(source, "forbidden")
		return nil, apperrors.Forbidden(apperrors.CodeWalletAlreadyExists, "you are not allowed to import another user's seed phrase")
	}

	envelope, err := s.custody.Encrypt(authKey.ClientAuthPubKey, mnemonic)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt seed phrase for client: %w", err)
	}

	if created {
		s.metrics.RecordWallet(source, "created")
	} else {
		observability.WithUser(ctx, user.ID.String()).Info("wallet with the provided seed phrase already exists", "wallet_id", wallet.ID)
		s.metrics.RecordWallet(source, "existing")
	}

	return &WalletResult{
		Wallet:            wallet,
		EncryptedSeed:     envelope,
		WallabyAuthPubKey: authKey.WallabyAuthPubKey,
		Created:           created,
	}, nil
}

// userSalt returns the user's hashing salt, setting one if absent
func (s *WalletService) userSalt(ctx context.Context, user *models.User) (string, error) {
	if user.HashingSalt != nil && *user.HashingSalt != "" {
		return *user.HashingSalt, nil
	}

	fresh, err := s.custody.GenerateSalt()
	if err != nil {
		return "", err
	}
	salt, err := s.store.SetHashingSaltIfEmpty(ctx, user.ID, fresh)
	if err != nil {
		return "", fmt.Errorf("failed to set hashing salt: %w", err)
	}
	user.HashingSalt = &salt
	return salt, nil
}

func (s *WalletService) createWallet(ctx context.Context, user *models.User, mnemonic, hash, salt string, imported bool) (*models.Wallet, bool, error) {
	addrs, err := DeriveAddresses(mnemonic, s.net)
	if err != nil {
		return nil, false, fmt.Errorf("failed to derive addresses: %w", err)
	}

	w := &models.Wallet{
		ID:               uuid.New(),
		UserID:           user.ID,
		HashedSeedPhrase: hash,
		Salt:             salt,
		EVMAddress:       addrs.EVM,
		BTCAddress:       addrs.BTC,
		AlgoAddress:      addrs.Algo,
		Imported:         imported,
		CreatedAt:        time.Now(),
	}

	err = s.store.CreateWallet(ctx, w, w.Accounts())
	if errors.Is(err, repository.ErrDuplicate) {
		// lost a race with a concurrent import of the same seed
		existing, findErr := s.store.FindWalletByHash(ctx, hash)
		if findErr != nil {
			return nil, false, fmt.Errorf("failed to look up wallet: %w", findErr)
		}
		if existing != nil {
			return existing, false, nil
		}
		return nil, false, apperrors.Forbidden(apperrors.CodeWalletAlreadyExists, "a wallet for these addresses already exists")
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to create wallet: %w", err)
	}

	return w, true, nil
}
