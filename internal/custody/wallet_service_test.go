package custody

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"wallet-custody/internal/apperrors"
	"wallet-custody/internal/cryptography"
	"wallet-custody/models"
	"wallet-custody/observability"
	"wallet-custody/repository"
)

type walletFixture struct {
	svc     *WalletService
	custody *Custody
	store   *repository.MemoryStore
	keys    *fakeKeys
	entropy *fakeEntropy
}

func newWalletFixture(t *testing.T) *walletFixture {
	t.Helper()
	c, keys, entropy := newTestCustody()
	store := repository.NewMemoryStore()
	svc := NewWalletService(store, c, &chaincfg.MainNetParams, observability.NewMetrics(prometheus.NewRegistry()))
	return &walletFixture{svc: svc, custody: c, store: store, keys: keys, entropy: entropy}
}

// onboard creates a user with a registered client key and a custodial key pair
func (f *walletFixture) onboard(t *testing.T, externalID string) (*models.User, cryptography.Identity, cryptography.Identity) {
	t.Helper()
	ctx := context.Background()

	user := models.NewUser(externalID)
	if err := f.store.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	client, _ := cryptography.NewIdentity()
	custodial := f.keys.identity(t, user.ID)

	f.store.CreateAuthPublicKey(ctx, &models.AuthPublicKey{
		ID: uuid.New(), UserID: user.ID,
		ClientAuthPubKey: client.PublicKey, WallabyAuthPubKey: custodial.PublicKey,
		CreatedAt: time.Now(),
	})
	return user, client, custodial
}

func TestWalletService_Create(t *testing.T) {
	f := newWalletFixture(t)
	ctx := context.Background()
	user, client, custodial := f.onboard(t, "ext-1")

	res, err := f.svc.Create(ctx, user, client.PublicKey)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !res.Created || res.Wallet.Imported {
		t.Errorf("result = %+v, want a created, generated wallet", res)
	}
	if res.WallabyAuthPubKey != custodial.PublicKey {
		t.Errorf("WallabyAuthPubKey = %s, want %s", res.WallabyAuthPubKey, custodial.PublicKey)
	}
	if res.Wallet.EVMAddress == "" || res.Wallet.BTCAddress == "" || res.Wallet.AlgoAddress == "" {
		t.Errorf("wallet addresses = %+v, want all three", res.Wallet)
	}

	mnemonic, err := cryptography.Decrypt(client.PrivateKey, res.EncryptedSeed)
	if err != nil {
		t.Fatalf("client cannot open its backup envelope: %v", err)
	}
	if !ValidMnemonic(string(mnemonic)) {
		t.Errorf("backup envelope holds %q, want a mnemonic", mnemonic)
	}

	accounts, _ := f.store.FindAccountsByAddresses(ctx, []string{res.Wallet.EVMAddress, res.Wallet.BTCAddress, res.Wallet.AlgoAddress})
	if len(accounts) != 3 {
		t.Errorf("accounts = %d, want 3", len(accounts))
	}

	stored, _ := f.store.FindUserByID(ctx, user.ID)
	if stored.HashingSalt == nil || *stored.HashingSalt != res.Wallet.Salt {
		t.Error("user hashing salt should be set to the wallet salt")
	}
}

func TestWalletService_ImportIsIdempotent(t *testing.T) {
	f := newWalletFixture(t)
	ctx := context.Background()
	user, client, custodial := f.onboard(t, "ext-1")

	env, _ := f.custody.Encrypt(custodial.PublicKey, testMnemonic)

	first, err := f.svc.Import(ctx, user, client.PublicKey, env)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if !first.Created || !first.Wallet.Imported {
		t.Errorf("first import = %+v, want created and imported", first)
	}
	if first.Wallet.EVMAddress != "0x9858EfFD232B4033E47d90003D41EC34EcaEda94" {
		t.Errorf("EVMAddress = %s", first.Wallet.EVMAddress)
	}

	again, _ := f.custody.Encrypt(custodial.PublicKey, "  ABANDON abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about ")
	second, err := f.svc.Import(ctx, user, client.PublicKey, again)
	if err != nil {
		t.Fatalf("second Import failed: %v", err)
	}
	if second.Created || second.Wallet.ID != first.Wallet.ID {
		t.Errorf("second import = %+v, want the existing wallet", second)
	}

	wallets, _ := f.store.FindWalletsByUser(ctx, user.ID)
	if len(wallets) != 1 {
		t.Errorf("wallets = %d, want 1", len(wallets))
	}
}

func TestWalletService_ImportOtherUsersSeed(t *testing.T) {
	f := newWalletFixture(t)
	ctx := context.Background()
	alice, aliceClient, aliceCustodial := f.onboard(t, "alice")
	bob, bobClient, bobCustodial := f.onboard(t, "bob")

	env, _ := f.custody.Encrypt(aliceCustodial.PublicKey, testMnemonic)
	if _, err := f.svc.Import(ctx, alice, aliceClient.PublicKey, env); err != nil {
		t.Fatalf("alice Import failed: %v", err)
	}

	env, _ = f.custody.Encrypt(bobCustodial.PublicKey, testMnemonic)
	_, err := f.svc.Import(ctx, bob, bobClient.PublicKey, env)
	appErr, ok := apperrors.As(err)
	if !ok || appErr.Code != apperrors.CodeWalletAlreadyExists || appErr.StatusCode != 403 {
		t.Errorf("bob Import error = %v, want 403 wallet_already_exists", err)
	}
}

func TestWalletService_ImportFailures(t *testing.T) {
	f := newWalletFixture(t)
	ctx := context.Background()
	user, client, custodial := f.onboard(t, "ext-1")
	stranger, _ := cryptography.NewIdentity()

	garbage, _ := f.custody.Encrypt(custodial.PublicKey, "not a mnemonic at all")
	wrongKey, _ := f.custody.Encrypt(stranger.PublicKey, testMnemonic)
	valid, _ := f.custody.Encrypt(custodial.PublicKey, testMnemonic)

	tests := []struct {
		name   string
		key    string
		env    *models.SeedEnvelope
		want   apperrors.Code
		status int
	}{
		{"incomplete envelope", client.PublicKey, &models.SeedEnvelope{IV: "00"}, apperrors.CodeRequestPayloadMissing, 400},
		{"nil envelope", client.PublicKey, nil, apperrors.CodeRequestPayloadMissing, 400},
		{"sealed to another key", client.PublicKey, wrongKey, apperrors.CodeSeedCouldNotBeDecrypted, 400},
		{"not a mnemonic", client.PublicKey, garbage, apperrors.CodeSeedInvalid, 400},
		{"unregistered client key", stranger.PublicKey, valid, apperrors.CodeClientPubKeyNotFound, 401},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Import(ctx, user, tt.key, tt.env)
			appErr, ok := apperrors.As(err)
			if !ok || appErr.Code != tt.want || appErr.StatusCode != tt.status {
				t.Errorf("Import error = %v, want %d %s", err, tt.status, tt.want)
			}
		})
	}
}

func TestWalletService_CreateWithoutAuthKey(t *testing.T) {
	f := newWalletFixture(t)
	user := models.NewUser("ext-1")
	f.store.CreateUser(context.Background(), user)

	_, err := f.svc.Create(context.Background(), user, "")
	if !apperrors.Is(err, apperrors.CodeClientPubKeyNotFound) {
		t.Errorf("Create error = %v, want auth_client_pub_key_not_found", err)
	}
}

func TestWalletService_CreateWithoutUser(t *testing.T) {
	f := newWalletFixture(t)
	_, err := f.svc.Create(context.Background(), nil, "")
	if !apperrors.Is(err, apperrors.CodeUserNotFound) {
		t.Errorf("Create error = %v, want user_not_found", err)
	}
}

func TestWalletService_CreateEntropyFailure(t *testing.T) {
	f := newWalletFixture(t)
	ctx := context.Background()
	user, client, _ := f.onboard(t, "ext-1")
	f.entropy.err = errors.New("kms down")

	if _, err := f.svc.Create(ctx, user, client.PublicKey); err == nil {
		t.Fatal("Create should fail when remote entropy fails")
	}

	wallets, _ := f.store.FindWalletsByUser(ctx, user.ID)
	if len(wallets) != 0 {
		t.Errorf("wallets = %d, want none", len(wallets))
	}
}

func TestWalletService_SaltSetOnce(t *testing.T) {
	f := newWalletFixture(t)
	ctx := context.Background()
	user, client, _ := f.onboard(t, "ext-1")

	first, err := f.svc.Create(ctx, user, client.PublicKey)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// a stale copy of the user without the salt must converge on the stored one
	stale := *user
	stale.HashingSalt = nil
	second, err := f.svc.Create(ctx, &stale, client.PublicKey)
	if err != nil {
		t.Fatalf("second Create failed: %v", err)
	}
	if second.Wallet.Salt != first.Wallet.Salt {
		t.Errorf("salts differ: %s vs %s", first.Wallet.Salt, second.Wallet.Salt)
	}
}
