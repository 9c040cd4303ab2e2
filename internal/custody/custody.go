// Package custody encrypts, decrypts, fingerprints and generates seed phrases,
// and runs the wallet create and import flows on top of them.
package custody

import (
	"context"
	crand "crypto/rand"
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
	"github.com/tyler-smith/go-bip39"

	"wallet-custody/internal/cryptography"
	"wallet-custody/models"
	"wallet-custody/observability"
	"wallet-custody/services"
)

// mnemonicEntropyBytes yields a 24-word mnemonic
const mnemonicEntropyBytes = 32

// Custody handles seed material. It never persists plaintext.
type Custody struct {
	keys      services.KeyPairProvider
	entropy   services.EntropySource
	hasher    *cryptography.Hasher
	remoteLen int
	localLen  int
	metrics   *observability.Metrics
}

// New creates a Custody. remoteLen and localLen size the two halves of the
// mnemonic entropy pool.
func New(keys services.KeyPairProvider, entropy services.EntropySource, hasher *cryptography.Hasher, remoteLen, localLen int, metrics *observability.Metrics) *Custody {
	if metrics == nil {
		metrics = observability.GetMetrics()
	}
	return &Custody{
		keys:      keys,
		entropy:   entropy,
		hasher:    hasher,
		remoteLen: remoteLen,
		localLen:  localLen,
		metrics:   metrics,
	}
}

// Encrypt seals plaintext to a client public key
func (c *Custody) Encrypt(publicKeyHex, plaintext string) (*models.SeedEnvelope, error) {
	return cryptography.Encrypt(publicKeyHex, []byte(plaintext))
}

// Decrypt opens an envelope sealed to the user's custodial key. Every failure
// collapses to ("", false); the cause is only logged.
func (c *Custody) Decrypt(ctx context.Context, userID uuid.UUID, env *models.SeedEnvelope) (string, bool) {
	log := observability.WithUser(ctx, userID.String())

	kp, err := c.keys.GetKeyPair(ctx, userID.String())
	if err != nil {
		log.Warn("seed decrypt: key pair lookup failed", "error", err)
		c.metrics.RecordSeedDecryptFailure()
		return "", false
	}
	if kp == nil || kp.KeyPair.PrivateKey == "" {
		log.Warn("seed decrypt: no custodial key pair for user")
		c.metrics.RecordSeedDecryptFailure()
		return "", false
	}

	plaintext, err := cryptography.Decrypt(kp.KeyPair.PrivateKey, env)
	if err != nil {
		log.Warn("seed decrypt: envelope rejected", "error", err)
		c.metrics.RecordSeedDecryptFailure()
		return "", false
	}

	return string(plaintext), true
}

// DedupeHash returns the salted fingerprint used to detect re-imports
func (c *Custody) DedupeHash(ctx context.Context, seed, salt string) (string, error) {
	h, err := c.hasher.ComputeHash(ctx, seed, salt)
	if err != nil {
		return "", err
	}
	return h.Data, nil
}

// GenerateSalt returns a fresh per-user hashing salt
func (c *Custody) GenerateSalt() (string, error) {
	return c.hasher.GenerateSalt()
}

// GenerateMnemonic builds a 24-word mnemonic from remote entropy mixed with
// local randomness. A failing remote source is an error.
func (c *Custody) GenerateMnemonic(ctx context.Context) (string, error) {
	remote, err := c.entropy.RandomBytes(ctx, c.remoteLen)
	if err != nil {
		return "", fmt.Errorf("failed to fetch remote entropy: %w", err)
	}

	pool := make([]byte, c.localLen, c.localLen+len(remote))
	if _, err := crand.Read(pool); err != nil {
		return "", fmt.Errorf("failed to read local entropy: %w", err)
	}
	pool = append(pool, remote...)

	entropy, err := shuffleTruncate(pool, mnemonicEntropyBytes)
	if err != nil {
		return "", err
	}

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("failed to build mnemonic: %w", err)
	}
	return mnemonic, nil
}

// shuffleTruncate permutes pool with a freshly seeded ChaCha8 stream and keeps n bytes
func shuffleTruncate(pool []byte, n int) ([]byte, error) {
	if len(pool) < n {
		return nil, fmt.Errorf("entropy pool holds %d bytes, need %d", len(pool), n)
	}

	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("failed to seed shuffle: %w", err)
	}
	rng := rand.New(rand.NewChaCha8(seed))
	rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })

	out := make([]byte, n)
	copy(out, pool[:n])
	return out, nil
}
