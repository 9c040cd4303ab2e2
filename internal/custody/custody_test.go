package custody

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tyler-smith/go-bip39"

	"wallet-custody/internal/cryptography"
	"wallet-custody/observability"
	"wallet-custody/services"
)

type fakeKeys struct {
	mu    sync.Mutex
	pairs map[string]cryptography.Identity
	err   error
}

func newFakeKeys() *fakeKeys {
	return &fakeKeys{pairs: make(map[string]cryptography.Identity)}
}

func (f *fakeKeys) identity(t *testing.T, userID uuid.UUID) cryptography.Identity {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.pairs[userID.String()]; ok {
		return id
	}
	id, err := cryptography.NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity failed: %v", err)
	}
	f.pairs[userID.String()] = id
	return id
}

func (f *fakeKeys) GetKeyPair(ctx context.Context, userID string) (*services.KMSKeyPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	id, ok := f.pairs[userID]
	if !ok {
		return nil, nil
	}
	return &services.KMSKeyPair{KeyPair: services.KeyPair{PrivateKey: id.PrivateKey, PublicKey: id.PublicKey}}, nil
}

func (f *fakeKeys) GetOrCreateKeyPair(ctx context.Context, userID string) (*services.KMSKeyPair, error) {
	return f.GetKeyPair(ctx, userID)
}

type fakeEntropy struct {
	calls []int
	err   error
}

func (f *fakeEntropy) RandomBytes(ctx context.Context, n int) ([]byte, error) {
	f.calls = append(f.calls, n)
	if f.err != nil {
		return nil, f.err
	}
	return bytes.Repeat([]byte{0xAB}, n), nil
}

func newTestCustody() (*Custody, *fakeKeys, *fakeEntropy) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	hasher := cryptography.NewHasher(cryptography.HashParams{MemoryKiB: 64, Iterations: 1, Parallelism: 2, KeyLength: 64}, 4, metrics)
	keys := newFakeKeys()
	entropy := &fakeEntropy{}
	return New(keys, entropy, hasher, 256, 128, metrics), keys, entropy
}

func TestGenerateMnemonic(t *testing.T) {
	c, _, entropy := newTestCustody()

	m, err := c.GenerateMnemonic(context.Background())
	if err != nil {
		t.Fatalf("GenerateMnemonic failed: %v", err)
	}
	if words := strings.Fields(m); len(words) != 24 {
		t.Errorf("word count = %d, want 24", len(words))
	}
	if !bip39.IsMnemonicValid(m) {
		t.Error("mnemonic should pass bip39 validation")
	}
	if len(entropy.calls) != 1 || entropy.calls[0] != 256 {
		t.Errorf("remote entropy calls = %v, want [256]", entropy.calls)
	}

	other, _ := c.GenerateMnemonic(context.Background())
	if other == m {
		t.Error("two mnemonics should differ")
	}
}

func TestGenerateMnemonic_RemoteFailure(t *testing.T) {
	c, _, entropy := newTestCustody()
	entropy.err = errors.New("kms unavailable")

	_, err := c.GenerateMnemonic(context.Background())
	if err == nil || !errors.Is(err, entropy.err) {
		t.Errorf("GenerateMnemonic error = %v, want wrapped remote failure", err)
	}
}

func TestShuffleTruncate(t *testing.T) {
	pool := make([]byte, 384)
	for i := range pool {
		pool[i] = byte(i % 7)
	}
	counts := map[byte]int{}
	for _, b := range pool {
		counts[b]++
	}

	out, err := shuffleTruncate(pool, 32)
	if err != nil {
		t.Fatalf("shuffleTruncate failed: %v", err)
	}
	if len(out) != 32 {
		t.Errorf("len = %d, want 32", len(out))
	}

	after := map[byte]int{}
	for _, b := range pool {
		after[b]++
	}
	for k, v := range counts {
		if after[k] != v {
			t.Errorf("shuffle changed the pool contents for byte %d: %d -> %d", k, v, after[k])
		}
	}

	if _, err := shuffleTruncate(make([]byte, 10), 32); err == nil {
		t.Error("a pool smaller than the output should fail")
	}
}

func TestEncryptDecrypt(t *testing.T) {
	c, keys, _ := newTestCustody()
	userID := uuid.New()
	custodial := keys.identity(t, userID)

	env, err := c.Encrypt(custodial.PublicKey, "seed words")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	got, ok := c.Decrypt(context.Background(), userID, env)
	if !ok || got != "seed words" {
		t.Errorf("Decrypt = %q, %v; want seed words, true", got, ok)
	}
}

func TestDecrypt_Failures(t *testing.T) {
	c, keys, _ := newTestCustody()
	ctx := context.Background()
	owner := uuid.New()
	other := uuid.New()
	keys.identity(t, other)

	env, _ := c.Encrypt(keys.identity(t, owner).PublicKey, "seed words")

	t.Run("unknown user", func(t *testing.T) {
		if _, ok := c.Decrypt(ctx, uuid.New(), env); ok {
			t.Error("Decrypt should fail without a key pair")
		}
	})

	t.Run("sealed to someone else", func(t *testing.T) {
		if _, ok := c.Decrypt(ctx, other, env); ok {
			t.Error("Decrypt should fail with the wrong key")
		}
	})

	t.Run("kms error", func(t *testing.T) {
		keys.err = errors.New("boom")
		defer func() { keys.err = nil }()
		if _, ok := c.Decrypt(ctx, owner, env); ok {
			t.Error("Decrypt should fail when the KMS fails")
		}
	})
}

func TestDedupeHash(t *testing.T) {
	c, _, _ := newTestCustody()
	ctx := context.Background()

	a, err := c.DedupeHash(ctx, "seed words", "salt-1")
	if err != nil {
		t.Fatalf("DedupeHash failed: %v", err)
	}
	b, _ := c.DedupeHash(ctx, "seed words", "salt-1")
	d, _ := c.DedupeHash(ctx, "seed words", "salt-2")

	if a != b {
		t.Error("DedupeHash should be deterministic")
	}
	if a == d {
		t.Error("different salts should give different hashes")
	}
}
