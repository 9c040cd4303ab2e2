package app

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/prometheus/client_golang/prometheus"

	"wallet-custody/config"
	"wallet-custody/observability"
	"wallet-custody/repository"
	"wallet-custody/services"
)

type stubKeys struct{}

func (stubKeys) GetKeyPair(ctx context.Context, userID string) (*services.KMSKeyPair, error) {
	return nil, nil
}

func (stubKeys) GetOrCreateKeyPair(ctx context.Context, userID string) (*services.KMSKeyPair, error) {
	return nil, nil
}

type stubEntropy struct{}

func (stubEntropy) RandomBytes(ctx context.Context, n int) ([]byte, error) {
	return make([]byte, n), nil
}

func testMetrics() *observability.Metrics {
	return observability.NewMetrics(prometheus.NewRegistry())
}

func TestNew(t *testing.T) {
	a, err := New(config.NewTestConfig(), Deps{
		Repo:    repository.NewMemoryStore(),
		Keys:    stubKeys{},
		Entropy: stubEntropy{},
		Metrics: testMetrics(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if a.Gate() == nil || a.Challenges() == nil || a.Tokens() == nil || a.SignUp() == nil || a.Wallets() == nil || a.Multisig() == nil {
		t.Error("every service should be wired")
	}
}

func TestNew_MissingDeps(t *testing.T) {
	cfg := config.NewTestConfig()

	tests := []struct {
		name string
		deps Deps
	}{
		{"no repo", Deps{Keys: stubKeys{}, Entropy: stubEntropy{}}},
		{"no keys", Deps{Repo: repository.NewMemoryStore(), Entropy: stubEntropy{}}},
		{"keys without entropy", Deps{Repo: repository.NewMemoryStore(), Keys: stubKeys{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(cfg, tt.deps); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNew_KMSDoublesAsEntropy(t *testing.T) {
	kms := services.NewKMSClient("http://kms.invalid", "token", "wallaby-auth", 0)

	_, err := New(config.NewTestConfig(), Deps{Repo: repository.NewMemoryStore(), Keys: kms, Metrics: testMetrics()})
	if err != nil {
		t.Errorf("KMS client should serve as the entropy source: %v", err)
	}
}

func TestNewEntropySource(t *testing.T) {
	ctx := context.Background()
	kms := services.NewKMSClient("http://kms.invalid", "token", "wallaby-auth", 0)

	t.Run("kms", func(t *testing.T) {
		cfg := config.NewTestConfig()
		src, err := NewEntropySource(ctx, cfg, kms)
		if err != nil {
			t.Fatalf("NewEntropySource failed: %v", err)
		}
		if src != services.EntropySource(kms) {
			t.Error("kms source should be the KMS client")
		}
	})

	t.Run("kms without client", func(t *testing.T) {
		cfg := config.NewTestConfig()
		if _, err := NewEntropySource(ctx, cfg, nil); err == nil {
			t.Error("expected error without a KMS client")
		}
	})

	t.Run("unknown", func(t *testing.T) {
		cfg := config.NewTestConfig()
		cfg.Entropy.Source = "dice"
		if _, err := NewEntropySource(ctx, cfg, kms); err == nil {
			t.Error("expected error for unknown source")
		}
	})
}

func TestBitcoinNet(t *testing.T) {
	tests := []struct {
		env  config.Environment
		want *chaincfg.Params
	}{
		{config.EnvProduction, &chaincfg.MainNetParams},
		{config.EnvStaging, &chaincfg.TestNet3Params},
		{config.EnvTest, &chaincfg.TestNet3Params},
	}

	for _, tt := range tests {
		t.Run(string(tt.env), func(t *testing.T) {
			if got := BitcoinNet(tt.env); got.Name != tt.want.Name {
				t.Errorf("BitcoinNet(%s) = %s, want %s", tt.env, got.Name, tt.want.Name)
			}
		})
	}
}

func TestParseUUID(t *testing.T) {
	if _, err := ParseUUID("not-a-uuid"); err == nil {
		t.Error("expected error for invalid UUID")
	}
	id, err := ParseUUID("7f1c0c4e-8d7a-4c7e-9a39-2f4f0f1b6c11")
	if err != nil || id.String() != "7f1c0c4e-8d7a-4c7e-9a39-2f4f0f1b6c11" {
		t.Errorf("ParseUUID = %v, %v", id, err)
	}
}
