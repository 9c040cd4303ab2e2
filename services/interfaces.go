package services

import (
	"context"
)

// KeyPairProvider fetches custodial keypairs from the KMS
type KeyPairProvider interface {
	GetKeyPair(ctx context.Context, userID string) (*KMSKeyPair, error)
	GetOrCreateKeyPair(ctx context.Context, userID string) (*KMSKeyPair, error)
}

// EntropySource supplies remote random bytes for wallet generation
type EntropySource interface {
	RandomBytes(ctx context.Context, n int) ([]byte, error)
}

// Compile-time interface verification
var _ KeyPairProvider = (*KMSClient)(nil)
var _ EntropySource = (*KMSClient)(nil)
var _ EntropySource = (*AWSEntropySource)(nil)
