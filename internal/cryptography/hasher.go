package cryptography

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/text/unicode/norm"

	"wallet-custody/observability"
)

const saltBytes = 64

// HashParams tunes the argon2id cost
type HashParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	KeyLength   uint32
}

// DefaultHashParams matches production defaults
var DefaultHashParams = HashParams{
	MemoryKiB:   64 * 1024,
	Iterations:  3,
	Parallelism: 4,
	KeyLength:   64,
}

// Hash is a computed digest together with the salt that produced it
type Hash struct {
	Data string `json:"data"`
	Salt string `json:"salt"`
}

var ErrMalformedHash = errors.New("malformed argon2id hash")

// Hasher computes deterministic salted argon2id digests. At most maxConcurrent
// computations run at once; callers beyond that wait or give up with their context.
type Hasher struct {
	params  HashParams
	sem     chan struct{}
	metrics *observability.Metrics
}

// NewHasher creates a hasher bounded to maxConcurrent in-flight computations
func NewHasher(params HashParams, maxConcurrent int, metrics *observability.Metrics) *Hasher {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Hasher{
		params:  params,
		sem:     make(chan struct{}, maxConcurrent),
		metrics: metrics,
	}
}

// GenerateSalt returns 64 random bytes, hex encoded
func (h *Hasher) GenerateSalt() (string, error) {
	buf := make([]byte, saltBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// ComputeHash derives the encoded digest of data under salt. The same inputs
// always produce the same output.
func (h *Hasher) ComputeHash(ctx context.Context, data, salt string) (Hash, error) {
	if salt == "" {
		return Hash{}, errors.New("salt is required")
	}

	key, err := h.derive(ctx, data, salt, h.params)
	if err != nil {
		return Hash{}, err
	}
	return Hash{Data: encodeHash(h.params, salt, key), Salt: salt}, nil
}

// VerifyHashMatch re-derives raw with the parameters and salt embedded in
// encoded and reports whether the digests match.
func (h *Hasher) VerifyHashMatch(ctx context.Context, encoded, raw string) (bool, error) {
	params, salt, want, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}

	got, err := h.derive(ctx, raw, salt, params)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func (h *Hasher) derive(ctx context.Context, data, salt string, params HashParams) ([]byte, error) {
	select {
	case h.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-h.sem }()

	if h.metrics != nil {
		defer h.metrics.NewTimer().ObserveHash("argon2id")
	}

	return argon2.IDKey(
		norm.NFKC.Bytes([]byte(data)),
		norm.NFKC.Bytes([]byte(salt)),
		params.Iterations,
		params.MemoryKiB,
		params.Parallelism,
		params.KeyLength,
	), nil
}

func encodeHash(p HashParams, salt string, key []byte) string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.MemoryKiB, p.Iterations, p.Parallelism,
		base64.RawStdEncoding.EncodeToString([]byte(salt)),
		base64.RawStdEncoding.EncodeToString(key))
}

func decodeHash(encoded string) (HashParams, string, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return HashParams{}, "", nil, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return HashParams{}, "", nil, ErrMalformedHash
	}

	var p HashParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.MemoryKiB, &p.Iterations, &p.Parallelism); err != nil {
		return HashParams{}, "", nil, ErrMalformedHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return HashParams{}, "", nil, ErrMalformedHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return HashParams{}, "", nil, ErrMalformedHash
	}
	p.KeyLength = uint32(len(key))

	return p, string(salt), key, nil
}
