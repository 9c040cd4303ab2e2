// Package cryptography holds the secp256k1 signature scheme, the ECIES seed
// envelope, and the memory-hard hasher used for seed deduplication.
package cryptography

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Identity is a secp256k1 keypair in the hex formats clients exchange.
// PublicKey is the 64-byte uncompressed point without the 04 prefix.
type Identity struct {
	PrivateKey string `json:"privateKey"`
	PublicKey  string `json:"publicKey"`
	Address    string `json:"address"`
}

// NewIdentity generates a fresh keypair
func NewIdentity() (Identity, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return Identity{}, fmt.Errorf("failed to generate key: %w", err)
	}
	return identityFromKey(key), nil
}

// IdentityFromPrivateKey rebuilds an Identity from a hex private key
func IdentityFromPrivateKey(privateKeyHex string) (Identity, error) {
	key, err := parsePrivateKey(privateKeyHex)
	if err != nil {
		return Identity{}, err
	}
	return identityFromKey(key), nil
}

func identityFromKey(key *ecdsa.PrivateKey) Identity {
	return Identity{
		PrivateKey: hex.EncodeToString(crypto.FromECDSA(key)),
		PublicKey:  encodePublicKey(&key.PublicKey),
		Address:    crypto.PubkeyToAddress(key.PublicKey).Hex(),
	}
}

// PublicKeyFromPrivate returns the 128-hex public key for a hex private key
func PublicKeyFromPrivate(privateKeyHex string) (string, error) {
	id, err := IdentityFromPrivateKey(privateKeyHex)
	if err != nil {
		return "", err
	}
	return id.PublicKey, nil
}

// Sign hashes message with keccak256 and returns a 0x-prefixed r||s||v
// signature with v in {27, 28}.
func Sign(message, privateKeyHex string) (string, error) {
	key, err := parsePrivateKey(privateKeyHex)
	if err != nil {
		return "", err
	}

	sig, err := crypto.Sign(crypto.Keccak256([]byte(message)), key)
	if err != nil {
		return "", fmt.Errorf("failed to sign message: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27

	return "0x" + hex.EncodeToString(sig), nil
}

// Recover returns the 128-hex public key that produced signature over message
func Recover(message, signature string) (string, error) {
	sig, err := hex.DecodeString(strip0x(signature))
	if err != nil {
		return "", fmt.Errorf("signature is not hex: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return "", fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(crypto.Keccak256([]byte(message)), sig)
	if err != nil {
		return "", fmt.Errorf("failed to recover public key: %w", err)
	}
	return encodePublicKey(pub), nil
}

// Verify reports whether signature over message was produced by publicKey.
// Any malformed input yields false.
func Verify(message, signature, publicKey string) bool {
	expected, err := NormalizePublicKey(publicKey)
	if err != nil {
		return false
	}
	recovered, err := Recover(message, signature)
	if err != nil {
		return false
	}
	return strings.EqualFold(recovered, expected)
}

// NormalizePublicKey accepts a raw 64-byte, 04-prefixed 65-byte, or compressed
// 33-byte hex public key and returns the lowercase 128-hex form.
func NormalizePublicKey(publicKey string) (string, error) {
	pub, err := ParsePublicKey(publicKey)
	if err != nil {
		return "", err
	}
	return encodePublicKey(pub), nil
}

// ParsePublicKey decodes any supported hex public key encoding
func ParsePublicKey(publicKey string) (*ecdsa.PublicKey, error) {
	raw, err := hex.DecodeString(strip0x(strings.TrimSpace(publicKey)))
	if err != nil {
		return nil, fmt.Errorf("public key is not hex: %w", err)
	}

	switch len(raw) {
	case 64:
		return crypto.UnmarshalPubkey(append([]byte{0x04}, raw...))
	case 65:
		return crypto.UnmarshalPubkey(raw)
	case 33:
		return crypto.DecompressPubkey(raw)
	default:
		return nil, fmt.Errorf("unsupported public key length %d", len(raw))
	}
}

func parsePrivateKey(privateKeyHex string) (*ecdsa.PrivateKey, error) {
	privateKeyHex = strip0x(strings.TrimSpace(privateKeyHex))
	if privateKeyHex == "" {
		return nil, errors.New("private key is empty")
	}
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

func encodePublicKey(pub *ecdsa.PublicKey) string {
	return hex.EncodeToString(crypto.FromECDSAPub(pub)[1:])
}

func strip0x(s string) string {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return s[2:]
	}
	return s
}
