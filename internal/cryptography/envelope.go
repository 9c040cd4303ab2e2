package cryptography

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/crypto/ecies"

	"wallet-custody/models"
)

const (
	ivSize  = 16
	keySize = 32 // AES-256
)

var (
	ErrEnvelopeIncomplete = errors.New("envelope is missing fields")
	ErrEnvelopeMAC        = errors.New("envelope mac mismatch")
)

// Encrypt seals plaintext to publicKey. The result can be opened only with the
// matching private key and is compatible with eth-crypto's decryptWithPrivateKey.
func Encrypt(publicKey string, plaintext []byte) (*models.SeedEnvelope, error) {
	pub, err := ParsePublicKey(publicKey)
	if err != nil {
		return nil, err
	}

	ephemeral, err := ecies.GenerateKey(rand.Reader, crypto.S256(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}

	encKey, macKey, err := deriveKeys(ephemeral, ecies.ImportECDSAPublic(pub))
	if err != nil {
		return nil, err
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	ephemPub := crypto.FromECDSAPub(ephemeral.PublicKey.ExportECDSA())

	return &models.SeedEnvelope{
		IV:             hex.EncodeToString(iv),
		EphemPublicKey: hex.EncodeToString(ephemPub),
		Ciphertext:     hex.EncodeToString(ciphertext),
		MAC:            hex.EncodeToString(envelopeMAC(macKey, iv, ephemPub, ciphertext)),
	}, nil
}

// Decrypt opens env with a hex private key
func Decrypt(privateKey string, env *models.SeedEnvelope) ([]byte, error) {
	if !env.Complete() {
		return nil, ErrEnvelopeIncomplete
	}

	key, err := parsePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}

	iv, err := hex.DecodeString(env.IV)
	if err != nil || len(iv) != ivSize {
		return nil, fmt.Errorf("invalid iv")
	}
	ciphertext, err := hex.DecodeString(env.Ciphertext)
	if err != nil || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("invalid ciphertext")
	}
	mac, err := hex.DecodeString(env.MAC)
	if err != nil {
		return nil, fmt.Errorf("invalid mac")
	}
	ephemPubKey, err := ParsePublicKey(env.EphemPublicKey)
	if err != nil {
		return nil, fmt.Errorf("invalid ephemeral public key: %w", err)
	}
	ephemPub := crypto.FromECDSAPub(ephemPubKey)

	encKey, macKey, err := deriveKeys(ecies.ImportECDSA(key), ecies.ImportECDSAPublic(ephemPubKey))
	if err != nil {
		return nil, err
	}

	if !hmac.Equal(mac, envelopeMAC(macKey, iv, ephemPub, ciphertext)) {
		return nil, ErrEnvelopeMAC
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return pkcs7Unpad(plaintext, aes.BlockSize)
}

// deriveKeys runs ECDH and splits sha512(x) into encryption and mac keys
func deriveKeys(priv *ecies.PrivateKey, pub *ecies.PublicKey) ([]byte, []byte, error) {
	shared, err := priv.GenerateShared(pub, keySize, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to derive shared secret: %w", err)
	}
	hash := sha512.Sum512(shared)
	return hash[:keySize], hash[keySize:], nil
}

func envelopeMAC(macKey, iv, ephemPub, ciphertext []byte) []byte {
	h := hmac.New(sha256.New, macKey)
	h.Write(iv)
	h.Write(ephemPub)
	h.Write(ciphertext)
	return h.Sum(nil)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(append([]byte(nil), data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padding")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("invalid padding")
		}
	}
	return data[:len(data)-n], nil
}
