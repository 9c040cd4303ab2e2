package models

import (
	"time"

	"github.com/google/uuid"
)

// Challenge is a one-time message a client must sign with its auth key
type Challenge struct {
	ID              uuid.UUID       `json:"id"`
	ClientPublicKey string          `json:"client_public_key"`
	Message         string          `json:"message"`
	Status          ChallengeStatus `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
}

type ChallengeStatus string

const (
	ChallengeStatusPending ChallengeStatus = "pending"
	ChallengeStatusUsed    ChallengeStatus = "used"
)

func NewChallenge(clientPublicKey, message string) *Challenge {
	return &Challenge{
		ID:              uuid.New(),
		ClientPublicKey: clientPublicKey,
		Message:         message,
		Status:          ChallengeStatusPending,
		CreatedAt:       time.Now(),
	}
}

// ExpiredAt reports whether the challenge is older than ttl at now
func (c *Challenge) ExpiredAt(now time.Time, ttl time.Duration) bool {
	return now.Sub(c.CreatedAt) > ttl
}

// SignedRequest is the proof a client attaches to a guarded call
type SignedRequest struct {
	Signature        string `json:"signature"`
	Message          string `json:"message"`
	ClientAuthPubKey string `json:"clientAuthPubKey"`
}

// SeedEnvelope is an ECIES ciphertext in the eth-crypto JSON layout
type SeedEnvelope struct {
	IV             string `json:"iv"`
	EphemPublicKey string `json:"ephemPublicKey"`
	Ciphertext     string `json:"ciphertext"`
	MAC            string `json:"mac"`
}

// Complete reports whether every envelope field is populated
func (e *SeedEnvelope) Complete() bool {
	return e != nil && e.IV != "" && e.EphemPublicKey != "" && e.Ciphertext != "" && e.MAC != ""
}
