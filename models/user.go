package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID             uuid.UUID `json:"id"`
	ExternalUserID string    `json:"external_user_id"`
	Email          *string   `json:"email,omitempty"`
	HashingSalt    *string   `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

func NewUser(externalUserID string) *User {
	return &User{
		ID:             uuid.New(),
		ExternalUserID: externalUserID,
		CreatedAt:      time.Now(),
	}
}

// AuthPublicKey binds a client's secp256k1 identity key to a user, together with
// the custodial public key the client encrypts seed material to.
type AuthPublicKey struct {
	ID                uuid.UUID `json:"id"`
	UserID            uuid.UUID `json:"user_id"`
	ClientAuthPubKey  string    `json:"client_auth_pub_key"`
	WallabyAuthPubKey string    `json:"wallaby_auth_pub_key"`
	CreatedAt         time.Time `json:"created_at"`
}

// AuthToken is an issued bearer access token
type AuthToken struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	Token     string          `json:"-"`
	Status    AuthTokenStatus `json:"status"`
	ExpiresAt time.Time       `json:"expires_at"`
	CreatedAt time.Time       `json:"created_at"`
}

type AuthTokenStatus string

const (
	AuthTokenStatusActive  AuthTokenStatus = "active"
	AuthTokenStatusRevoked AuthTokenStatus = "revoked"
)
