package models

import (
	"time"

	"github.com/google/uuid"
)

// APIKey is a platform-issued key that integrators send in X-API-KEY
type APIKey struct {
	ID                  uuid.UUID    `json:"id"`
	Key                 string       `json:"-"`
	Name                string       `json:"name"`
	Status              APIKeyStatus `json:"status"`
	AllowMobileAccess   bool         `json:"allow_mobile_access"`
	OnlyDashboardAccess bool         `json:"only_dashboard_access"`
	ClientJWTPublicKey  *string      `json:"client_jwt_public_key,omitempty"`
	Origins             []string     `json:"origins"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

type APIKeyStatus string

const (
	APIKeyStatusActive    APIKeyStatus = "active"
	APIKeyStatusSuspended APIKeyStatus = "suspended"
	APIKeyStatusRevoked   APIKeyStatus = "revoked"
)

// IsActive reports whether the key may authenticate requests
func (k *APIKey) IsActive() bool {
	return k.Status == APIKeyStatusActive
}

// JWTPublicKey returns the registered client JWT verification key, or "" when unset
func (k *APIKey) JWTPublicKey() string {
	if k.ClientJWTPublicKey == nil {
		return ""
	}
	return *k.ClientJWTPublicKey
}

func NewAPIKey(key, name string, origins []string) *APIKey {
	now := time.Now()
	return &APIKey{
		ID:        uuid.New(),
		Key:       key,
		Name:      name,
		Status:    APIKeyStatusActive,
		Origins:   origins,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
