package models

import (
	"time"

	"github.com/google/uuid"
)

// MultisigAsset is a derived multisig address and the parameters it was built from
type MultisigAsset struct {
	ID           uuid.UUID `json:"id"`
	Address      string    `json:"address"`
	Version      int       `json:"version"`
	Threshold    int       `json:"threshold"`
	Participants []string  `json:"participants"`
	CreatedBy    uuid.UUID `json:"created_by"`
	CreatedAt    time.Time `json:"created_at"`
}

type MultisigParticipant struct {
	ID            uuid.UUID         `json:"id"`
	TransactionID uuid.UUID         `json:"transaction_id"`
	UserID        uuid.UUID         `json:"user_id"`
	Address       string            `json:"address"`
	Status        ParticipantStatus `json:"status"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

type ParticipantStatus string

const (
	ParticipantStatusPendingApproval ParticipantStatus = "pending_approval"
	ParticipantStatusApproved        ParticipantStatus = "approved"
	ParticipantStatusRejected        ParticipantStatus = "rejected"
)

// ApprovalOutcome is the result of applying one participant's approval
type ApprovalOutcome struct {
	Transaction *Transaction
	// Applied is false when the participant had already approved
	Applied bool
	// Promoted is true when this approval reached the threshold
	Promoted bool
}
