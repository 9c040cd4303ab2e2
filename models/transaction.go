package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Transaction struct {
	ID                          uuid.UUID         `json:"id"`
	MultisigAddress             string            `json:"multisig_address"`
	FromAddress                 string            `json:"from_address"`
	ToAddress                   string            `json:"to_address"`
	Amount                      decimal.Decimal   `json:"amount"`
	Fee                         decimal.Decimal   `json:"fee"`
	Note                        string            `json:"note,omitempty"`
	Status                      TransactionStatus `json:"status"`
	MultisigVersion             int               `json:"multisig_version"`
	MultisigSignerThreshold     int               `json:"multisig_signer_threshold"`
	MultisigSignerApprovedCount int               `json:"multisig_signer_approved_count"`
	TxBlob                      string            `json:"tx_blob,omitempty"`
	TxHash                      string            `json:"tx_hash,omitempty"`
	CreatedBy                   uuid.UUID         `json:"created_by"`
	CreatedAt                   time.Time         `json:"created_at"`
	UpdatedAt                   time.Time         `json:"updated_at"`
}

type TransactionStatus string

const (
	TransactionStatusPendingApproval TransactionStatus = "PENDING-APPROVAL"
	TransactionStatusPending         TransactionStatus = "PENDING"
	TransactionStatusSuccessful      TransactionStatus = "SUCCESSFUL"
	TransactionStatusFailed          TransactionStatus = "FAILED"
)

// IsTerminal reports whether no further transitions are possible
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusSuccessful || s == TransactionStatusFailed
}

// BroadcastEligible reports whether the quorum has been reached
func (t *Transaction) BroadcastEligible() bool {
	return t.Status == TransactionStatusPending && t.MultisigSignerApprovedCount == t.MultisigSignerThreshold
}

func NewMultisigTransaction(asset *MultisigAsset, createdBy uuid.UUID, to string, amount, fee decimal.Decimal) *Transaction {
	now := time.Now()
	return &Transaction{
		ID:                      uuid.New(),
		MultisigAddress:         asset.Address,
		FromAddress:             asset.Address,
		ToAddress:               to,
		Amount:                  amount,
		Fee:                     fee,
		Status:                  TransactionStatusPendingApproval,
		MultisigVersion:         asset.Version,
		MultisigSignerThreshold: asset.Threshold,
		CreatedBy:               createdBy,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
}
