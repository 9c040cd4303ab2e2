// Package multisig creates Algorand multisig assets and aggregates participant
// approvals of their transactions up to the signing threshold.
package multisig

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"wallet-custody/internal/apperrors"
	"wallet-custody/models"
	"wallet-custody/observability"
	"wallet-custody/repository"
)

// Store is the persistence the coordinator needs
type Store interface {
	FindAccountsByAddresses(ctx context.Context, addresses []string) ([]models.Account, error)
	FindMultisigAsset(ctx context.Context, address string) (*models.MultisigAsset, error)
	InsertMultisigAsset(ctx context.Context, a *models.MultisigAsset) (bool, error)
	CreateMultisigTransaction(ctx context.Context, t *models.Transaction, participants []models.MultisigParticipant) error
	FindTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	FindMultisigParticipant(ctx context.Context, transactionID uuid.UUID, address string) (*models.MultisigParticipant, error)
	ListMultisigParticipants(ctx context.Context, transactionID uuid.UUID) ([]models.MultisigParticipant, error)
	ApproveMultisigParticipant(ctx context.Context, participantID, transactionID uuid.UUID, txBlob string) (*models.ApprovalOutcome, error)
	RejectMultisigParticipant(ctx context.Context, participantID, transactionID uuid.UUID) (*models.Transaction, bool, error)
	TransitionTransaction(ctx context.Context, id uuid.UUID, from, to models.TransactionStatus, txHash string) (bool, error)
}

// Broadcaster submits fully approved transactions to the chain
type Broadcaster interface {
	Submit(ctx context.Context, tx *models.Transaction) error
}

// CreateMultisigInput describes a multisig account. Participants must include
// the creator.
type CreateMultisigInput struct {
	Version        int      `json:"version"`
	Threshold      int      `json:"threshold"`
	Participants   []string `json:"participants"`
	CreatorAddress string   `json:"creatorAddress"`
}

// InitTransactionInput starts a transfer out of a multisig account
type InitTransactionInput struct {
	MultisigAddress string          `json:"multisigAddress"`
	SignerAddress   string          `json:"signerAddress"`
	ToAddress       string          `json:"toAddress"`
	Amount          decimal.Decimal `json:"amount"`
	Fee             decimal.Decimal `json:"fee"`
	Note            string          `json:"note"`
	TxBlob          string          `json:"txBlob"`
}

// SignInput approves a transaction on behalf of one participant
type SignInput struct {
	TransactionID uuid.UUID `json:"transactionId"`
	SignerAddress string    `json:"signerAddress"`
	SignedTxBlob  string    `json:"signedTxBlob"`
}

// RejectInput declines a transaction on behalf of one participant
type RejectInput struct {
	TransactionID uuid.UUID `json:"transactionId"`
	SignerAddress string    `json:"signerAddress"`
}

// TransactionDetails is a transaction with its participants
type TransactionDetails struct {
	Transaction  *models.Transaction          `json:"transaction"`
	Participants []models.MultisigParticipant `json:"participants"`
}

// Coordinator runs the multisig state machine
type Coordinator struct {
	store          Store
	broadcaster    Broadcaster
	defaultVersion int
	metrics        *observability.Metrics
}

// NewCoordinator creates a coordinator. broadcaster may be nil, in which case
// fully approved transactions wait for RecordBroadcastResult.
func NewCoordinator(store Store, broadcaster Broadcaster, defaultVersion int, metrics *observability.Metrics) *Coordinator {
	if defaultVersion <= 0 {
		defaultVersion = 1
	}
	if metrics == nil {
		metrics = observability.GetMetrics()
	}
	return &Coordinator{store: store, broadcaster: broadcaster, defaultVersion: defaultVersion, metrics: metrics}
}

// CreateOrGet returns the multisig asset for the given parameters, creating it
// on first use. The bool reports whether this call created it.
func (c *Coordinator) CreateOrGet(ctx context.Context, caller *models.User, in CreateMultisigInput) (*models.MultisigAsset, bool, error) {
	if caller == nil {
		return nil, false, apperrors.NotFound(apperrors.CodeUserNotFound, "user not found")
	}
	if in.Version == 0 {
		in.Version = c.defaultVersion
	}
	if in.Version < 0 || in.Version > math.MaxUint8 || in.Threshold < 1 || in.Threshold > math.MaxUint8 {
		return nil, false, apperrors.BadRequest(apperrors.CodeRequestPayloadWrongFormat, "version and threshold must be between 1 and 255")
	}
	if len(in.Participants) == 0 || in.CreatorAddress == "" {
		return nil, false, apperrors.BadRequest(apperrors.CodeRequestPayloadMissing, "participants and creatorAddress are required")
	}

	unique := lo.Uniq(in.Participants)
	sort.Strings(unique)

	if len(unique) != len(in.Participants) || !lo.Contains(unique, in.CreatorAddress) {
		return nil, false, apperrors.BadRequest(apperrors.CodeMultisigParticipantsNotUnique, "multisig participants should be unique and include the creator")
	}
	if len(unique) < in.Threshold {
		return nil, false, apperrors.BadRequest(apperrors.CodeMultisigThresholdMismatch,
			fmt.Sprintf("threshold %d exceeds the %d unique participants", in.Threshold, len(unique)))
	}

	addrs := make([]types.Address, len(unique))
	for i, a := range unique {
		decoded, err := types.DecodeAddress(a)
		if err != nil {
			return nil, false, apperrors.BadRequest(apperrors.CodeRequestPayloadWrongFormat, fmt.Sprintf("%s is not a valid address", a)).Wrap(err)
		}
		addrs[i] = decoded
	}

	owners, err := c.owners(ctx, unique)
	if err != nil {
		return nil, false, err
	}
	if owners[in.CreatorAddress] != caller.ID {
		return nil, false, notAllowed()
	}

	msig, err := crypto.MultisigAccountWithParams(uint8(in.Version), uint8(in.Threshold), addrs)
	if err != nil {
		return nil, false, apperrors.BadRequest(apperrors.CodeRequestPayloadWrongFormat, "failed to create multisig, verify the addresses").Wrap(err)
	}
	address, err := msig.Address()
	if err != nil {
		return nil, false, fmt.Errorf("failed to compute multisig address: %w", err)
	}

	existing, err := c.store.FindMultisigAsset(ctx, address.String())
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up multisig asset: %w", err)
	}
	if existing != nil {
		c.metrics.RecordMultisigAsset("existing")
		return existing, false, nil
	}

	asset := &models.MultisigAsset{
		ID:           uuid.New(),
		Address:      address.String(),
		Version:      in.Version,
		Threshold:    in.Threshold,
		Participants: unique,
		CreatedBy:    caller.ID,
		CreatedAt:    time.Now(),
	}
	created, err := c.store.InsertMultisigAsset(ctx, asset)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert multisig asset: %w", err)
	}
	if !created {
		// a concurrent creator won; return its row
		if asset, err = c.store.FindMultisigAsset(ctx, address.String()); err != nil {
			return nil, false, fmt.Errorf("failed to look up multisig asset: %w", err)
		}
		c.metrics.RecordMultisigAsset("existing")
		return asset, false, nil
	}

	observability.WithContext(ctx).Info("multisig asset created",
		"address", asset.Address, "threshold", asset.Threshold, "participants", len(unique))
	c.metrics.RecordMultisigAsset("created")
	return asset, true, nil
}

// owners maps every address to the user owning its account. Any address
// without an account fails the whole call.
func (c *Coordinator) owners(ctx context.Context, addresses []string) (map[string]uuid.UUID, error) {
	accounts, err := c.store.FindAccountsByAddresses(ctx, addresses)
	if err != nil {
		return nil, fmt.Errorf("failed to load participant accounts: %w", err)
	}

	owners := lo.SliceToMap(accounts, func(a models.Account) (string, uuid.UUID) { return a.Address, a.UserID })
	missing := lo.Filter(addresses, func(a string, _ int) bool { _, ok := owners[a]; return !ok })
	if len(missing) > 0 {
		return nil, apperrors.Forbidden(apperrors.CodeMultisigParticipantsNotOnboarded,
			fmt.Sprintf("multisig participants must sign up first, %d address(es) unknown", len(missing)))
	}
	return owners, nil
}

// InitTransaction creates a transfer awaiting approvals and records the
// initiator's own approval
func (c *Coordinator) InitTransaction(ctx context.Context, caller *models.User, in InitTransactionInput) (*models.ApprovalOutcome, error) {
	if caller == nil {
		return nil, apperrors.NotFound(apperrors.CodeUserNotFound, "user not found")
	}
	if in.MultisigAddress == "" || in.SignerAddress == "" || in.ToAddress == "" {
		return nil, apperrors.BadRequest(apperrors.CodeRequestPayloadMissing, "multisigAddress, signerAddress and toAddress are required")
	}
	if !in.Amount.IsPositive() || in.Fee.IsNegative() {
		return nil, apperrors.BadRequest(apperrors.CodeRequestPayloadWrongFormat, "amount must be positive and fee non-negative")
	}

	asset, err := c.store.FindMultisigAsset(ctx, in.MultisigAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to look up multisig asset: %w", err)
	}
	if asset == nil {
		return nil, apperrors.NotFound(apperrors.CodeAssetNotFound, "multisig asset not found")
	}
	if !lo.Contains(asset.Participants, in.SignerAddress) {
		return nil, apperrors.NotFound(apperrors.CodeMultisigParticipantNotFound, "signer is not a participant of this multisig")
	}

	owners, err := c.owners(ctx, asset.Participants)
	if err != nil {
		return nil, err
	}
	if owners[in.SignerAddress] != caller.ID {
		return nil, notAllowed()
	}

	tx := models.NewMultisigTransaction(asset, caller.ID, in.ToAddress, in.Amount, in.Fee)
	tx.Note = in.Note

	participants := lo.Map(asset.Participants, func(addr string, _ int) models.MultisigParticipant {
		return models.MultisigParticipant{
			ID:            uuid.New(),
			TransactionID: tx.ID,
			UserID:        owners[addr],
			Address:       addr,
			Status:        models.ParticipantStatusPendingApproval,
			UpdatedAt:     tx.CreatedAt,
		}
	})

	if err := c.store.CreateMultisigTransaction(ctx, tx, participants); err != nil {
		return nil, fmt.Errorf("failed to create multisig transaction: %w", err)
	}
	observability.WithContext(ctx).Info("multisig transaction initiated",
		"transaction_id", tx.ID, "multisig_address", asset.Address, "threshold", asset.Threshold)

	return c.SignRequest(ctx, caller, SignInput{TransactionID: tx.ID, SignerAddress: in.SignerAddress, SignedTxBlob: in.TxBlob})
}

// SignRequest records one participant's approval. Approving twice is a no-op.
// Reaching the threshold moves the transaction to PENDING and hands it to the
// broadcaster.
func (c *Coordinator) SignRequest(ctx context.Context, caller *models.User, in SignInput) (*models.ApprovalOutcome, error) {
	tx, p, err := c.participantOf(ctx, caller, in.TransactionID, in.SignerAddress)
	if err != nil {
		return nil, err
	}

	switch p.Status {
	case models.ParticipantStatusApproved:
		c.metrics.RecordMultisigApproval("noop")
		return &models.ApprovalOutcome{Transaction: tx}, nil
	case models.ParticipantStatusRejected:
		return nil, alreadyRejected()
	}
	if tx.Status != models.TransactionStatusPendingApproval {
		return nil, notPendingApproval()
	}

	out, err := c.store.ApproveMultisigParticipant(ctx, p.ID, tx.ID, in.SignedTxBlob)
	if errors.Is(err, repository.ErrNotPendingApproval) {
		return nil, notPendingApproval()
	}
	if err != nil {
		return nil, err
	}

	if !out.Applied {
		// the participant changed under us; report what it became
		current, err := c.store.FindMultisigParticipant(ctx, tx.ID, p.Address)
		if err != nil {
			return nil, fmt.Errorf("failed to reload participant: %w", err)
		}
		if current != nil && current.Status == models.ParticipantStatusRejected {
			return nil, alreadyRejected()
		}
		c.metrics.RecordMultisigApproval("noop")
		return out, nil
	}

	c.metrics.RecordMultisigApproval("applied")
	observability.WithContext(ctx).Info("multisig approval recorded",
		"transaction_id", tx.ID,
		"signer", p.Address,
		"approved", out.Transaction.MultisigSignerApprovedCount,
		"threshold", out.Transaction.MultisigSignerThreshold,
	)

	if out.Promoted {
		c.metrics.RecordTransactionTransition(string(models.TransactionStatusPending))
		c.broadcast(ctx, out.Transaction)
	}
	return out, nil
}

func (c *Coordinator) broadcast(ctx context.Context, tx *models.Transaction) {
	log := observability.WithContext(ctx).With("transaction_id", tx.ID)
	if c.broadcaster == nil {
		log.Info("transaction reached threshold, awaiting broadcast")
		return
	}
	if err := c.broadcaster.Submit(ctx, tx); err != nil {
		log.Error("broadcast submit failed, transaction stays pending", "error", err)
	}
}

// RejectRequest records one participant's rejection. When the remaining
// participants can no longer reach the threshold the transaction fails.
func (c *Coordinator) RejectRequest(ctx context.Context, caller *models.User, in RejectInput) (*models.Transaction, error) {
	tx, p, err := c.participantOf(ctx, caller, in.TransactionID, in.SignerAddress)
	if err != nil {
		return nil, err
	}
	if p.Status != models.ParticipantStatusPendingApproval {
		return tx, nil
	}
	if tx.Status != models.TransactionStatusPendingApproval {
		return nil, notPendingApproval()
	}

	updated, applied, err := c.store.RejectMultisigParticipant(ctx, p.ID, tx.ID)
	if err != nil {
		return nil, err
	}
	if applied {
		c.metrics.RecordMultisigApproval("rejected")
		if updated.Status == models.TransactionStatusFailed {
			c.metrics.RecordTransactionTransition(string(models.TransactionStatusFailed))
			observability.WithContext(ctx).Info("multisig transaction failed, threshold unreachable", "transaction_id", tx.ID)
		}
	}
	return updated, nil
}

// RecordBroadcastResult settles a PENDING transaction
func (c *Coordinator) RecordBroadcastResult(ctx context.Context, txID uuid.UUID, txHash string, success bool) (*models.Transaction, error) {
	to := models.TransactionStatusFailed
	if success {
		to = models.TransactionStatusSuccessful
	}

	ok, err := c.store.TransitionTransaction(ctx, txID, models.TransactionStatusPending, to, txHash)
	if err != nil {
		return nil, err
	}

	tx, err := c.store.FindTransaction(ctx, txID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	if tx == nil {
		return nil, transactionNotFound()
	}
	if !ok {
		return nil, apperrors.Conflict(apperrors.CodeTransactionNotPending, fmt.Sprintf("transaction is %s, not PENDING", tx.Status))
	}

	c.metrics.RecordTransactionTransition(string(to))
	return tx, nil
}

// GetTransaction returns a transaction visible to caller as creator or participant
func (c *Coordinator) GetTransaction(ctx context.Context, caller *models.User, txID uuid.UUID) (*TransactionDetails, error) {
	if caller == nil {
		return nil, apperrors.NotFound(apperrors.CodeUserNotFound, "user not found")
	}

	tx, err := c.store.FindTransaction(ctx, txID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	if tx == nil {
		return nil, transactionNotFound()
	}

	participants, err := c.store.ListMultisigParticipants(ctx, txID)
	if err != nil {
		return nil, fmt.Errorf("failed to load participants: %w", err)
	}

	involved := tx.CreatedBy == caller.ID ||
		lo.ContainsBy(participants, func(p models.MultisigParticipant) bool { return p.UserID == caller.ID })
	if !involved {
		return nil, notAllowed()
	}

	return &TransactionDetails{Transaction: tx, Participants: participants}, nil
}

// participantOf loads the transaction and the caller's participant row
func (c *Coordinator) participantOf(ctx context.Context, caller *models.User, txID uuid.UUID, address string) (*models.Transaction, *models.MultisigParticipant, error) {
	if caller == nil {
		return nil, nil, apperrors.NotFound(apperrors.CodeUserNotFound, "user not found")
	}
	if address == "" {
		return nil, nil, apperrors.BadRequest(apperrors.CodeRequestPayloadMissing, "signerAddress is required")
	}

	tx, err := c.store.FindTransaction(ctx, txID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	if tx == nil {
		return nil, nil, transactionNotFound()
	}

	p, err := c.store.FindMultisigParticipant(ctx, txID, address)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load participant: %w", err)
	}
	if p == nil {
		return nil, nil, apperrors.NotFound(apperrors.CodeMultisigParticipantNotFound, "signer is not a participant of this transaction")
	}
	if p.UserID != caller.ID {
		return nil, nil, notAllowed()
	}

	return tx, p, nil
}

func notAllowed() error {
	return apperrors.Forbidden(apperrors.CodeUserNotAllowed, "you are not allowed to perform this action")
}

func alreadyRejected() error {
	return apperrors.Conflict(apperrors.CodeMultisigParticipantAlreadyRejected, "participant already rejected this transaction")
}

func notPendingApproval() error {
	return apperrors.Conflict(apperrors.CodeTransactionNotPendingApproval, "transaction is not pending approval")
}

func transactionNotFound() error {
	return apperrors.NotFound(apperrors.CodeTransactionNotFound, "transaction not found")
}
