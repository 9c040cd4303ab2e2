package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"wallet-custody/models"
	"wallet-custody/observability"
)

const transactionColumns = `id, multisig_address, from_address, to_address, amount, fee, note, status,
	multisig_version, multisig_signer_threshold, multisig_signer_approved_count,
	tx_blob, tx_hash, created_by, created_at, updated_at`

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(&t.ID, &t.MultisigAddress, &t.FromAddress, &t.ToAddress, &t.Amount, &t.Fee, &t.Note, &t.Status,
		&t.MultisigVersion, &t.MultisigSignerThreshold, &t.MultisigSignerApprovedCount,
		&t.TxBlob, &t.TxHash, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanParticipant(row pgx.Row) (*models.MultisigParticipant, error) {
	var p models.MultisigParticipant
	if err := row.Scan(&p.ID, &p.TransactionID, &p.UserID, &p.Address, &p.Status, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// FindMultisigAsset returns the asset stored under address, or nil
func (r *Repository) FindMultisigAsset(ctx context.Context, address string) (*models.MultisigAsset, error) {
	if err := r.checkDB(); err != nil {
		return nil, err
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("select", "multisig_assets")

	var a models.MultisigAsset
	err := r.db.QueryRow(ctx, `
		SELECT id, address, version, threshold, participants, created_by, created_at
		FROM multisig_assets WHERE address = $1
	`, address).Scan(&a.ID, &a.Address, &a.Version, &a.Threshold, &a.Participants, &a.CreatedBy, &a.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		metrics.RecordDBError("select", "multisig_assets")
		return nil, fmt.Errorf("failed to get multisig asset: %w", err)
	}

	return &a, nil
}

// InsertMultisigAsset stores a if no asset exists at its address yet and
// reports whether this call created it
func (r *Repository) InsertMultisigAsset(ctx context.Context, a *models.MultisigAsset) (bool, error) {
	if err := r.checkDB(); err != nil {
		return false, err
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("insert", "multisig_assets")

	tag, err := r.db.Exec(ctx, `
		INSERT INTO multisig_assets (id, address, version, threshold, participants, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (address) DO NOTHING
	`, a.ID, a.Address, a.Version, a.Threshold, a.Participants, a.CreatedBy, a.CreatedAt)
	if err != nil {
		metrics.RecordDBError("insert", "multisig_assets")
		return false, fmt.Errorf("failed to insert multisig asset: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// CreateMultisigTransaction inserts a transaction with its participant rows
func (r *Repository) CreateMultisigTransaction(ctx context.Context, t *models.Transaction, participants []models.MultisigParticipant) error {
	if err := r.checkDB(); err != nil {
		return err
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("insert", "transactions")

	err := r.inTx(ctx, func(tx *Repository) error {
		_, err := tx.db.Exec(ctx, `
			INSERT INTO transactions (`+transactionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		`, t.ID, t.MultisigAddress, t.FromAddress, t.ToAddress, t.Amount, t.Fee, t.Note, t.Status,
			t.MultisigVersion, t.MultisigSignerThreshold, t.MultisigSignerApprovedCount,
			t.TxBlob, t.TxHash, t.CreatedBy, t.CreatedAt, t.UpdatedAt)
		if err != nil {
			return err
		}

		for _, p := range participants {
			_, err := tx.db.Exec(ctx, `
				INSERT INTO multisig_participants (id, transaction_id, user_id, address, status, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, p.ID, p.TransactionID, p.UserID, p.Address, p.Status, p.UpdatedAt)
			if err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		metrics.RecordDBError("insert", "transactions")
		return fmt.Errorf("failed to create multisig transaction: %w", err)
	}

	return nil
}

// FindTransaction returns a transaction by id, or nil
func (r *Repository) FindTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	if err := r.checkDB(); err != nil {
		return nil, err
	}

	t, err := scanTransaction(r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	return t, nil
}

// FindMultisigParticipant returns the participant row for address on a transaction, or nil
func (r *Repository) FindMultisigParticipant(ctx context.Context, transactionID uuid.UUID, address string) (*models.MultisigParticipant, error) {
	if err := r.checkDB(); err != nil {
		return nil, err
	}

	p, err := scanParticipant(r.db.QueryRow(ctx, `
		SELECT id, transaction_id, user_id, address, status, updated_at
		FROM multisig_participants
		WHERE transaction_id = $1 AND address = $2
	`, transactionID, address))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get multisig participant: %w", err)
	}

	return p, nil
}

// ListMultisigParticipants returns every participant of a transaction
func (r *Repository) ListMultisigParticipants(ctx context.Context, transactionID uuid.UUID) ([]models.MultisigParticipant, error) {
	if err := r.checkDB(); err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, transaction_id, user_id, address, status, updated_at
		FROM multisig_participants
		WHERE transaction_id = $1
		ORDER BY address
	`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query multisig participants: %w", err)
	}
	defer rows.Close()

	var participants []models.MultisigParticipant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan multisig participant: %w", err)
		}
		participants = append(participants, *p)
	}

	return participants, rows.Err()
}

// ApproveMultisigParticipant records one approval. The participant flip and the
// counter increment commit together or not at all; a participant that was not
// pending leaves everything untouched and yields Applied=false.
func (r *Repository) ApproveMultisigParticipant(ctx context.Context, participantID, transactionID uuid.UUID, txBlob string) (*models.ApprovalOutcome, error) {
	if err := r.checkDB(); err != nil {
		return nil, err
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("update", "multisig_participants")

	var outcome models.ApprovalOutcome
	err := r.inTx(ctx, func(tx *Repository) error {
		tag, err := tx.db.Exec(ctx, `
			UPDATE multisig_participants SET status = $2, updated_at = NOW()
			WHERE id = $1 AND status = $3
		`, participantID, models.ParticipantStatusApproved, models.ParticipantStatusPendingApproval)
		if err != nil {
			return err
		}

		if tag.RowsAffected() == 0 {
			outcome.Transaction, err = scanTransaction(tx.db.QueryRow(ctx,
				`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, transactionID))
			return err
		}

		t, err := scanTransaction(tx.db.QueryRow(ctx, `
			UPDATE transactions SET
				multisig_signer_approved_count = multisig_signer_approved_count + 1,
				status = CASE WHEN multisig_signer_approved_count + 1 >= multisig_signer_threshold THEN $2::text ELSE status END,
				tx_blob = CASE WHEN $3::text = '' THEN tx_blob ELSE $3::text END,
				updated_at = NOW()
			WHERE id = $1
			  AND multisig_signer_approved_count < multisig_signer_threshold
			  AND status = $4
			RETURNING `+transactionColumns,
			transactionID, models.TransactionStatusPending, txBlob, models.TransactionStatusPendingApproval))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotPendingApproval
		}
		if err != nil {
			return err
		}

		outcome.Transaction = t
		outcome.Applied = true
		outcome.Promoted = t.Status == models.TransactionStatusPending
		return nil
	})

	if errors.Is(err, ErrNotPendingApproval) {
		return nil, err
	}
	if err != nil {
		metrics.RecordDBError("update", "multisig_participants")
		return nil, fmt.Errorf("failed to approve multisig participant: %w", err)
	}

	return &outcome, nil
}

// RejectMultisigParticipant flips a pending participant to rejected. When the
// remaining approvers can no longer reach the threshold the transaction fails.
// The bool reports whether the participant was pending.
func (r *Repository) RejectMultisigParticipant(ctx context.Context, participantID, transactionID uuid.UUID) (*models.Transaction, bool, error) {
	if err := r.checkDB(); err != nil {
		return nil, false, err
	}

	var (
		result  *models.Transaction
		applied bool
	)
	err := r.inTx(ctx, func(tx *Repository) error {
		tag, err := tx.db.Exec(ctx, `
			UPDATE multisig_participants SET status = $2, updated_at = NOW()
			WHERE id = $1 AND status = $3
		`, participantID, models.ParticipantStatusRejected, models.ParticipantStatusPendingApproval)
		if err != nil {
			return err
		}
		applied = tag.RowsAffected() == 1

		if applied {
			_, err = tx.db.Exec(ctx, `
				UPDATE transactions t SET status = $2, updated_at = NOW()
				WHERE t.id = $1 AND t.status = $3
				  AND t.multisig_signer_approved_count + (
					SELECT COUNT(*) FROM multisig_participants p
					WHERE p.transaction_id = t.id AND p.status = $4
				  ) < t.multisig_signer_threshold
			`, transactionID, models.TransactionStatusFailed, models.TransactionStatusPendingApproval,
				models.ParticipantStatusPendingApproval)
			if err != nil {
				return err
			}
		}

		result, err = scanTransaction(tx.db.QueryRow(ctx,
			`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, transactionID))
		return err
	})

	if err != nil {
		return nil, false, fmt.Errorf("failed to reject multisig participant: %w", err)
	}

	return result, applied, nil
}

// TransitionTransaction moves a transaction from one status to another and
// records txHash when non-empty. It reports false when the transaction was not in from.
func (r *Repository) TransitionTransaction(ctx context.Context, id uuid.UUID, from, to models.TransactionStatus, txHash string) (bool, error) {
	if err := r.checkDB(); err != nil {
		return false, err
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE transactions SET status = $3,
			tx_hash = CASE WHEN $4::text = '' THEN tx_hash ELSE $4::text END,
			updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, from, to, txHash)
	if err != nil {
		return false, fmt.Errorf("failed to transition transaction: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}
