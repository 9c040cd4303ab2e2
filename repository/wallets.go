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

const walletColumns = `id, user_id, hashed_seed_phrase, salt, evm_address, btc_address, algo_address, imported, created_at`

func scanWallet(row pgx.Row) (*models.Wallet, error) {
	var w models.Wallet
	err := row.Scan(&w.ID, &w.UserID, &w.HashedSeedPhrase, &w.Salt,
		&w.EVMAddress, &w.BTCAddress, &w.AlgoAddress, &w.Imported, &w.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// CreateWallet inserts a wallet and its accounts atomically. A seed hash that
// is already stored yields ErrDuplicate.
func (r *Repository) CreateWallet(ctx context.Context, w *models.Wallet, accounts []models.Account) error {
	if err := r.checkDB(); err != nil {
		return err
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("insert", "wallets")

	err := r.inTx(ctx, func(tx *Repository) error {
		_, err := tx.db.Exec(ctx, `
			INSERT INTO wallets (`+walletColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, w.ID, w.UserID, w.HashedSeedPhrase, w.Salt,
			w.EVMAddress, w.BTCAddress, w.AlgoAddress, w.Imported, w.CreatedAt)
		if err != nil {
			return err
		}

		for _, a := range accounts {
			_, err := tx.db.Exec(ctx, `
				INSERT INTO accounts (id, user_id, wallet_id, chain, address, created_at)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, a.ID, a.UserID, a.WalletID, a.Chain, a.Address, a.CreatedAt)
			if err != nil {
				return err
			}
		}
		return nil
	})

	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		metrics.RecordDBError("insert", "wallets")
		return fmt.Errorf("failed to create wallet: %w", err)
	}

	return nil
}

// FindWalletByHash returns the wallet whose seed hashed to hash, across all users
func (r *Repository) FindWalletByHash(ctx context.Context, hash string) (*models.Wallet, error) {
	if err := r.checkDB(); err != nil {
		return nil, err
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("select", "wallets")

	w, err := scanWallet(r.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE hashed_seed_phrase = $1`, hash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		metrics.RecordDBError("select", "wallets")
		return nil, fmt.Errorf("failed to get wallet by hash: %w", err)
	}

	return w, nil
}

// FindWalletsByUser returns a user's wallets, newest first
func (r *Repository) FindWalletsByUser(ctx context.Context, userID uuid.UUID) ([]models.Wallet, error) {
	if err := r.checkDB(); err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+walletColumns+` FROM wallets
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query wallets: %w", err)
	}
	defer rows.Close()

	var wallets []models.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wallet: %w", err)
		}
		wallets = append(wallets, *w)
	}

	return wallets, rows.Err()
}

// FindAccountsByAddresses returns the accounts matching any of addresses
func (r *Repository) FindAccountsByAddresses(ctx context.Context, addresses []string) ([]models.Account, error) {
	if err := r.checkDB(); err != nil {
		return nil, err
	}
	if len(addresses) == 0 {
		return nil, nil
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("select", "accounts")

	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, wallet_id, chain, address, created_at
		FROM accounts
		WHERE address = ANY($1)
	`, addresses)
	if err != nil {
		metrics.RecordDBError("select", "accounts")
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.UserID, &a.WalletID, &a.Chain, &a.Address, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}

	return accounts, rows.Err()
}
