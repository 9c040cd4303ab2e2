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

const userColumns = `id, external_user_id, email, hashing_salt, created_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.ExternalUserID, &u.Email, &u.HashingSalt, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a user. A taken external id yields ErrDuplicate.
func (r *Repository) CreateUser(ctx context.Context, u *models.User) error {
	if err := r.checkDB(); err != nil {
		return err
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("insert", "users")

	_, err := r.db.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5)
	`, u.ID, u.ExternalUserID, u.Email, u.HashingSalt, u.CreatedAt)

	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		metrics.RecordDBError("insert", "users")
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// FindUserByID returns a user by id, or nil when none exists
func (r *Repository) FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	if err := r.checkDB(); err != nil {
		return nil, err
	}

	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return u, nil
}

// FindUserByExternalID returns the user an integrator knows by externalID
func (r *Repository) FindUserByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	if err := r.checkDB(); err != nil {
		return nil, err
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("select", "users")

	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(external_user_id) = lower($1)`, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		metrics.RecordDBError("select", "users")
		return nil, fmt.Errorf("failed to get user by external id: %w", err)
	}

	return u, nil
}

// SetHashingSaltIfEmpty stores salt only when the user has none yet and returns
// the salt that is in effect afterwards. Concurrent callers converge on one salt.
func (r *Repository) SetHashingSaltIfEmpty(ctx context.Context, userID uuid.UUID, salt string) (string, error) {
	if err := r.checkDB(); err != nil {
		return "", err
	}

	_, err := r.db.Exec(ctx, `UPDATE users SET hashing_salt = $2 WHERE id = $1 AND hashing_salt IS NULL`, userID, salt)
	if err != nil {
		return "", fmt.Errorf("failed to set hashing salt: %w", err)
	}

	var effective *string
	err = r.db.QueryRow(ctx, `SELECT hashing_salt FROM users WHERE id = $1`, userID).Scan(&effective)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read hashing salt: %w", err)
	}
	if effective == nil {
		return "", fmt.Errorf("hashing salt for user %s was not stored", userID)
	}

	return *effective, nil
}

// CreateAuthPublicKey registers a client auth key for a user
func (r *Repository) CreateAuthPublicKey(ctx context.Context, k *models.AuthPublicKey) error {
	if err := r.checkDB(); err != nil {
		return err
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO auth_public_keys (id, user_id, client_auth_pub_key, wallaby_auth_pub_key, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, k.ID, k.UserID, k.ClientAuthPubKey, k.WallabyAuthPubKey, k.CreatedAt)

	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to create auth public key: %w", err)
	}

	return nil
}

// FindAuthPublicKeyByUser returns the most recent auth key registered for a user
func (r *Repository) FindAuthPublicKeyByUser(ctx context.Context, userID uuid.UUID) (*models.AuthPublicKey, error) {
	if err := r.checkDB(); err != nil {
		return nil, err
	}

	var k models.AuthPublicKey
	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, client_auth_pub_key, wallaby_auth_pub_key, created_at
		FROM auth_public_keys
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, userID).Scan(&k.ID, &k.UserID, &k.ClientAuthPubKey, &k.WallabyAuthPubKey, &k.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get auth public key: %w", err)
	}

	return &k, nil
}
