package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"wallet-custody/models"
)

// CreateAuthToken stores an issued access token
func (r *Repository) CreateAuthToken(ctx context.Context, t *models.AuthToken) error {
	if err := r.checkDB(); err != nil {
		return err
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO auth_tokens (id, user_id, token, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.ID, t.UserID, t.Token, t.Status, t.ExpiresAt, t.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create auth token: %w", err)
	}

	return nil
}

// FindAuthToken returns the stored token record, or nil when unknown
func (r *Repository) FindAuthToken(ctx context.Context, token string) (*models.AuthToken, error) {
	if err := r.checkDB(); err != nil {
		return nil, err
	}

	var t models.AuthToken
	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, token, status, expires_at, created_at
		FROM auth_tokens WHERE token = $1
	`, token).Scan(&t.ID, &t.UserID, &t.Token, &t.Status, &t.ExpiresAt, &t.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get auth token: %w", err)
	}

	return &t, nil
}

// RevokeAuthToken marks an active token revoked and reports whether it was active
func (r *Repository) RevokeAuthToken(ctx context.Context, token string) (bool, error) {
	if err := r.checkDB(); err != nil {
		return false, err
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE auth_tokens SET status = $2 WHERE token = $1 AND status = $3
	`, token, models.AuthTokenStatusRevoked, models.AuthTokenStatusActive)
	if err != nil {
		return false, fmt.Errorf("failed to revoke auth token: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}
