package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"wallet-custody/models"
	"wallet-custody/observability"
)

const apiKeyColumns = `id, key, name, status, allow_mobile_access, only_dashboard_access,
	client_jwt_public_key, origins, created_at, updated_at`

func scanAPIKey(row pgx.Row) (*models.APIKey, error) {
	var k models.APIKey
	err := row.Scan(&k.ID, &k.Key, &k.Name, &k.Status, &k.AllowMobileAccess, &k.OnlyDashboardAccess,
		&k.ClientJWTPublicKey, &k.Origins, &k.CreatedAt, &k.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// FindAPIKey returns the API key with the given value, or nil when none exists
func (r *Repository) FindAPIKey(ctx context.Context, key string) (*models.APIKey, error) {
	if err := r.checkDB(); err != nil {
		return nil, err
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("select", "api_keys")

	k, err := scanAPIKey(r.db.QueryRow(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		metrics.RecordDBError("select", "api_keys")
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}

	return k, nil
}

// CreateAPIKey inserts a new API key
func (r *Repository) CreateAPIKey(ctx context.Context, k *models.APIKey) error {
	if err := r.checkDB(); err != nil {
		return err
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("insert", "api_keys")

	origins := k.Origins
	if origins == nil {
		origins = []string{}
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO api_keys (`+apiKeyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, k.ID, k.Key, k.Name, k.Status, k.AllowMobileAccess, k.OnlyDashboardAccess,
		k.ClientJWTPublicKey, origins, k.CreatedAt, k.UpdatedAt)

	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		metrics.RecordDBError("insert", "api_keys")
		return fmt.Errorf("failed to create api key: %w", err)
	}

	return nil
}

// UpdateAPIKeyStatus suspends, revokes, or reactivates a key
func (r *Repository) UpdateAPIKeyStatus(ctx context.Context, key string, status models.APIKeyStatus) error {
	if err := r.checkDB(); err != nil {
		return err
	}

	_, err := r.db.Exec(ctx, `UPDATE api_keys SET status = $2, updated_at = NOW() WHERE key = $1`, key, status)
	if err != nil {
		return fmt.Errorf("failed to update api key status: %w", err)
	}

	return nil
}
