package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"wallet-custody/models"
	"wallet-custody/observability"
)

// CreateChallenge stores a freshly issued challenge
func (r *Repository) CreateChallenge(ctx context.Context, c *models.Challenge) error {
	if err := r.checkDB(); err != nil {
		return err
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("insert", "challenges")

	_, err := r.db.Exec(ctx, `
		INSERT INTO challenges (id, client_public_key, message, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, c.ID, c.ClientPublicKey, c.Message, c.Status, c.CreatedAt)

	if err != nil {
		metrics.RecordDBError("insert", "challenges")
		return fmt.Errorf("failed to create challenge: %w", err)
	}

	return nil
}

// FindChallenge returns the challenge issued to clientPublicKey with message, or nil
func (r *Repository) FindChallenge(ctx context.Context, clientPublicKey, message string) (*models.Challenge, error) {
	if err := r.checkDB(); err != nil {
		return nil, err
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("select", "challenges")

	var c models.Challenge
	err := r.db.QueryRow(ctx, `
		SELECT id, client_public_key, message, status, created_at
		FROM challenges
		WHERE client_public_key = $1 AND message = $2
	`, clientPublicKey, message).Scan(&c.ID, &c.ClientPublicKey, &c.Message, &c.Status, &c.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		metrics.RecordDBError("select", "challenges")
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}

	return &c, nil
}

// MarkChallengeUsed flips a pending challenge to used. It returns false when
// another caller already consumed it.
func (r *Repository) MarkChallengeUsed(ctx context.Context, c *models.Challenge) (bool, error) {
	if err := r.checkDB(); err != nil {
		return false, err
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("update", "challenges")

	tag, err := r.db.Exec(ctx, `
		UPDATE challenges SET status = $2
		WHERE id = $1 AND status = $3
	`, c.ID, models.ChallengeStatusUsed, models.ChallengeStatusPending)
	if err != nil {
		metrics.RecordDBError("update", "challenges")
		return false, fmt.Errorf("failed to mark challenge used: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return false, nil
	}
	c.Status = models.ChallengeStatusUsed
	return true, nil
}
