// Package subscriptions stores newsletter opt-ins and keeps them in line with the mailing list.
package subscriptions

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/approval-polls/backend/internal/models"
	"github.com/approval-polls/backend/pkg/database"
)

// Repository handles subscriptions persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a subscriptions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByUser returns the user's subscription or database.ErrNotFound.
func (r *Repository) GetByUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	const q = `SELECT s.id, s.user_id, u.email, s.zipcode, s.created_at
		FROM subscriptions s JOIN users u ON u.id = s.user_id
		WHERE s.user_id = $1`
	var s models.Subscription
	err := r.pool.QueryRow(ctx, q, userID).Scan(&s.ID, &s.UserID, &s.Email, &s.Zipcode, &s.CreatedAt)
	if err != nil {
		return nil, database.NotFound(err)
	}
	return &s, nil
}

// Upsert creates the user's subscription or updates its zipcode.
func (r *Repository) Upsert(ctx context.Context, userID uuid.UUID, zipcode string) (*models.Subscription, error) {
	const q = `INSERT INTO subscriptions (user_id, zipcode) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET zipcode = EXCLUDED.zipcode
		RETURNING id, user_id, zipcode, created_at`
	var s models.Subscription
	if err := r.pool.QueryRow(ctx, q, userID, zipcode).Scan(&s.ID, &s.UserID, &s.Zipcode, &s.CreatedAt); err != nil {
		return nil, fmt.Errorf("upsert subscription: %w", err)
	}
	return &s, nil
}

// DeleteByUser removes the user's subscription. Deleting a missing subscription is not an error.
func (r *Repository) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM subscriptions WHERE user_id = $1`, userID)
	return err
}

// List returns every subscription with its user's email.
func (r *Repository) List(ctx context.Context) ([]models.Subscription, error) {
	const q = `SELECT s.id, s.user_id, u.email, s.zipcode, s.created_at
		FROM subscriptions s JOIN users u ON u.id = s.user_id
		ORDER BY s.id`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Subscription, error) {
		var s models.Subscription
		err := row.Scan(&s.ID, &s.UserID, &s.Email, &s.Zipcode, &s.CreatedAt)
		return s, err
	})
}

// DeleteByIDs removes the given subscriptions and returns how many were deleted.
func (r *Repository) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM subscriptions WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
