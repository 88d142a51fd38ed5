// Package invitations manages emailed voting keys for invitation-only polls.
package invitations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/approval-polls/backend/internal/models"
	"github.com/approval-polls/backend/pkg/database"
)

const invitationColumns = `id, poll_id, email, ballot_id, sent_date, key`

// Repository handles vote_invitations persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an invitations repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanInvitation(row pgx.Row) (*models.VoteInvitation, error) {
	var inv models.VoteInvitation
	if err := row.Scan(&inv.ID, &inv.PollID, &inv.Email, &inv.BallotID, &inv.SentDate, &inv.Key); err != nil {
		return nil, err
	}
	return &inv, nil
}

// GetOrCreate returns the poll's invitation for email, creating it with key when none exists.
// created reports whether a new row was inserted.
func (r *Repository) GetOrCreate(ctx context.Context, pollID int64, email, key string) (inv *models.VoteInvitation, created bool, err error) {
	const insert = `INSERT INTO vote_invitations (poll_id, email, key) VALUES ($1, $2, $3)
		ON CONFLICT (poll_id, email) DO NOTHING
		RETURNING ` + invitationColumns
	inv, err = scanInvitation(r.pool.QueryRow(ctx, insert, pollID, email, key))
	if err == nil {
		return inv, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("insert invitation: %w", err)
	}
	const q = `SELECT ` + invitationColumns + ` FROM vote_invitations WHERE poll_id = $1 AND email = $2`
	inv, err = scanInvitation(r.pool.QueryRow(ctx, q, pollID, email))
	if err != nil {
		return nil, false, fmt.Errorf("load invitation: %w", database.NotFound(err))
	}
	return inv, false, nil
}

// ListByPoll returns a poll's invitations in creation order.
func (r *Repository) ListByPoll(ctx context.Context, pollID int64) ([]models.VoteInvitation, error) {
	const q = `SELECT ` + invitationColumns + ` FROM vote_invitations WHERE poll_id = $1 ORDER BY id`
	rows, err := r.pool.Query(ctx, q, pollID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.VoteInvitation{}
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *inv)
	}
	return list, rows.Err()
}

// MarkSent stamps the invitation's sent date.
func (r *Repository) MarkSent(ctx context.Context, id int64, at time.Time) error {
	const q = `UPDATE vote_invitations SET sent_date = $2 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return database.ErrNotFound
	}
	return nil
}

// OwnerTimezone returns the IANA timezone of a user.
func (r *Repository) OwnerTimezone(ctx context.Context, userID uuid.UUID) (string, error) {
	var tz string
	err := r.pool.QueryRow(ctx, `SELECT timezone FROM users WHERE id = $1`, userID).Scan(&tz)
	return tz, database.NotFound(err)
}
