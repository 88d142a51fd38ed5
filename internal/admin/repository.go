// Package admin serves staff-only poll search and CSV exports.
package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/approval-polls/backend/internal/models"
)

// PollRow is one line of the polls export.
type PollRow struct {
	ID          int64
	Question    string
	Owner       string
	PubDate     time.Time
	CloseDate   *time.Time
	VType       models.VoteType
	IsPrivate   bool
	IsSuspended bool
	Ballots     int
	Votes       int
}

// Repository reads export data.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an admin repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Polls returns every poll with its ballot and vote totals, newest first.
func (r *Repository) Polls(ctx context.Context) ([]PollRow, error) {
	const q = `SELECT p.id, p.question, u.username, p.pub_date, p.close_date, p.vtype, p.is_private, p.is_suspended,
			(SELECT COUNT(*) FROM ballots b WHERE b.poll_id = p.id),
			(SELECT COUNT(*) FROM votes v JOIN ballots b ON b.id = v.ballot_id WHERE b.poll_id = p.id)
		FROM polls p JOIN users u ON u.id = p.user_id
		ORDER BY p.pub_date DESC, p.id DESC`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query polls: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (PollRow, error) {
		var p PollRow
		var vtype int16
		err := row.Scan(&p.ID, &p.Question, &p.Owner, &p.PubDate, &p.CloseDate, &vtype, &p.IsPrivate, &p.IsSuspended, &p.Ballots, &p.Votes)
		p.VType = models.VoteType(vtype)
		return p, err
	})
}

// Ballots returns every ballot of a poll with its voter and approvals, oldest first.
func (r *Repository) Ballots(ctx context.Context, pollID int64) ([]models.Ballot, error) {
	const q = `SELECT b.id, b.poll_id, b.user_id, COALESCE(u.username, ''), b.timestamp, b.email, b.permit_email,
			COALESCE(array_agg(v.choice_id ORDER BY v.choice_id) FILTER (WHERE v.choice_id IS NOT NULL), '{}')
		FROM ballots b
		LEFT JOIN users u ON u.id = b.user_id
		LEFT JOIN votes v ON v.ballot_id = b.id
		WHERE b.poll_id = $1
		GROUP BY b.id, u.username
		ORDER BY b.id`
	rows, err := r.pool.Query(ctx, q, pollID)
	if err != nil {
		return nil, fmt.Errorf("query ballots: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Ballot, error) {
		var b models.Ballot
		err := row.Scan(&b.ID, &b.PollID, &b.UserID, &b.Username, &b.Timestamp, &b.Email, &b.PermitEmail, &b.ChoiceIDs)
		return b, err
	})
}
