package voting

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/approval-polls/backend/internal/models"
	"github.com/approval-polls/backend/pkg/database"
)

// CastParams describes one ballot submission after validation.
type CastParams struct {
	PollID       int64
	VType        models.VoteType
	UserID       uuid.UUID // vtype 2
	InvitationID int64     // vtype 3
	ChoiceIDs    []int64
	WriteIn      string
	Email        *string
	PermitEmail  bool
}

// Repository handles ballot persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a voting repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// UserApprovals returns the choices approved on userID's ballot for the poll.
func (r *Repository) UserApprovals(ctx context.Context, pollID int64, userID uuid.UUID) ([]int64, error) {
	const q = `SELECT v.choice_id FROM votes v JOIN ballots b ON b.id = v.ballot_id
		WHERE b.poll_id = $1 AND b.user_id = $2 ORDER BY v.choice_id`
	return r.collectIDs(ctx, q, pollID, userID)
}

// InvitationApprovals reports whether key and email identify an invitation to the poll
// and returns the approvals on the invitation's ballot.
func (r *Repository) InvitationApprovals(ctx context.Context, pollID int64, key, email string) (bool, []int64, error) {
	inv, err := r.FindInvitation(ctx, pollID, key, email)
	if errors.Is(err, database.ErrNotFound) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	if inv.BallotID == nil {
		return true, nil, nil
	}
	ids, err := r.collectIDs(ctx, `SELECT choice_id FROM votes WHERE ballot_id = $1 ORDER BY choice_id`, *inv.BallotID)
	return true, ids, err
}

// FindInvitation looks an invitation up by poll, key and case-insensitive email.
func (r *Repository) FindInvitation(ctx context.Context, pollID int64, key, email string) (*models.VoteInvitation, error) {
	const q = `SELECT id, poll_id, email, ballot_id, sent_date FROM vote_invitations
		WHERE poll_id = $1 AND key = $2 AND LOWER(email) = LOWER($3)`
	var inv models.VoteInvitation
	err := r.pool.QueryRow(ctx, q, pollID, key, email).
		Scan(&inv.ID, &inv.PollID, &inv.Email, &inv.BallotID, &inv.SentDate)
	if err != nil {
		return nil, database.NotFound(err)
	}
	inv.Key = key
	return &inv, nil
}

func (r *Repository) collectIDs(ctx context.Context, q string, args ...any) ([]int64, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// Cast stores a ballot and replaces its approvals in one transaction, returning the ballot id.
// Only choices of the ballot's poll are ever recorded.
func (r *Repository) Cast(ctx context.Context, p CastParams) (int64, error) {
	var ballotID int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		choiceIDs := append([]int64(nil), p.ChoiceIDs...)
		if p.WriteIn != "" {
			id, err := writeInChoice(ctx, tx, p.PollID, p.WriteIn)
			if err != nil {
				return err
			}
			choiceIDs = append(choiceIDs, id)
		}

		var err error
		switch p.VType {
		case models.VoteTypeAuthenticated:
			ballotID, err = upsertUserBallot(ctx, tx, p)
		case models.VoteTypeInvitation:
			ballotID, err = invitationBallot(ctx, tx, p)
		default:
			ballotID, err = insertBallot(ctx, tx, p)
		}
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM votes WHERE ballot_id = $1`, ballotID); err != nil {
			return fmt.Errorf("clear votes: %w", err)
		}
		if len(choiceIDs) == 0 {
			return nil
		}
		const q = `INSERT INTO votes (ballot_id, choice_id)
			SELECT $1, c.id FROM choices c WHERE c.poll_id = $2 AND c.id = ANY($3)
			ON CONFLICT DO NOTHING`
		if _, err := tx.Exec(ctx, q, ballotID, p.PollID, choiceIDs); err != nil {
			return fmt.Errorf("insert votes: %w", err)
		}
		return nil
	})
	return ballotID, err
}

// writeInChoice returns the poll's choice matching text case-insensitively, creating it if needed.
func writeInChoice(ctx context.Context, tx pgx.Tx, pollID int64, text string) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `SELECT id FROM choices WHERE poll_id = $1 AND LOWER(choice_text) = LOWER($2) ORDER BY id LIMIT 1`,
		pollID, text).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("find write-in: %w", err)
	}
	err = tx.QueryRow(ctx, `INSERT INTO choices (poll_id, choice_text) VALUES ($1, $2) RETURNING id`, pollID, text).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert write-in: %w", err)
	}
	return id, nil
}

// insertBallot creates an anonymous ballot.
func insertBallot(ctx context.Context, tx pgx.Tx, p CastParams) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `INSERT INTO ballots (poll_id, email, permit_email) VALUES ($1, $2, $3) RETURNING id`,
		p.PollID, p.Email, p.PermitEmail).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert ballot: %w", err)
	}
	return id, nil
}

// upsertUserBallot returns the user's single ballot on the poll, refreshing its timestamp.
// Concurrent first votes by the same user converge on one row through ballots_poll_user_uniq.
func upsertUserBallot(ctx context.Context, tx pgx.Tx, p CastParams) (int64, error) {
	const q = `INSERT INTO ballots (poll_id, user_id, email, permit_email) VALUES ($1, $2, $3, $4)
		ON CONFLICT (poll_id, user_id) WHERE user_id IS NOT NULL
		DO UPDATE SET timestamp = NOW(), email = EXCLUDED.email, permit_email = EXCLUDED.permit_email
		RETURNING id`
	var id int64
	if err := tx.QueryRow(ctx, q, p.PollID, p.UserID, p.Email, p.PermitEmail).Scan(&id); err != nil {
		return 0, fmt.Errorf("upsert ballot: %w", err)
	}
	return id, nil
}

// invitationBallot reuses the invitation's ballot or creates and links a new one.
func invitationBallot(ctx context.Context, tx pgx.Tx, p CastParams) (int64, error) {
	var existing *int64
	err := tx.QueryRow(ctx, `SELECT ballot_id FROM vote_invitations WHERE id = $1 AND poll_id = $2 FOR UPDATE`,
		p.InvitationID, p.PollID).Scan(&existing)
	if err != nil {
		return 0, database.NotFound(err)
	}
	if existing != nil {
		_, err := tx.Exec(ctx, `UPDATE ballots SET timestamp = NOW(), email = $2, permit_email = $3 WHERE id = $1`,
			*existing, p.Email, p.PermitEmail)
		if err != nil {
			return 0, fmt.Errorf("touch ballot: %w", err)
		}
		return *existing, nil
	}
	id, err := insertBallot(ctx, tx, p)
	if err != nil {
		return 0, err
	}
	if _, err := tx.Exec(ctx, `UPDATE vote_invitations SET ballot_id = $2 WHERE id = $1`, p.InvitationID, id); err != nil {
		return 0, fmt.Errorf("link invitation: %w", err)
	}
	return id, nil
}
