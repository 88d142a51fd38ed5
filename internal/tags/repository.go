package tags

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/approval-polls/backend/internal/models"
)

// Execer is satisfied by *pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Attach links normalized tags to a poll, creating missing tags.
func Attach(ctx context.Context, db Execer, pollID int64, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	const q = `WITH t AS (
			INSERT INTO poll_tags (tag_text) SELECT unnest($2::text[])
			ON CONFLICT (tag_text) DO UPDATE SET tag_text = EXCLUDED.tag_text
			RETURNING id
		)
		INSERT INTO poll_tag_polls (tag_id, poll_id) SELECT id, $1 FROM t
		ON CONFLICT DO NOTHING`
	_, err := db.Exec(ctx, q, pollID, tags)
	return err
}

// Repository handles tag persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a tags repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Attach links tags to a poll.
func (r *Repository) Attach(ctx context.Context, pollID int64, tags []string) error {
	return Attach(ctx, r.pool, pollID, tags)
}

// Detach unlinks a tag from a poll and removes the tag once no poll uses it.
// It reports whether the poll carried the tag.
func (r *Repository) Detach(ctx context.Context, pollID int64, tag string) (bool, error) {
	var removed bool
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const unlink = `DELETE FROM poll_tag_polls
			WHERE poll_id = $1 AND tag_id = (SELECT id FROM poll_tags WHERE tag_text = $2)`
		ct, err := tx.Exec(ctx, unlink, pollID, tag)
		if err != nil {
			return err
		}
		removed = ct.RowsAffected() > 0
		const prune = `DELETE FROM poll_tags t
			WHERE t.tag_text = $1 AND NOT EXISTS (SELECT 1 FROM poll_tag_polls p WHERE p.tag_id = t.id)`
		_, err = tx.Exec(ctx, prune, tag)
		return err
	})
	return removed, err
}

// ListForPoll returns a poll's tags alphabetically.
func (r *Repository) ListForPoll(ctx context.Context, pollID int64) ([]string, error) {
	const q = `SELECT t.tag_text FROM poll_tags t
		JOIN poll_tag_polls p ON p.tag_id = t.id
		WHERE p.poll_id = $1 ORDER BY t.tag_text`
	rows, err := r.pool.Query(ctx, q, pollID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// ListAll returns every tag with the number of public, published polls carrying it, alphabetically.
func (r *Repository) ListAll(ctx context.Context) ([]models.Tag, error) {
	const q = `SELECT t.id, t.tag_text,
			COUNT(pl.id) FILTER (WHERE pl.pub_date <= NOW() AND NOT pl.is_private)
		FROM poll_tags t
		LEFT JOIN poll_tag_polls p ON p.tag_id = t.id
		LEFT JOIN polls pl ON pl.id = p.poll_id
		GROUP BY t.id, t.tag_text
		ORDER BY t.tag_text`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Tag
	for rows.Next() {
		var t models.Tag
		if err := rows.Scan(&t.ID, &t.Text, &t.PollCount); err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}
