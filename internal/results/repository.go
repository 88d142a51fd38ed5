package results

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads ballots for tallying.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a results repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Ballots returns the approved choice ids of every ballot on the poll, oldest ballot first.
// Ballots without approvals are included as empty slices.
func (r *Repository) Ballots(ctx context.Context, pollID int64) ([][]int64, error) {
	const q = `SELECT COALESCE(array_agg(v.choice_id ORDER BY v.choice_id) FILTER (WHERE v.choice_id IS NOT NULL), '{}')
		FROM ballots b
		LEFT JOIN votes v ON v.ballot_id = b.id
		WHERE b.poll_id = $1
		GROUP BY b.id
		ORDER BY b.id`
	rows, err := r.pool.Query(ctx, q, pollID)
	if err != nil {
		return nil, fmt.Errorf("query ballots: %w", err)
	}
	defer rows.Close()
	out := [][]int64{}
	for rows.Next() {
		var approvals []int64
		if err := rows.Scan(&approvals); err != nil {
			return nil, fmt.Errorf("scan ballot: %w", err)
		}
		out = append(out, approvals)
	}
	return out, rows.Err()
}
