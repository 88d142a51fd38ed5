package polls

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/approval-polls/backend/internal/models"
	"github.com/approval-polls/backend/internal/tags"
	"github.com/approval-polls/backend/pkg/database"
	"github.com/approval-polls/backend/pkg/pagination"
)

// ErrChoiceNotInPoll is returned when an edited choice id belongs to another poll.
var ErrChoiceNotInPoll = errors.New("choice does not belong to poll")

const pollColumns = `p.id, p.question, p.pub_date, p.user_id, u.username, p.vtype, p.close_date,
	p.show_close_date, p.show_countdown, p.show_write_in, p.show_lead_color, p.show_email_opt_in,
	p.is_private, p.is_suspended,
	(SELECT COUNT(*) FROM ballots b WHERE b.poll_id = p.id),
	COALESCE((SELECT array_agg(t.tag_text ORDER BY t.tag_text)
		FROM poll_tag_polls tp JOIN poll_tags t ON t.id = tp.tag_id
		WHERE tp.poll_id = p.id), '{}')`

// Filter narrows poll listings. The zero value lists published, public polls.
type Filter struct {
	OwnerID            uuid.UUID
	IncludePrivate     bool
	IncludeUnpublished bool
	Tag                string
	Query              string // case-insensitive substring of the question
}

func (f Filter) where() (string, []any) {
	var conds []string
	var args []any
	bind := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if !f.IncludeUnpublished {
		conds = append(conds, "p.pub_date <= NOW()")
	}
	if !f.IncludePrivate {
		conds = append(conds, "NOT p.is_private")
	}
	if f.OwnerID != uuid.Nil {
		bind("p.user_id = $%d", f.OwnerID)
	}
	if f.Tag != "" {
		bind(`EXISTS (SELECT 1 FROM poll_tag_polls tp JOIN poll_tags t ON t.id = tp.tag_id
			WHERE tp.poll_id = p.id AND t.tag_text = $%d)`, f.Tag)
	}
	if f.Query != "" {
		bind(`p.question ILIKE $%d ESCAPE '\'`, "%"+escapeLike(f.Query)+"%")
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// NewChoice is a choice to insert.
type NewChoice struct {
	Text string
	Link *string
}

// ChoiceEdit changes an existing choice.
type ChoiceEdit struct {
	ID   int64
	Text string
	Link *string
}

// Repository handles poll persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a polls repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanPoll(row pgx.Row) (*models.Poll, error) {
	var p models.Poll
	var vtype int16
	err := row.Scan(&p.ID, &p.Question, &p.PubDate, &p.UserID, &p.Owner, &vtype, &p.CloseDate,
		&p.ShowCloseDate, &p.ShowCountdown, &p.ShowWriteIn, &p.ShowLeadColor, &p.ShowEmailOptIn,
		&p.IsPrivate, &p.IsSuspended, &p.TotalBallots, &p.Tags)
	if err != nil {
		return nil, database.NotFound(err)
	}
	p.VType = models.VoteType(vtype)
	return &p, nil
}

// Count returns the number of polls matching f.
func (r *Repository) Count(ctx context.Context, f Filter) (int, error) {
	where, args := f.where()
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM polls p`+where, args...).Scan(&n)
	return n, err
}

// List returns polls matching f, newest publication first. A limit of 0 returns every match.
func (r *Repository) List(ctx context.Context, f Filter, limit, offset int) ([]models.Poll, error) {
	where, args := f.where()
	q := `SELECT ` + pollColumns + ` FROM polls p JOIN users u ON u.id = p.user_id` + where +
		` ORDER BY p.pub_date DESC, p.id DESC`
	if limit > 0 {
		args = append(args, limit, offset)
		q += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	}
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Poll
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *p)
	}
	return list, rows.Err()
}

// Page counts the matches of f, resolves the raw page parameter and returns that page.
func (r *Repository) Page(ctx context.Context, f Filter, raw string, size int) ([]models.Poll, pagination.Page, error) {
	total, err := r.Count(ctx, f)
	if err != nil {
		return nil, pagination.Page{}, err
	}
	page := pagination.Resolve(raw, total, size)
	if total == 0 {
		return nil, page, nil
	}
	list, err := r.List(ctx, f, page.Size, page.Offset())
	return list, page, err
}

// PageTagged returns a page of published, public polls carrying tag.
func (r *Repository) PageTagged(ctx context.Context, tag, raw string, size int) ([]models.Poll, pagination.Page, error) {
	return r.Page(ctx, Filter{Tag: tag}, raw, size)
}

// ListOwned returns every published poll created by userID, private ones included.
func (r *Repository) ListOwned(ctx context.Context, userID uuid.UUID) ([]models.Poll, error) {
	return r.List(ctx, Filter{OwnerID: userID, IncludePrivate: true}, 0, 0)
}

// GetByID returns a poll with its choices (and their vote counts) and tags.
func (r *Repository) GetByID(ctx context.Context, id int64) (*models.Poll, error) {
	q := `SELECT ` + pollColumns + ` FROM polls p JOIN users u ON u.id = p.user_id WHERE p.id = $1`
	p, err := scanPoll(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, err
	}
	p.Choices, err = r.Choices(ctx, id)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Choices returns a poll's choices in creation order with their vote counts.
func (r *Repository) Choices(ctx context.Context, pollID int64) ([]models.Choice, error) {
	const q = `SELECT c.id, c.poll_id, c.choice_text, c.choice_link, COUNT(v.ballot_id)
		FROM choices c LEFT JOIN votes v ON v.choice_id = c.id
		WHERE c.poll_id = $1
		GROUP BY c.id ORDER BY c.id`
	rows, err := r.pool.Query(ctx, q, pollID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Choice
	for rows.Next() {
		var c models.Choice
		if err := rows.Scan(&c.ID, &c.PollID, &c.Text, &c.Link, &c.Votes); err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

// OwnerOf returns the user who created the poll.
func (r *Repository) OwnerOf(ctx context.Context, id int64) (uuid.UUID, error) {
	var owner uuid.UUID
	err := r.pool.QueryRow(ctx, `SELECT user_id FROM polls WHERE id = $1`, id).Scan(&owner)
	return owner, database.NotFound(err)
}

// Create inserts a poll with its choices and tags in one transaction.
// p.ID, p.PubDate and p.Choices are filled in.
func (r *Repository) Create(ctx context.Context, p *models.Poll, choices []NewChoice, tagList []string) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const q = `INSERT INTO polls (question, pub_date, user_id, vtype, close_date,
				show_close_date, show_countdown, show_write_in, show_lead_color, show_email_opt_in, is_private)
			VALUES ($1, NOW(), $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id, pub_date`
		err := tx.QueryRow(ctx, q, p.Question, p.UserID, int16(p.VType), p.CloseDate,
			p.ShowCloseDate, p.ShowCountdown, p.ShowWriteIn, p.ShowLeadColor, p.ShowEmailOptIn, p.IsPrivate).
			Scan(&p.ID, &p.PubDate)
		if err != nil {
			return fmt.Errorf("insert poll: %w", err)
		}
		p.Choices = p.Choices[:0]
		for _, c := range choices {
			created, err := insertChoice(ctx, tx, p.ID, c)
			if err != nil {
				return err
			}
			p.Choices = append(p.Choices, *created)
		}
		if err := tags.Attach(ctx, tx, p.ID, tagList); err != nil {
			return fmt.Errorf("attach tags: %w", err)
		}
		p.Tags = tagList
		return nil
	})
}

func insertChoice(ctx context.Context, tx pgx.Tx, pollID int64, c NewChoice) (*models.Choice, error) {
	const q = `INSERT INTO choices (poll_id, choice_text, choice_link) VALUES ($1, $2, $3) RETURNING id`
	created := models.Choice{PollID: pollID, Text: c.Text, Link: c.Link}
	if err := tx.QueryRow(ctx, q, pollID, c.Text, c.Link).Scan(&created.ID); err != nil {
		return nil, fmt.Errorf("insert choice: %w", err)
	}
	return &created, nil
}

// Update saves the editable poll fields, edits existing choices and appends new ones atomically.
func (r *Repository) Update(ctx context.Context, p *models.Poll, edits []ChoiceEdit, added []NewChoice) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const q = `UPDATE polls SET question = $2, close_date = $3, show_close_date = $4, show_countdown = $5,
				show_write_in = $6, show_lead_color = $7, show_email_opt_in = $8, is_private = $9
			WHERE id = $1`
		tag, err := tx.Exec(ctx, q, p.ID, p.Question, p.CloseDate, p.ShowCloseDate, p.ShowCountdown,
			p.ShowWriteIn, p.ShowLeadColor, p.ShowEmailOptIn, p.IsPrivate)
		if err != nil {
			return fmt.Errorf("update poll: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return database.ErrNotFound
		}
		for _, e := range edits {
			tag, err := tx.Exec(ctx, `UPDATE choices SET choice_text = $3, choice_link = $4 WHERE id = $1 AND poll_id = $2`,
				e.ID, p.ID, e.Text, e.Link)
			if err != nil {
				return fmt.Errorf("update choice: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("choice %d: %w", e.ID, ErrChoiceNotInPoll)
			}
		}
		for _, c := range added {
			if _, err := insertChoice(ctx, tx, p.ID, c); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete removes a poll; choices, ballots, votes, invitations and tag links cascade.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM polls WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return database.ErrNotFound
	}
	return nil
}

// ToggleSuspended flips is_suspended and returns the new value.
func (r *Repository) ToggleSuspended(ctx context.Context, id int64) (bool, error) {
	var suspended bool
	err := r.pool.QueryRow(ctx, `UPDATE polls SET is_suspended = NOT is_suspended WHERE id = $1 RETURNING is_suspended`, id).
		Scan(&suspended)
	return suspended, database.NotFound(err)
}
