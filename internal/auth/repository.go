package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/approval-polls/backend/internal/models"
	"github.com/approval-polls/backend/pkg/database"
)

// Unique constraints on users, as named by Postgres.
const (
	constraintUsername = "users_username_key"
	constraintEmail    = "users_email_key"
)

const userColumns = `id, username, email, COALESCE(password_hash,''), is_staff, timezone, last_login, created_at, updated_at`

// Repository handles user persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an auth repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Password, &u.IsStaff, &u.Timezone, &u.LastLogin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, database.NotFound(err)
	}
	return &u, nil
}

// GetByID returns a user by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetByEmail returns a user by email, case-insensitively.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email))
}

// GetByLogin returns the user whose username or email equals login.
func (r *Repository) GetByLogin(ctx context.Context, login string) (*models.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE username = $1 OR LOWER(email) = LOWER($1)
		ORDER BY (username = $1) DESC LIMIT 1`
	return scanUser(r.pool.QueryRow(ctx, q, login))
}

// UsernameExists reports whether username is taken.
func (r *Repository) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`, username).Scan(&exists)
	return exists, err
}

// EmailExists reports whether an account uses email.
func (r *Repository) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE LOWER(email) = LOWER($1))`, email).Scan(&exists)
	return exists, err
}

// CreateUserParams holds the fields of a new account. PasswordHash is empty for Google sign-ins.
type CreateUserParams struct {
	Username     string
	Email        string
	PasswordHash string
	Timezone     string
}

// Create inserts a new user. Username or email collisions return ErrUsernameTaken or ErrEmailTaken.
func (r *Repository) Create(ctx context.Context, p CreateUserParams) (*models.User, error) {
	const q = `INSERT INTO users (username, email, password_hash, timezone, last_login)
		VALUES ($1, $2, NULLIF($3,''), COALESCE(NULLIF($4,''), 'UTC'), NOW())
		RETURNING ` + userColumns
	u, err := scanUser(r.pool.QueryRow(ctx, q, p.Username, p.Email, p.PasswordHash, p.Timezone))
	switch {
	case database.IsUniqueViolation(err, constraintUsername):
		return nil, ErrUsernameTaken
	case database.IsUniqueViolation(err, constraintEmail):
		return nil, ErrEmailTaken
	case err != nil:
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// UpdateUsername renames a user.
func (r *Repository) UpdateUsername(ctx context.Context, id uuid.UUID, username string) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET username = $2, updated_at = NOW() WHERE id = $1`, id, username)
	if database.IsUniqueViolation(err, constraintUsername) {
		return ErrUsernameTaken
	}
	return err
}

// UpdatePassword stores a new password hash.
func (r *Repository) UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, hash)
	return err
}

// UpdateTimezone stores the user's preferred IANA zone.
func (r *Repository) UpdateTimezone(ctx context.Context, id uuid.UUID, tz string) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET timezone = $2, updated_at = NOW() WHERE id = $1`, id, tz)
	return err
}

// TouchLastLogin records a successful login.
func (r *Repository) TouchLastLogin(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET last_login = NOW() WHERE id = $1`, id)
	return err
}
