package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meishi-app/meishi/internal/platform/db"
)

// uniqueViolation is the PostgreSQL error code for duplicate keys.
const uniqueViolation = "23505"

// Repository defines persistence operations for the auth module.
type Repository interface {
	CreateUser(ctx context.Context, user *User) (int64, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id int64) (*User, error)
	MarkActivated(ctx context.Context, id int64, at time.Time) error
	SetRememberDigest(ctx context.Context, id int64, digest string) error
	ClearRememberDigest(ctx context.Context, id int64) error
	SetResetDigest(ctx context.Context, id int64, digest string, sentAt time.Time) error
	UpdatePasswordClearReset(ctx context.Context, id int64, passwordHash string) error
	CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error
	DeleteSession(ctx context.Context, id string) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id, name, email, password_hash, activated, activated_at, activation_digest, remember_digest, reset_digest, reset_sent_at, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var user User
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&user.Activated,
		&user.ActivatedAt,
		&user.ActivationDigest,
		&user.RememberDigest,
		&user.ResetDigest,
		&user.ResetSentAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// CreateUser inserts a new unactivated user and returns its id.
func (r *PGRepository) CreateUser(ctx context.Context, user *User) (int64, error) {
	const query = `
		INSERT INTO users (name, email, password_hash, activated, activation_digest)
		VALUES ($1, $2, $3, FALSE, $4)
		RETURNING id`
	var id int64
	err := r.pool.QueryRow(ctx, query, user.Name, user.Email, user.PasswordHash, user.ActivationDigest).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return 0, ErrEmailTaken
		}
		return 0, err
	}
	return id, nil
}

// FindByEmail fetches a user by case-insensitive email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1)`
	return scanUser(r.pool.QueryRow(ctx, query, email))
}

// FindByID fetches a user by id.
func (r *PGRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.pool.QueryRow(ctx, query, id))
}

// MarkActivated flips the account to activated. The WHERE clause guards the
// activated_at timestamp: it is written exactly once.
func (r *PGRepository) MarkActivated(ctx context.Context, id int64, at time.Time) error {
	const query = `
		UPDATE users SET activated = TRUE, activated_at = $2, updated_at = NOW()
		WHERE id = $1 AND activated = FALSE`
	tag, err := r.pool.Exec(ctx, query, id, at.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyActivated
	}
	return nil
}

// SetRememberDigest stores the digest of a newly issued remember token.
// Last writer wins; only the most recent token remains valid.
func (r *PGRepository) SetRememberDigest(ctx context.Context, id int64, digest string) error {
	const query = `UPDATE users SET remember_digest = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, digest)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearRememberDigest drops the remember digest on logout.
func (r *PGRepository) ClearRememberDigest(ctx context.Context, id int64) error {
	const query = `UPDATE users SET remember_digest = NULL, updated_at = NOW() WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}

// SetResetDigest stores a password reset digest and its issuance time.
func (r *PGRepository) SetResetDigest(ctx context.Context, id int64, digest string, sentAt time.Time) error {
	const query = `UPDATE users SET reset_digest = $2, reset_sent_at = $3, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, digest, sentAt.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePasswordClearReset writes a new password hash, invalidates the
// in-flight reset token and revokes open login sessions in one transaction.
func (r *PGRepository) UpdatePasswordClearReset(ctx context.Context, id int64, passwordHash string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		const update = `
			UPDATE users SET password_hash = $2, reset_digest = NULL, reset_sent_at = NULL, updated_at = NOW()
			WHERE id = $1`
		tag, err := tx.Exec(ctx, update, id, passwordHash)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		const revoke = `DELETE FROM auth_sessions WHERE user_id = $1`
		_, err = tx.Exec(ctx, revoke, id)
		return err
	})
}

// CreateSession persists a login session row for auditing.
func (r *PGRepository) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	const query = `
		INSERT INTO auth_sessions (id, user_id, created_at, expires_at, ip, ua)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET user_id = EXCLUDED.user_id, expires_at = EXCLUDED.expires_at`
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx, query, id, userID,
		pgtype.Timestamptz{Time: now, Valid: true},
		pgtype.Timestamptz{Time: expiresAt.UTC(), Valid: true},
		pgtype.Text{String: ip, Valid: ip != ""},
		pgtype.Text{String: ua, Valid: ua != ""},
	)
	return err
}

// DeleteSession removes a session audit row.
func (r *PGRepository) DeleteSession(ctx context.Context, id string) error {
	const query = `DELETE FROM auth_sessions WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}

var _ Repository = (*PGRepository)(nil)
