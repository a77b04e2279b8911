package users

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meishi-app/meishi/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetProfile returns profile data including the owner's card count.
func (r *Repository) GetProfile(ctx context.Context, id int64) (*Profile, error) {
	const query = `
		SELECT u.id, u.name, u.email, u.activated, u.activated_at, u.created_at,
		       (SELECT COUNT(*) FROM cards c WHERE c.owner_id = u.id)
		FROM users u WHERE u.id = $1`
	var p Profile
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.Email, &p.Activated, &p.ActivatedAt, &p.CreatedAt, &p.CardCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}
