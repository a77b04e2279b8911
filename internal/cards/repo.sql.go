package cards

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound covers both a missing card and a card owned by someone else.
var ErrNotFound = errors.New("card not found")

// Repository defines persistence operations for cards.
type Repository interface {
	List(ctx context.Context, ownerID int64, limit, offset int) ([]Card, int, error)
	Get(ctx context.Context, ownerID, id int64) (*Card, error)
	Create(ctx context.Context, card Card) (int64, error)
	Update(ctx context.Context, card Card) error
	Delete(ctx context.Context, ownerID, id int64) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const cardColumns = `id, owner_id, name, company, title, email, phone, address, memo, created_at, updated_at`

func scanCard(row pgx.Row) (*Card, error) {
	var card Card
	err := row.Scan(
		&card.ID,
		&card.OwnerID,
		&card.Name,
		&card.Company,
		&card.Title,
		&card.Email,
		&card.Phone,
		&card.Address,
		&card.Memo,
		&card.CreatedAt,
		&card.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &card, nil
}

// List returns a page of the owner's cards, newest first, with the total.
func (r *PGRepository) List(ctx context.Context, ownerID int64, limit, offset int) ([]Card, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM cards WHERE owner_id = $1`, ownerID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + cardColumns + ` FROM cards WHERE owner_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var list []Card
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, *card)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// Get fetches one card scoped to its owner.
func (r *PGRepository) Get(ctx context.Context, ownerID, id int64) (*Card, error) {
	query := `SELECT ` + cardColumns + ` FROM cards WHERE id = $1 AND owner_id = $2`
	return scanCard(r.pool.QueryRow(ctx, query, id, ownerID))
}

// Create inserts a new card and returns its id.
func (r *PGRepository) Create(ctx context.Context, card Card) (int64, error) {
	const query = `
		INSERT INTO cards (owner_id, name, company, title, email, phone, address, memo)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`
	var id int64
	err := r.pool.QueryRow(ctx, query,
		card.OwnerID, card.Name, card.Company, card.Title, card.Email, card.Phone, card.Address, card.Memo,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Update rewrites a card's fields, scoped to its owner.
func (r *PGRepository) Update(ctx context.Context, card Card) error {
	const query = `
		UPDATE cards SET name = $3, company = $4, title = $5, email = $6, phone = $7, address = $8, memo = $9, updated_at = NOW()
		WHERE id = $1 AND owner_id = $2`
	tag, err := r.pool.Exec(ctx, query,
		card.ID, card.OwnerID, card.Name, card.Company, card.Title, card.Email, card.Phone, card.Address, card.Memo)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a card, scoped to its owner.
func (r *PGRepository) Delete(ctx context.Context, ownerID, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM cards WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

var _ Repository = (*PGRepository)(nil)
