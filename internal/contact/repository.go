package contact

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"boomfare/internal/user"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ Source = (*Repository)(nil)

func (r *Repository) Filter(ctx context.Context, ownerID string) ([]Relationship, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner_id, contact_user_id, status, created_at
		FROM contacts WHERE owner_id = $1
		ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rels := []Relationship{}
	for rows.Next() {
		var rel Relationship
		if err := rows.Scan(&rel.ID, &rel.OwnerID, &rel.TargetUserID, &rel.Status, &rel.CreatedAt); err != nil {
			return nil, err
		}
		rels = append(rels, rel)
	}
	return rels, rows.Err()
}

// Create inserts a pending relationship. The (owner, target) unique key
// turns a second insert into ErrDuplicateContact instead of a second row.
func (r *Repository) Create(ctx context.Context, rel Relationship) (Relationship, error) {
	if rel.OwnerID == rel.TargetUserID {
		return Relationship{}, ErrSelfContact
	}
	id, err := uuid.NewV7()
	if err != nil {
		return Relationship{}, err
	}
	rel.ID = id.String()
	rel.Status = StatusPending
	rel.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO contacts (id, owner_id, contact_user_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (owner_id, contact_user_id) DO NOTHING`,
		rel.ID, rel.OwnerID, rel.TargetUserID, rel.Status, rel.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return Relationship{}, fmt.Errorf("%w: %s", user.ErrNotFound, rel.TargetUserID)
		}
		return Relationship{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Relationship{}, err
	}
	if n == 0 {
		return Relationship{}, ErrDuplicateContact
	}
	return rel, nil
}

// Accept moves a pending request addressed to targetID to accepted. Only the
// target of a relationship may accept it.
func (r *Repository) Accept(ctx context.Context, id, targetID string) (Relationship, error) {
	var rel Relationship
	err := r.db.QueryRowContext(ctx, `
		UPDATE contacts SET status = $3
		WHERE id = $1 AND contact_user_id = $2
		RETURNING id, owner_id, contact_user_id, status, created_at`,
		id, targetID, StatusAccepted,
	).Scan(&rel.ID, &rel.OwnerID, &rel.TargetUserID, &rel.Status, &rel.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Relationship{}, ErrNotFound
		}
		return Relationship{}, err
	}
	return rel, nil
}
