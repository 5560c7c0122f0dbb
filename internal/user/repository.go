package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrUsernameTaken = errors.New("user: username already taken")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const userColumns = "id, username, full_name, bio, avatar_url, is_online, verification_type, created_at"

func (r *Repository) CreateUser(ctx context.Context, user *User) (*User, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	query := `INSERT INTO users (id, username, password, full_name, created_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING created_at`

	err = r.db.QueryRowContext(ctx, query, id.String(), user.Username, user.Password, user.FullName,
		time.Now().UTC().Truncate(time.Microsecond)).Scan(&user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}

	user.ID = id.String()
	user.VerificationTier = TierNone
	return user, nil
}

// GetUserByUsername also loads the password hash for login.
func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	u := &User{}
	query := "SELECT " + userColumns + ", password FROM users WHERE username = $1"

	row := r.db.QueryRowContext(ctx, query, username)
	var tier string
	err := row.Scan(&u.ID, &u.Username, &u.FullName, &u.Bio, &u.AvatarURL, &u.IsOnline, &tier, &u.CreatedAt, &u.Password)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.VerificationTier = ParseTier(tier)
	return u, nil
}

func (r *Repository) GetUserByID(ctx context.Context, id string) (*User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE id = $1"
	u, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return u, nil
}

// ListUsers returns everyone in registration order, which stays stable across calls.
func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	q := "SELECT " + userColumns + " FROM users ORDER BY created_at, id"
	return r.queryUsers(ctx, q)
}

func (r *Repository) SearchUsers(ctx context.Context, query string) ([]User, error) {
	// We limit to 10 to keep it fast
	q := "SELECT " + userColumns + ` FROM users
		WHERE username ILIKE $1 OR full_name ILIKE $1
		ORDER BY username LIMIT 10`
	return r.queryUsers(ctx, q, "%"+query+"%")
}

func (r *Repository) UpdateProfile(ctx context.Context, id string, upd ProfileUpdate) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET
			full_name = COALESCE($2, full_name),
			bio = COALESCE($3, bio),
			avatar_url = COALESCE($4, avatar_url)
		WHERE id = $1`, id, upd.FullName, upd.Bio, upd.AvatarURL)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (r *Repository) SetOnline(ctx context.Context, id string, online bool) error {
	res, err := r.db.ExecContext(ctx, "UPDATE users SET is_online = $2 WHERE id = $1", id, online)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (r *Repository) queryUsers(ctx context.Context, q string, args ...any) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("user: scan rows: %w", err)
	}
	return users, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*User, error) {
	u := &User{}
	var tier string
	if err := row.Scan(&u.ID, &u.Username, &u.FullName, &u.Bio, &u.AvatarURL, &u.IsOnline, &tier, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.VerificationTier = ParseTier(tier)
	return u, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
