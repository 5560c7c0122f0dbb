package chat

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

// Repository is the Postgres-backed Source used by the API server.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ Source = (*Repository)(nil)

func (r *Repository) Filter(ctx context.Context, pair Pair) ([]Message, error) {
	query := `
		SELECT id, sender_id, recipient_id, content, created_at, is_read, message_type
		FROM messages
		WHERE (sender_id = $1 AND recipient_id = $2)
		   OR (sender_id = $2 AND recipient_id = $1)
		ORDER BY created_at, id
	`
	rows, err := r.db.QueryContext(ctx, query, pair.A, pair.B)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.RecipientID, &msg.Content, &msg.CreatedAt, &msg.IsRead, &msg.Type); err != nil {
			return nil, err
		}
		msg.CreatedAt = msg.CreatedAt.UTC()
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Create assigns the id and timestamp. Ids are UUIDv7 so they sort with time.
func (r *Repository) Create(ctx context.Context, m NewMessage) (Message, error) {
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	if m.Type == "" {
		m.Type = TypeText
	}
	id, err := uuid.NewV7()
	if err != nil {
		return Message{}, err
	}

	msg := Message{
		ID:          id.String(),
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		Content:     m.Content,
		CreatedAt:   time.Now().UTC().Truncate(time.Microsecond),
		Type:        m.Type,
	}
	query := `INSERT INTO messages (id, sender_id, recipient_id, content, created_at, message_type)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err = r.db.ExecContext(ctx, query, msg.ID, msg.SenderID, msg.RecipientID, msg.Content, msg.CreatedAt, msg.Type)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return Message{}, fmt.Errorf("%w: recipient %s", user.ErrNotFound, msg.RecipientID)
		}
		return Message{}, err
	}
	return msg, nil
}

func (r *Repository) MarkRead(ctx context.Context, readerID string, ids []string) (int, error) {
	bySender, err := r.MarkReadBySender(ctx, readerID, ids)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, changed := range bySender {
		n += len(changed)
	}
	return n, nil
}

// MarkReadBySender flips is_read for ids addressed to readerID and groups the
// changed ids by their sender, so read receipts can be routed.
func (r *Repository) MarkReadBySender(ctx context.Context, readerID string, ids []string) (map[string][]string, error) {
	out := make(map[string][]string)
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		UPDATE messages SET is_read = TRUE
		WHERE recipient_id = $1 AND id = ANY($2) AND NOT is_read
		RETURNING id, sender_id`, readerID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id, sender string
		if err := rows.Scan(&id, &sender); err != nil {
			return nil, err
		}
		out[sender] = append(out[sender], id)
	}
	return out, rows.Err()
}
