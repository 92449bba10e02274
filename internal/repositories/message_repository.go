package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"collab-service/internal/models"
)

// NewMessage is the input for a message insert.
type NewMessage struct {
	SessionID string
	UserID    string
	Content   string
	ImageURL  *string
	ImagePath *string
	ClientID  *string
}

// MessageRepository defines interactions for room messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg NewMessage) (models.Message, error)
	ListMessages(ctx context.Context, sessionID string) ([]models.Message, error)
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, session_id, user_id, content, image_url, image_path, client_id, created_at`

// CreateMessage stores a message. The client correlation id is echoed back on the row.
func (r *MessageRepo) CreateMessage(ctx context.Context, in NewMessage) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO collab_messages (id, session_id, user_id, content, image_url, image_path, client_id)
        VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING `+messageColumns,
		uuid.NewString(), in.SessionID, in.UserID, in.Content, in.ImageURL, in.ImagePath, in.ClientID).StructScan(&msg)
	return msg, err
}

// ListMessages returns the full history ordered by creation time.
func (r *MessageRepo) ListMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	msgs := []models.Message{}
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM collab_messages WHERE session_id=$1 ORDER BY created_at ASC`, sessionID)
	return msgs, err
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM collab_messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}
