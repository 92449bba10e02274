package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"collab-service/internal/models"
)

// SessionRepository abstracts collaboration session persistence.
type SessionRepository interface {
	CreateSession(ctx context.Context, session models.Session) (models.Session, error)
	GetSession(ctx context.Context, sessionID string) (models.Session, error)
	ListSessions(ctx context.Context, limit, offset int) ([]models.Session, int, error)
}

// SessionRepo is a sqlx implementation of SessionRepository.
type SessionRepo struct {
	db *sqlx.DB
}

// NewSessionRepo constructs a SessionRepo.
func NewSessionRepo(db *sqlx.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

const sessionColumns = `id, owner_id, title, description, visibility, access_code, created_at`

// CreateSession inserts a session and returns the stored row.
func (r *SessionRepo) CreateSession(ctx context.Context, s models.Session) (models.Session, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Visibility != models.VisibilityPrivate {
		s.Visibility = models.VisibilityPublic
	}
	var out models.Session
	err := r.db.QueryRowxContext(ctx, `INSERT INTO collab_sessions (id, owner_id, title, description, visibility, access_code)
        VALUES ($1, $2, $3, $4, $5, $6) RETURNING `+sessionColumns,
		s.ID, s.OwnerID, s.Title, s.Description, s.Visibility, s.AccessCode).StructScan(&out)
	return out, err
}

// GetSession fetches a session by id.
func (r *SessionRepo) GetSession(ctx context.Context, sessionID string) (models.Session, error) {
	var s models.Session
	err := r.db.GetContext(ctx, &s, `SELECT `+sessionColumns+` FROM collab_sessions WHERE id=$1`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Session{}, ErrSessionNotFound
	}
	return s, err
}

// ListSessions returns a page of sessions, newest first, with the total count.
func (r *SessionRepo) ListSessions(ctx context.Context, limit, offset int) ([]models.Session, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM collab_sessions`); err != nil {
		return nil, 0, err
	}
	sessions := []models.Session{}
	err := r.db.SelectContext(ctx, &sessions, `SELECT `+sessionColumns+` FROM collab_sessions ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	return sessions, total, err
}
