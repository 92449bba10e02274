package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"collab-service/internal/models"
)

// ParticipantRepository abstracts the session roster.
type ParticipantRepository interface {
	Join(ctx context.Context, sessionID, userID string) (models.Participant, error)
	Leave(ctx context.Context, sessionID, userID string) (models.Participant, error)
	ListParticipants(ctx context.Context, sessionID string) ([]models.Participant, error)
	IsParticipant(ctx context.Context, sessionID, userID string) (bool, error)
}

// ParticipantRepo is a sqlx implementation of ParticipantRepository.
type ParticipantRepo struct {
	db *sqlx.DB
}

// NewParticipantRepo constructs a ParticipantRepo.
func NewParticipantRepo(db *sqlx.DB) *ParticipantRepo {
	return &ParticipantRepo{db: db}
}

const participantColumns = `id, session_id, user_id, role, joined_at`

// Join adds the user to the session roster.
func (r *ParticipantRepo) Join(ctx context.Context, sessionID, userID string) (models.Participant, error) {
	var p models.Participant
	err := r.db.QueryRowxContext(ctx, `INSERT INTO collab_session_participants (id, session_id, user_id)
        VALUES ($1, $2, $3) RETURNING `+participantColumns, uuid.NewString(), sessionID, userID).StructScan(&p)
	if isUniqueViolation(err) {
		return models.Participant{}, ErrAlreadyJoined
	}
	return p, err
}

// Leave removes the user from the roster and returns the deleted row.
func (r *ParticipantRepo) Leave(ctx context.Context, sessionID, userID string) (models.Participant, error) {
	var p models.Participant
	err := r.db.QueryRowxContext(ctx, `DELETE FROM collab_session_participants WHERE session_id=$1 AND user_id=$2
        RETURNING `+participantColumns, sessionID, userID).StructScan(&p)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Participant{}, ErrParticipantNotFound
	}
	return p, err
}

// ListParticipants returns the roster ordered by join time.
func (r *ParticipantRepo) ListParticipants(ctx context.Context, sessionID string) ([]models.Participant, error) {
	parts := []models.Participant{}
	err := r.db.SelectContext(ctx, &parts, `SELECT `+participantColumns+` FROM collab_session_participants WHERE session_id=$1 ORDER BY joined_at ASC`, sessionID)
	return parts, err
}

// IsParticipant checks roster membership.
func (r *ParticipantRepo) IsParticipant(ctx context.Context, sessionID, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM collab_session_participants WHERE session_id=$1 AND user_id=$2)`, sessionID, userID)
	return exists, err
}
