package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"collab-service/internal/models"
)

// ReactionRepository manages per-message emoji reactions.
type ReactionRepository interface {
	AddReaction(ctx context.Context, messageID, userID, emoji string) (models.Reaction, error)
	RemoveReaction(ctx context.Context, messageID, userID, emoji string) (models.Reaction, error)
	ListReactions(ctx context.Context, sessionID string, messageIDs []string) ([]models.Reaction, error)
}

// ReactionRepo is a sqlx-backed repository.
type ReactionRepo struct {
	db *sqlx.DB
}

// NewReactionRepo constructs a ReactionRepo.
func NewReactionRepo(db *sqlx.DB) *ReactionRepo {
	return &ReactionRepo{db: db}
}

const reactionColumns = `id, message_id, user_id, emoji, created_at`

// AddReaction inserts a reaction; a repeated (message, user, emoji) yields ErrAlreadyReacted.
func (r *ReactionRepo) AddReaction(ctx context.Context, messageID, userID, emoji string) (models.Reaction, error) {
	var out models.Reaction
	err := r.db.QueryRowxContext(ctx, `INSERT INTO collab_message_reactions (id, message_id, user_id, emoji)
        VALUES ($1, $2, $3, $4) RETURNING `+reactionColumns, uuid.NewString(), messageID, userID, emoji).StructScan(&out)
	if isUniqueViolation(err) {
		return models.Reaction{}, ErrAlreadyReacted
	}
	return out, err
}

// RemoveReaction deletes the caller's reaction and returns the deleted row.
func (r *ReactionRepo) RemoveReaction(ctx context.Context, messageID, userID, emoji string) (models.Reaction, error) {
	var out models.Reaction
	err := r.db.QueryRowxContext(ctx, `DELETE FROM collab_message_reactions WHERE message_id=$1 AND user_id=$2 AND emoji=$3
        RETURNING `+reactionColumns, messageID, userID, emoji).StructScan(&out)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Reaction{}, ErrReactionNotFound
	}
	return out, err
}

// ListReactions loads reactions for the given messages in one query.
// Ids of messages outside sessionID match nothing.
func (r *ReactionRepo) ListReactions(ctx context.Context, sessionID string, messageIDs []string) ([]models.Reaction, error) {
	if len(messageIDs) == 0 {
		return []models.Reaction{}, nil
	}
	query, args, err := sqlx.In(`SELECT r.id, r.message_id, r.user_id, r.emoji, r.created_at
        FROM collab_message_reactions r
        JOIN collab_messages m ON m.id = r.message_id
        WHERE m.session_id = ? AND r.message_id IN (?)
        ORDER BY r.created_at ASC`, sessionID, messageIDs)
	if err != nil {
		return nil, err
	}
	reactions := []models.Reaction{}
	err = r.db.SelectContext(ctx, &reactions, r.db.Rebind(query), args...)
	return reactions, err
}
