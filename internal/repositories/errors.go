package repositories

import (
	"errors"

	"github.com/lib/pq"
)

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrMessageNotFound     = errors.New("message not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrReactionNotFound    = errors.New("reaction not found")
	ErrAlreadyJoined       = errors.New("already joined this session")
	ErrAlreadyReacted      = errors.New("already reacted with this emoji")
)

const pqUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	return false
}
