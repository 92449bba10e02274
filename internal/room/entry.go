package room

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"collab-service/internal/models"
)

const tempPrefix = "temp-"

// Entry is one item of the display list: a PendingMessage or a ConfirmedMessage.
type Entry interface {
	ID() string
	AuthorID() string
	Text() string
	Created() time.Time
	Pending() bool
	isEntry()
}

// PendingMessage is an optimistic local echo awaiting its stored row.
// TempID doubles as the correlation id sent to the store as client_id.
type PendingMessage struct {
	TempID    string
	SessionID string
	UserID    string
	Content   string
	CreatedAt time.Time
}

func newTempID() string {
	return tempPrefix + uuid.NewString()
}

// IsTempID reports whether id is a locally generated placeholder.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempPrefix)
}

func (p PendingMessage) ID() string         { return p.TempID }
func (p PendingMessage) AuthorID() string   { return p.UserID }
func (p PendingMessage) Text() string       { return p.Content }
func (p PendingMessage) Created() time.Time { return p.CreatedAt }
func (p PendingMessage) Pending() bool      { return true }
func (PendingMessage) isEntry()             {}

// ConfirmedMessage is a stored row.
type ConfirmedMessage struct {
	models.Message
}

func (c ConfirmedMessage) ID() string         { return c.Message.ID }
func (c ConfirmedMessage) AuthorID() string   { return c.UserID }
func (c ConfirmedMessage) Text() string       { return c.Content }
func (c ConfirmedMessage) Created() time.Time { return c.CreatedAt }
func (c ConfirmedMessage) Pending() bool      { return false }
func (ConfirmedMessage) isEntry()             {}
