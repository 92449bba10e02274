package models

import "time"

// Message represents a row in collab_messages.
type Message struct {
	ID        string    `db:"id" json:"id"`
	SessionID string    `db:"session_id" json:"session_id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Content   string    `db:"content" json:"content"`
	ImageURL  *string   `db:"image_url" json:"image_url,omitempty"`
	ImagePath *string   `db:"image_path" json:"image_path,omitempty"`
	ClientID  *string   `db:"client_id" json:"client_id,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// CorrelationID returns the client-generated id echoed back by the store, if any.
func (m Message) CorrelationID() string {
	if m.ClientID == nil {
		return ""
	}
	return *m.ClientID
}

// Reaction is a single emoji reaction; (message_id, user_id, emoji) is unique.
type Reaction struct {
	ID        string    `db:"id" json:"id"`
	MessageID string    `db:"message_id" json:"message_id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Emoji     string    `db:"emoji" json:"emoji"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ReactionGroup is the aggregated view of one emoji on one message.
type ReactionGroup struct {
	Emoji string   `json:"emoji"`
	Count int      `json:"count"`
	Users []string `json:"users"`
}
