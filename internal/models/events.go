package models

import (
	"encoding/json"
	"time"
)

// Tables mirrored on the change feed.
const (
	TableMessages     = "collab_messages"
	TableParticipants = "collab_session_participants"
	TableReactions    = "collab_message_reactions"
)

// Change-feed operations.
const (
	OpInsert = "INSERT"
	OpDelete = "DELETE"
)

// Ephemeral broadcast event names.
const (
	BroadcastTyping = "typing"
	BroadcastRead   = "read"
)

// Frame families sent from server to client.
const (
	FamilyChange    = "change"
	FamilyBroadcast = "broadcast"
	FamilyPresence  = "presence"
	FamilyStatus    = "status"
)

// Client frame types.
const (
	ClientBroadcast = "broadcast"
	ClientTrack     = "track"
	ClientUntrack   = "untrack"
)

// ChangeEvent mirrors an insert or delete on one of the room tables.
type ChangeEvent struct {
	Table string          `json:"table"`
	Op    string          `json:"op"`
	New   json.RawMessage `json:"new,omitempty"`
	Old   json.RawMessage `json:"old,omitempty"`
}

// NewChangeEvent marshals row into New (insert) or Old (delete).
func NewChangeEvent(table, op string, row any) (ChangeEvent, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return ChangeEvent{}, err
	}
	ev := ChangeEvent{Table: table, Op: op}
	if op == OpDelete {
		ev.Old = data
	} else {
		ev.New = data
	}
	return ev, nil
}

// BroadcastEvent is an ephemeral, never persisted signal.
type BroadcastEvent struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// TypingPayload is carried by typing broadcasts.
type TypingPayload struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// ReadPayload is carried by read-receipt broadcasts.
type ReadPayload struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
}

// PresenceMeta is the small payload a client tracks on the channel.
type PresenceMeta struct {
	UserID   string    `json:"user_id"`
	Name     string    `json:"name"`
	OnlineAt time.Time `json:"online_at"`
}

// PresenceSync carries the full presence state keyed by user id.
type PresenceSync struct {
	State map[string][]PresenceMeta `json:"state"`
}

// ServerFrame is one websocket frame from the room channel.
type ServerFrame struct {
	Family    string          `json:"family"`
	Change    *ChangeEvent    `json:"change,omitempty"`
	Broadcast *BroadcastEvent `json:"broadcast,omitempty"`
	Presence  *PresenceSync   `json:"presence,omitempty"`
	Status    string          `json:"status,omitempty"`
}

// ClientFrame is one websocket frame sent by a room client.
type ClientFrame struct {
	Type    string          `json:"type"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
