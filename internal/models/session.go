package models

import "time"

const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// Session is a collaboration room.
type Session struct {
	ID          string    `db:"id" json:"id"`
	OwnerID     string    `db:"owner_id" json:"owner_id"`
	Title       string    `db:"title" json:"title"`
	Description *string   `db:"description" json:"description,omitempty"`
	Visibility  string    `db:"visibility" json:"visibility"`
	AccessCode  *string   `db:"access_code" json:"-"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Participant is anyone who ever joined a session.
type Participant struct {
	ID        string    `db:"id" json:"id"`
	SessionID string    `db:"session_id" json:"session_id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Role      *string   `db:"role" json:"role,omitempty"`
	JoinedAt  time.Time `db:"joined_at" json:"joined_at"`
}

// Profile is the display identity of a user.
type Profile struct {
	ID       string  `db:"id" json:"id"`
	Email    *string `db:"email" json:"email,omitempty"`
	FullName *string `db:"full_name" json:"full_name,omitempty"`
}

// DisplayName prefers the full name, then the local part of the email.
func (p Profile) DisplayName() string {
	if p.FullName != nil && *p.FullName != "" {
		return *p.FullName
	}
	if p.Email != nil && *p.Email != "" {
		email := *p.Email
		for i := 0; i < len(email); i++ {
			if email[i] == '@' {
				return email[:i]
			}
		}
		return email
	}
	return ""
}

// ParticipantWithProfile is a roster entry with its resolved profile.
type ParticipantWithProfile struct {
	Participant
	Profile *Profile `json:"profile,omitempty"`
}
