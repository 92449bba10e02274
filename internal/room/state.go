package room

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"collab-service/internal/models"
)

// Default timings.
const (
	DefaultTypingTTL    = 3 * time.Second
	RecentlyActiveAfter = 5 * time.Minute
)

// Presence classifies a participant for display.
type Presence int

const (
	Offline Presence = iota
	RecentlyActive
	Online
)

func (p Presence) String() string {
	switch p {
	case Online:
		return "online"
	case RecentlyActive:
		return "recently_active"
	default:
		return "offline"
	}
}

// MergeOutcome describes how a stored row was folded into the display list.
type MergeOutcome int

const (
	MergeDuplicate MergeOutcome = iota
	MergeReplacedPending
	MergeAppended
)

// ChangeEffect reports follow-up work a change event requires.
type ChangeEffect struct {
	// ProfileNeeded is set when a participant joined without a known profile.
	ProfileNeeded string
	Merge         MergeOutcome
}

// TypingUser is a participant currently typing.
type TypingUser struct {
	UserID string
	Name   string
}

// State holds the reconciled view of one open room. It is not safe for
// concurrent use; the Controller serializes access.
type State struct {
	selfID string

	entries      []Entry
	reactions    map[string][]models.Reaction
	participants []models.ParticipantWithProfile
	profiles     map[string]models.Profile
	typing       map[string]string
	online       map[string]struct{}
	lastSeen     map[string]time.Time
	reads        map[string][]string
	readSent     map[string]struct{}
}

// NewState creates an empty state for selfID.
func NewState(selfID string) *State {
	return &State{
		selfID:    selfID,
		reactions: make(map[string][]models.Reaction),
		profiles:  make(map[string]models.Profile),
		typing:    make(map[string]string),
		online:    make(map[string]struct{}),
		lastSeen:  make(map[string]time.Time),
		reads:     make(map[string][]string),
		readSent:  make(map[string]struct{}),
	}
}

// LoadHistory replaces the display list with stored rows in creation order.
// Pending entries survive so an in-flight send is not lost by a reload.
func (s *State) LoadHistory(msgs []models.Message) {
	sorted := make([]models.Message, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })

	pending := make([]Entry, 0)
	for _, e := range s.entries {
		if e.Pending() {
			pending = append(pending, e)
		}
	}
	s.entries = make([]Entry, 0, len(sorted)+len(pending))
	for _, m := range sorted {
		if s.indexOf(m.ID) >= 0 {
			continue
		}
		s.entries = append(s.entries, ConfirmedMessage{Message: m})
	}
	for _, p := range pending {
		s.entries = append(s.entries, p)
	}
}

// LoadParticipants replaces the roster and caches any resolved profiles.
func (s *State) LoadParticipants(parts []models.ParticipantWithProfile) {
	s.participants = s.participants[:0]
	for _, p := range parts {
		if p.Profile != nil {
			s.profiles[p.UserID] = *p.Profile
		} else if prof, ok := s.profiles[p.UserID]; ok {
			prof := prof
			p.Profile = &prof
		}
		s.participants = append(s.participants, p)
	}
}

// LoadReactions replaces the reaction index.
func (s *State) LoadReactions(reactions []models.Reaction) {
	s.reactions = make(map[string][]models.Reaction)
	for _, r := range reactions {
		s.addReaction(r)
	}
}

// AddPending appends an optimistic entry.
func (s *State) AddPending(p PendingMessage) {
	s.entries = append(s.entries, p)
}

// RemovePending drops exactly the pending entry with tempID.
func (s *State) RemovePending(tempID string) bool {
	for i, e := range s.entries {
		if e.Pending() && e.ID() == tempID {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return true
		}
	}
	return false
}

// ApplyConfirmed folds a stored row into the list. Exact id matches are
// duplicates; otherwise a pending entry with the same correlation id is
// replaced in place. Rows without a correlation id fall back to matching
// the oldest pending entry with the same author and content.
// Every row also counts as a sighting of its author.
func (s *State) ApplyConfirmed(msg models.Message) MergeOutcome {
	s.markSeen(msg.UserID, msg.CreatedAt)
	if s.indexOf(msg.ID) >= 0 {
		return MergeDuplicate
	}

	confirmed := ConfirmedMessage{Message: msg}
	if corr := msg.CorrelationID(); corr != "" {
		if i := s.pendingIndex(func(p PendingMessage) bool { return p.TempID == corr }); i >= 0 {
			s.entries[i] = confirmed
			return MergeReplacedPending
		}
	} else {
		if i := s.pendingIndex(func(p PendingMessage) bool {
			return p.UserID == msg.UserID && p.Content == msg.Content
		}); i >= 0 {
			s.entries[i] = confirmed
			return MergeReplacedPending
		}
	}

	s.entries = append(s.entries, confirmed)
	return MergeAppended
}

// ApplyChange applies one change-feed event.
func (s *State) ApplyChange(ev models.ChangeEvent) (ChangeEffect, error) {
	var effect ChangeEffect
	switch ev.Table {
	case models.TableMessages:
		if ev.Op != models.OpInsert {
			return effect, nil
		}
		var msg models.Message
		if err := json.Unmarshal(ev.New, &msg); err != nil {
			return effect, fmt.Errorf("decode message row: %w", err)
		}
		effect.Merge = s.ApplyConfirmed(msg)

	case models.TableReactions:
		var r models.Reaction
		raw := ev.New
		if ev.Op == models.OpDelete {
			raw = ev.Old
		}
		if err := json.Unmarshal(raw, &r); err != nil {
			return effect, fmt.Errorf("decode reaction row: %w", err)
		}
		if ev.Op == models.OpDelete {
			s.removeReaction(r)
		} else {
			s.addReaction(r)
		}

	case models.TableParticipants:
		var p models.Participant
		raw := ev.New
		if ev.Op == models.OpDelete {
			raw = ev.Old
		}
		if err := json.Unmarshal(raw, &p); err != nil {
			return effect, fmt.Errorf("decode participant row: %w", err)
		}
		if ev.Op == models.OpDelete {
			s.removeParticipant(p.UserID)
			return effect, nil
		}
		if s.hasParticipant(p.UserID) {
			return effect, nil
		}
		entry := models.ParticipantWithProfile{Participant: p}
		if prof, ok := s.profiles[p.UserID]; ok {
			entry.Profile = &prof
		} else {
			effect.ProfileNeeded = p.UserID
		}
		s.participants = append(s.participants, entry)
	}
	return effect, nil
}

// SetProfile caches a resolved profile and attaches it to the roster entry.
func (s *State) SetProfile(prof models.Profile) {
	s.profiles[prof.ID] = prof
	for i := range s.participants {
		if s.participants[i].UserID == prof.ID {
			p := prof
			s.participants[i].Profile = &p
		}
	}
}

// HasProfile reports whether userID's profile is cached.
func (s *State) HasProfile(userID string) bool {
	_, ok := s.profiles[userID]
	return ok
}

// ApplyTyping records a typing signal, keyed by user id. Returns false for self.
// Expiry is owned by the caller, which calls ClearTyping when the TTL lapses.
func (s *State) ApplyTyping(p models.TypingPayload) bool {
	if p.UserID == "" || p.UserID == s.selfID {
		return false
	}
	s.typing[p.UserID] = p.Name
	return true
}

// ClearTyping drops userID's indicator.
func (s *State) ClearTyping(userID string) {
	delete(s.typing, userID)
}

// ApplyRead adds a reader to a message's receipt set. Returns false for self or repeats.
func (s *State) ApplyRead(p models.ReadPayload) bool {
	if p.MessageID == "" || p.UserID == "" || p.UserID == s.selfID {
		return false
	}
	for _, id := range s.reads[p.MessageID] {
		if id == p.UserID {
			return false
		}
	}
	s.reads[p.MessageID] = append(s.reads[p.MessageID], p.UserID)
	return true
}

// ApplyPresence replaces the online set and stamps lastSeen for every online id.
func (s *State) ApplyPresence(sync models.PresenceSync, now time.Time) {
	s.online = make(map[string]struct{}, len(sync.State))
	for key, metas := range sync.State {
		id := key
		if id == "" && len(metas) > 0 {
			id = metas[0].UserID
		}
		if id == "" {
			continue
		}
		s.online[id] = struct{}{}
		s.markSeen(id, now)
	}
}

// markSeen moves userID's last sighting forward, never back.
func (s *State) markSeen(userID string, at time.Time) {
	if userID == "" || at.IsZero() {
		return
	}
	if prev, ok := s.lastSeen[userID]; ok && !at.After(prev) {
		return
	}
	s.lastSeen[userID] = at
}

// PresenceOf classifies userID at now.
func (s *State) PresenceOf(userID string, now time.Time) Presence {
	if _, ok := s.online[userID]; ok {
		return Online
	}
	if seen, ok := s.lastSeen[userID]; ok && now.Sub(seen) <= RecentlyActiveAfter {
		return RecentlyActive
	}
	return Offline
}

// LastSeen returns when userID was last observed online.
func (s *State) LastSeen(userID string) (time.Time, bool) {
	t, ok := s.lastSeen[userID]
	return t, ok
}

// HasReaction reports whether userID already reacted to messageID with emoji.
func (s *State) HasReaction(messageID, userID, emoji string) bool {
	for _, r := range s.reactions[messageID] {
		if r.UserID == userID && r.Emoji == emoji {
			return true
		}
	}
	return false
}

// NextReadReceipt returns the id of the last visible entry to acknowledge,
// at most once per id. Nothing is acknowledged while the last entry is the
// caller's own, pending or confirmed.
func (s *State) NextReadReceipt() (string, bool) {
	if len(s.entries) == 0 {
		return "", false
	}
	c, ok := s.entries[len(s.entries)-1].(ConfirmedMessage)
	if !ok || c.UserID == s.selfID {
		return "", false
	}
	if _, sent := s.readSent[c.Message.ID]; sent {
		return "", false
	}
	s.readSent[c.Message.ID] = struct{}{}
	return c.Message.ID, true
}

func (s *State) indexOf(id string) int {
	for i, e := range s.entries {
		if e.ID() == id {
			return i
		}
	}
	return -1
}

func (s *State) pendingIndex(match func(PendingMessage) bool) int {
	for i, e := range s.entries {
		if p, ok := e.(PendingMessage); ok && match(p) {
			return i
		}
	}
	return -1
}

func (s *State) addReaction(r models.Reaction) {
	for _, existing := range s.reactions[r.MessageID] {
		if existing.ID == r.ID || (existing.UserID == r.UserID && existing.Emoji == r.Emoji) {
			return
		}
	}
	s.reactions[r.MessageID] = append(s.reactions[r.MessageID], r)
}

func (s *State) removeReaction(r models.Reaction) {
	list := s.reactions[r.MessageID]
	for i, existing := range list {
		if (r.ID != "" && existing.ID == r.ID) || (r.ID == "" && existing.UserID == r.UserID && existing.Emoji == r.Emoji) {
			s.reactions[r.MessageID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(s.reactions[r.MessageID]) == 0 {
		delete(s.reactions, r.MessageID)
	}
}

func (s *State) hasParticipant(userID string) bool {
	for _, p := range s.participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

func (s *State) removeParticipant(userID string) {
	for i, p := range s.participants {
		if p.UserID == userID {
			s.participants = append(s.participants[:i], s.participants[i+1:]...)
			return
		}
	}
}
