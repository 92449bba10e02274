package room

import (
	"sort"

	"collab-service/internal/models"
)

// Snapshot is an immutable copy of the room state handed to callers.
type Snapshot struct {
	Entries      []Entry
	Reactions    map[string][]models.ReactionGroup
	Participants []models.ParticipantWithProfile
	Typing       []TypingUser
	ReadBy       map[string][]string
	Online       []string
}

// Snapshot copies the current state.
func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		Entries:      make([]Entry, len(s.entries)),
		Reactions:    make(map[string][]models.ReactionGroup, len(s.reactions)),
		Participants: make([]models.ParticipantWithProfile, len(s.participants)),
		ReadBy:       make(map[string][]string, len(s.reads)),
		Online:       make([]string, 0, len(s.online)),
	}
	copy(snap.Entries, s.entries)
	copy(snap.Participants, s.participants)

	for msgID, list := range s.reactions {
		snap.Reactions[msgID] = GroupReactions(list)
	}
	for msgID, readers := range s.reads {
		snap.ReadBy[msgID] = append([]string(nil), readers...)
	}
	for id := range s.online {
		snap.Online = append(snap.Online, id)
	}
	sort.Strings(snap.Online)

	for id, name := range s.typing {
		snap.Typing = append(snap.Typing, TypingUser{UserID: id, Name: name})
	}
	sort.Slice(snap.Typing, func(i, j int) bool { return snap.Typing[i].UserID < snap.Typing[j].UserID })
	return snap
}

// GroupReactions aggregates reactions by emoji in first-seen order.
func GroupReactions(list []models.Reaction) []models.ReactionGroup {
	groups := make([]models.ReactionGroup, 0)
	index := make(map[string]int)
	for _, r := range list {
		i, ok := index[r.Emoji]
		if !ok {
			i = len(groups)
			index[r.Emoji] = i
			groups = append(groups, models.ReactionGroup{Emoji: r.Emoji})
		}
		groups[i].Count++
		groups[i].Users = append(groups[i].Users, r.UserID)
	}
	return groups
}
