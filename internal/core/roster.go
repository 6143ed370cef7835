package core

import (
	"slices"

	"github.com/dkeye/syncroom/internal/domain"
)

// RosterEntry is a present participant with the roles derived from the room.
type RosterEntry struct {
	domain.Participant
	Emcee    bool `json:"isEmcee"`
	Creator  bool `json:"isCreator"`
	Speaking bool `json:"isSpeaking"`
}

type RosterView struct {
	Present []RosterEntry `json:"present"`
	// Absent are invited emails with no participant document.
	Absent  []string      `json:"absent"`
	Speaker domain.UserID `json:"activeSpeakerUid,omitempty"`
	Self    *RosterEntry  `json:"self,omitempty"`
}

// ReconcileRoster derives the roster from the latest room and participant
// snapshots alone.
func ReconcileRoster(room *domain.Room, participants []domain.Participant, self domain.UserID) RosterView {
	v := RosterView{
		Present: make([]RosterEntry, 0, len(participants)),
		Absent:  []string{},
	}
	if room == nil {
		return v
	}
	v.Speaker = room.ActiveSpeakerUID

	present := make(map[string]bool, len(participants))
	for _, p := range participants {
		e := RosterEntry{
			Participant: p,
			Emcee:       room.IsEmcee(p.UID, p.Email),
			Creator:     room.IsCreator(p.UID) || room.IsCreatorEmail(p.Email),
			Speaking:    p.UID == room.ActiveSpeakerUID,
		}
		v.Present = append(v.Present, e)
		present[domain.NormalizeEmail(p.Email)] = true
	}
	slices.SortStableFunc(v.Present, func(a, b RosterEntry) int {
		return a.JoinedAt.Compare(b.JoinedAt)
	})
	for i := range v.Present {
		if v.Present[i].UID == self {
			v.Self = &v.Present[i]
		}
	}

	invited := room.InvitedEmails
	if room.CreatorEmail != "" && !slices.Contains(invited, room.CreatorEmail) {
		invited = append([]string{room.CreatorEmail}, invited...)
	}
	for _, email := range invited {
		email = domain.NormalizeEmail(email)
		if !present[email] && !slices.Contains(v.Absent, email) {
			v.Absent = append(v.Absent, email)
		}
	}
	return v
}
