package domain

import (
	"slices"
	"time"
)

type RoomID string

type RoomStatus string

const (
	RoomOpen   RoomStatus = "open"
	RoomClosed RoomStatus = "closed"
)

const MaxTopicLen = 120

type BlockedUser struct {
	UID   UserID `json:"uid" bson:"uid"`
	Email string `json:"email" bson:"email"`
}

// Room is a snapshot of the room document. Snapshots handed out by a
// RoomStore are never mutated after delivery.
type Room struct {
	ID               RoomID        `json:"id" bson:"_id"`
	Topic            string        `json:"topic" bson:"topic"`
	CreatorUID       UserID        `json:"creatorUid" bson:"creatorUid"`
	CreatorEmail     string        `json:"creatorEmail" bson:"creatorEmail"`
	InvitedEmails    []string      `json:"invitedEmails" bson:"invitedEmails"`
	EmceeEmails      []string      `json:"emceeEmails" bson:"emceeEmails"`
	ActiveSpeakerUID UserID        `json:"activeSpeakerUid,omitempty" bson:"activeSpeakerUid"`
	BlockedUsers     []BlockedUser `json:"blockedUsers" bson:"blockedUsers"`
	Status           RoomStatus    `json:"status" bson:"status"`
	Summary          string        `json:"summary,omitempty" bson:"summary,omitempty"`
	CreatedAt        time.Time     `json:"createdAt" bson:"createdAt"`
	ClosedAt         time.Time     `json:"closedAt,omitzero" bson:"closedAt,omitempty"`
}

func (r *Room) IsOpen() bool { return r.Status == RoomOpen }

func (r *Room) IsCreator(uid UserID) bool { return uid != "" && uid == r.CreatorUID }

// IsCreatorEmail matches the creator across client tokens.
func (r *Room) IsCreatorEmail(email string) bool {
	return r.CreatorEmail != "" && NormalizeEmail(email) == r.CreatorEmail
}

// IsEmcee reports moderator rights; the creator always has them.
func (r *Room) IsEmcee(uid UserID, email string) bool {
	if r.IsCreator(uid) || r.IsCreatorEmail(email) {
		return true
	}
	return slices.Contains(r.EmceeEmails, NormalizeEmail(email))
}

func (r *Room) IsInvited(email string) bool {
	email = NormalizeEmail(email)
	return email == r.CreatorEmail || slices.Contains(r.InvitedEmails, email)
}

func (r *Room) IsBlocked(uid UserID, email string) bool {
	email = NormalizeEmail(email)
	for _, b := range r.BlockedUsers {
		if b.UID == uid || (email != "" && b.Email == email) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand to another goroutine.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := *r
	c.InvitedEmails = slices.Clone(r.InvitedEmails)
	c.EmceeEmails = slices.Clone(r.EmceeEmails)
	c.BlockedUsers = slices.Clone(r.BlockedUsers)
	return &c
}
