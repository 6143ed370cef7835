package domain

import "time"

// Participant exists in the store exactly while the user is present.
type Participant struct {
	UID        UserID    `json:"uid" bson:"uid"`
	Name       string    `json:"name" bson:"name"`
	Email      string    `json:"email" bson:"email"`
	Language   string    `json:"selectedLanguage" bson:"selectedLanguage"`
	IsMuted    bool      `json:"isMuted" bson:"isMuted"`
	JoinedAt   time.Time `json:"joinedAt" bson:"joinedAt"`
	LastSeenAt time.Time `json:"lastSeenAt" bson:"lastSeenAt"`
}

// ParticipantRef addresses a participant across rooms.
type ParticipantRef struct {
	RoomID RoomID
	UID    UserID
}
