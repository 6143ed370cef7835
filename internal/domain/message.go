package domain

import "time"

type MessageID string

// RoomMessage is one recognized utterance. Append-only.
type RoomMessage struct {
	ID              MessageID `json:"id" bson:"_id"`
	RoomID          RoomID    `json:"roomId" bson:"roomId"`
	Text            string    `json:"text" bson:"text"`
	SpeakerUID      UserID    `json:"speakerUid" bson:"speakerUid"`
	SpeakerName     string    `json:"speakerName" bson:"speakerName"`
	SpeakerLanguage string    `json:"speakerLanguage" bson:"speakerLanguage"`
	CreatedAt       time.Time `json:"createdAt" bson:"createdAt"`
}
