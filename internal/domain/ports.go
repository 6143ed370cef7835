package domain

import (
	"context"
	"time"
)

// ParticipantPatch holds optional participant field updates.
type ParticipantPatch struct {
	IsMuted *bool
}

// Batch is an all-or-nothing multi-document write against one room.
type Batch struct {
	// RequireOpen aborts the whole batch with ErrRoomClosed unless the room is open.
	RequireOpen bool

	AddInvited   []string
	AddEmcees    []string
	RemoveEmcees []string
	AddBlocked   []BlockedUser
	SetStatus    RoomStatus
	SetSummary   *string

	// ReleaseFloorOf clears the active speaker only if it equals this uid.
	ReleaseFloorOf UserID
	ClearFloor     bool

	// Patches fail the batch with ErrNotPresent when the participant is gone.
	Patches            map[UserID]ParticipantPatch
	DeleteParticipants []UserID
}

// RoomStore is the system of record and the only channel between clients.
type RoomStore interface {
	CreateRoom(ctx context.Context, room *Room) error
	GetRoom(ctx context.Context, id RoomID) (*Room, error)
	Commit(ctx context.Context, id RoomID, b Batch) error

	// AcquireFloor sets the active speaker if the floor is free or already
	// held by uid. force overwrites any holder.
	AcquireFloor(ctx context.Context, id RoomID, uid UserID, force bool) error
	// ReleaseFloor clears the active speaker only when held by uid.
	ReleaseFloor(ctx context.Context, id RoomID, uid UserID) error

	// PutParticipant creates or overwrites the participant. It fails with
	// ErrRoomClosed or ErrAccessDenied (blocked) checked atomically with the
	// write, and keeps IsMuted of a document it overwrites.
	PutParticipant(ctx context.Context, id RoomID, p *Participant) error
	GetParticipant(ctx context.Context, id RoomID, uid UserID) (*Participant, error)
	ListParticipants(ctx context.Context, id RoomID) ([]Participant, error)
	TouchParticipant(ctx context.Context, id RoomID, uid UserID) error
	ListStaleParticipants(ctx context.Context, before time.Time) ([]ParticipantRef, error)

	AppendMessage(ctx context.Context, id RoomID, m *RoomMessage) error
	ListMessages(ctx context.Context, id RoomID, limit int) ([]RoomMessage, error)

	// Watch* streams run until ctx is done; the channel is then closed.
	WatchRoom(ctx context.Context, id RoomID) (<-chan *Room, error)
	WatchParticipants(ctx context.Context, id RoomID) (<-chan []Participant, error)
	// WatchMessages yields batches of messages created strictly after the
	// given instant, each batch ordered by CreatedAt.
	WatchMessages(ctx context.Context, id RoomID, after time.Time) (<-chan []RoomMessage, error)
}

// RecognitionCallbacks receive results of a continuous recognition session.
// They may be invoked from any goroutine.
type RecognitionCallbacks struct {
	OnRecognized     func(text string)
	OnNoMatch        func()
	OnCanceled       func(reason string)
	OnSessionStopped func()
}

type CaptureSession interface {
	Stop() error
}

type SpeechCapture interface {
	StartContinuousRecognition(ctx context.Context, lang string, cb RecognitionCallbacks) (CaptureSession, error)
}

type Translator interface {
	Translate(ctx context.Context, text, from, to string) (string, error)
}

// Clip is synthesized speech. Empty Audio means the client speaks Text itself.
type Clip struct {
	MessageID MessageID
	Text      string
	Language  string
	Format    string
	Audio     []byte
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text, lang string) (Clip, error)
}

// AudioPlayer plays one clip and returns when playback has finished.
type AudioPlayer interface {
	Play(ctx context.Context, clip Clip) error
}

type Summarizer interface {
	Summarize(ctx context.Context, room *Room, messages []RoomMessage) (string, error)
}
