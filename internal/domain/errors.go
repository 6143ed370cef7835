package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAccessDenied  = errors.New("access denied")
	ErrRoomClosed    = errors.New("room closed")
	ErrNotEmcee      = errors.New("caller is not an emcee")
	ErrCreatorImmune = errors.New("room creator cannot be demoted or removed")
	ErrNotPresent    = errors.New("participant not present")
	ErrFloorTaken    = errors.New("floor held by another participant")
	ErrMuted         = errors.New("participant is muted")
	ErrMicBusy       = errors.New("microphone busy")
	ErrRemoved       = errors.New("removed from room")
	ErrInvalidInput  = errors.New("invalid input")
	ErrInvalidLang   = errors.New("invalid language tag")
	ErrTopicTooLong  = errors.New("topic too long")
)
