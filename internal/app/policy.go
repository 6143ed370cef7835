package app

import "github.com/dkeye/syncroom/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

// Policy decides what happens when a client's outbound queue is full.
type Policy interface {
	OnBackPressure(sid core.SessionID, frameType string) BackpressureAction
}

// SimplePolicy drops frames a later snapshot supersedes and kicks the
// client for anything else, since a lost play or capture frame would stall
// its session.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(_ core.SessionID, frameType string) BackpressureAction {
	switch frameType {
	case "room_state", "roster", "notice", "pong":
		return DropFrame
	}
	return KickMember
}
