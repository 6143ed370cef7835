package orch

import (
	"time"

	"github.com/dkeye/syncroom/internal/core"
	"github.com/dkeye/syncroom/internal/domain"
	"github.com/rs/zerolog/log"
)

// SessionSettings tunes the audio pipeline of every room session.
type SessionSettings struct {
	Cooldown       time.Duration
	Heartbeat      time.Duration
	ReleaseTimeout time.Duration
	PrepareLimit   int
}

// newSession wires capture, translation, synthesis and playback for one
// participant into a coordinator.
func (o *Orchestrator) newSession(room domain.RoomID, user domain.User, p *domain.Participant, ep Endpoint) *core.Coordinator {
	pb := core.NewPlayback(p.Language, o.Translator, o.Synthesizer, ep.Player(), ep,
		core.WithPrepareLimit(o.Session.PrepareLimit),
		core.WithPlaybackLogger(log.With().
			Str("module", "core.playback").
			Str("room", string(room)).
			Str("uid", string(user.ID)).
			Logger()),
	)
	return core.NewCoordinator(core.SessionConfig{
		RoomID:         room,
		User:           user,
		Language:       p.Language,
		Cooldown:       o.Session.Cooldown,
		Heartbeat:      o.Session.Heartbeat,
		ReleaseTimeout: o.Session.ReleaseTimeout,
	}, o.Store, ep.Capture(), pb, ep)
}
