package orch

import (
	"context"
	"sync"

	"github.com/dkeye/syncroom/internal/app"
	"github.com/dkeye/syncroom/internal/core"
	"github.com/dkeye/syncroom/internal/domain"
	"github.com/rs/zerolog/log"
)

// Endpoint is the client side of one room session: the view it renders to,
// the recognizer it captures speech with and the speaker it plays clips on.
type Endpoint interface {
	core.Observer
	Capture() domain.SpeechCapture
	Player() domain.AudioPlayer
}

type Deps struct {
	Registry    *app.Registry
	Rooms       *app.RoomManager
	Store       domain.RoomStore
	Policy      app.Policy
	Translator  domain.Translator
	Synthesizer domain.Synthesizer
	Session     SessionSettings
}

// Orchestrator binds client connections to room sessions. Sessions run on
// Base, not on the request that started them.
type Orchestrator struct {
	Deps
	Base context.Context

	mu        sync.Mutex
	endpoints map[core.SessionID]Endpoint
}

func New(base context.Context, d Deps) *Orchestrator {
	if d.Policy == nil {
		d.Policy = app.SimplePolicy{}
	}
	return &Orchestrator{
		Deps:      d,
		Base:      base,
		endpoints: make(map[core.SessionID]Endpoint),
	}
}

// OnBackPressure applies the policy to a frame that did not fit the
// client's queue.
func (o *Orchestrator) OnBackPressure(sid core.SessionID, frameType string) {
	switch o.Policy.OnBackPressure(sid, frameType) {
	case app.KickMember:
		log.Warn().Str("module", "orch").Str("sid", string(sid)).Str("frame", frameType).Msg("kicking slow client")
		o.KickBySID(sid)
	case app.DropFrame:
		log.Debug().Str("module", "orch").Str("sid", string(sid)).Str("frame", frameType).Msg("frame dropped")
	case app.NoAction:
	}
}

// KickBySID closes the client's connection; its disconnect then ends the
// room session.
func (o *Orchestrator) KickBySID(sid core.SessionID) {
	if conn, ok := o.Registry.Signal(sid); ok {
		conn.Close()
		return
	}
	o.Registry.Cancel(sid)
}

func (o *Orchestrator) endpointOf(sid core.SessionID) (Endpoint, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ep, ok := o.endpoints[sid]
	return ep, ok
}

func (o *Orchestrator) setEndpoint(sid core.SessionID, ep Endpoint) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.endpoints[sid] = ep
}

// clearEndpoint forgets sid's endpoint if it is still ep.
func (o *Orchestrator) clearEndpoint(sid core.SessionID, ep Endpoint) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.endpoints[sid] == ep {
		delete(o.endpoints, sid)
	}
}
