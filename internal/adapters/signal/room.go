package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/syncroom/internal/domain"
	"github.com/rs/zerolog/log"
)

const requestTimeout = 10 * time.Second

func (ctl *SignalWSController) handleJoin(ctx context.Context, cl *client, data []byte) {
	type joinPayload struct {
		Type     string `json:"type"`
		Room     string `json:"room"`
		Language string `json:"language"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Room == "" {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		cl.sendError("join", errBadPayload)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	roomID := domain.RoomID(p.Room)
	part, err := ctl.Orch.Join(ctx, cl.sid, roomID, p.Language, cl)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(cl.sid)).Str("room_id", p.Room).Msg("join rejected")
		cl.sendError("join", err)
		return
	}
	room, err := ctl.Orch.Rooms.Get(ctx, roomID)
	if err != nil {
		cl.sendError("join", err)
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(cl.sid)).Str("room_id", p.Room).Msg("join")
	_ = cl.emit("room_state", obj{"room": room, "self": part})
}

// handleLeave exits the current room; the connection stays open.
func (ctl *SignalWSController) handleLeave(ctx context.Context, cl *client) {
	log.Info().Str("module", "signal").Str("sid", string(cl.sid)).Msg("leave")
	roomID, _, ok := ctl.Orch.Registry.RoomOf(cl.sid)
	if !ok {
		cl.sendError("leave", errNoRoom)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	if err := ctl.Orch.Leave(ctx, cl.sid); err != nil {
		cl.sendError("leave", err)
		return
	}
	_ = cl.emit("left", obj{"room": roomID})
}
