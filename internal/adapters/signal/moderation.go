package signal

import (
	"context"
	"encoding/json"

	"github.com/dkeye/syncroom/internal/domain"
	"github.com/rs/zerolog/log"
)

type moderationPayload struct {
	Room   string   `json:"room"`
	UID    string   `json:"uid"`
	Email  string   `json:"email"`
	Emails []string `json:"emails"`
}

// handleModeration runs an emcee command. The room defaults to the one the
// caller is in. Results reach every client through the store feeds, so
// success has no reply.
func (ctl *SignalWSController) handleModeration(ctx context.Context, cl *client, typ string, data []byte) {
	var p moderationPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("type", typ).Msg("bad moderation payload")
		cl.sendError(typ, errBadPayload)
		return
	}
	roomID := domain.RoomID(p.Room)
	if roomID == "" {
		cur, _, ok := ctl.Orch.Registry.RoomOf(cl.sid)
		if !ok {
			cl.sendError(typ, errNoRoom)
			return
		}
		roomID = cur
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	caller := ctl.Orch.Registry.GetOrCreateUser(cl.sid)
	rooms := ctl.Orch.Rooms
	target := domain.UserID(p.UID)

	var err error
	switch typ {
	case "invite":
		emails := p.Emails
		if p.Email != "" {
			emails = append(emails, p.Email)
		}
		err = rooms.Invite(ctx, roomID, caller, emails)
	case "promote":
		err = rooms.Promote(ctx, roomID, caller, target)
	case "demote":
		err = rooms.Demote(ctx, roomID, caller, p.Email)
	case "mute":
		err = rooms.SetMuted(ctx, roomID, caller, target, true)
	case "unmute":
		err = rooms.SetMuted(ctx, roomID, caller, target, false)
	case "remove":
		err = rooms.Remove(ctx, roomID, caller, target)
	case "end":
		err = rooms.End(ctx, roomID, caller)
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(cl.sid)).Str("type", typ).Msg("moderation rejected")
		cl.sendError(typ, err)
	}
}
