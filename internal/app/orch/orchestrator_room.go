package orch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/syncroom/internal/core"
	"github.com/dkeye/syncroom/internal/domain"
	"github.com/rs/zerolog/log"
)

const leaveTimeout = 5 * time.Second

// Join enters roomID for sid and starts its session. A client already in a
// room leaves it first.
func (o *Orchestrator) Join(ctx context.Context, sid core.SessionID, roomID domain.RoomID, language string, ep Endpoint) (*domain.Participant, error) {
	if from, _, ok := o.Registry.RoomOf(sid); ok {
		if err := o.Leave(ctx, sid); err != nil {
			return nil, err
		}
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("from_room", string(from)).Msg("left previous room")
	}

	user := o.Registry.GetOrCreateUser(sid)
	if user.Email == "" {
		return nil, fmt.Errorf("%w: identity required", domain.ErrAccessDenied)
	}
	p, err := o.Rooms.Join(ctx, roomID, user, language)
	if err != nil {
		return nil, err
	}

	coord := o.newSession(roomID, user, p, ep)
	base := o.Base
	if base == nil {
		base = context.Background()
	}
	sctx, cancel := context.WithCancel(base)
	o.setEndpoint(sid, ep)
	o.Registry.BindSession(sid, roomID, coord, cancel)
	go o.runSession(sctx, sid, roomID, user, coord, ep)

	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).Str("lang", p.Language).Msg("session started")
	return p, nil
}

func (o *Orchestrator) runSession(ctx context.Context, sid core.SessionID, roomID domain.RoomID, user domain.User, coord *core.Coordinator, ep Endpoint) {
	err := coord.Run(ctx)
	o.Registry.RemoveRoom(sid, coord)
	o.clearEndpoint(sid, ep)
	if err == nil {
		return
	}

	l := log.With().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).Logger()
	dctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()

	switch {
	case errors.Is(err, domain.ErrRemoved):
		l.Info().Msg("session ended: removed")
		// Only a block leaves a document behind; a vanished one is not ours to delete.
		room, gerr := o.Rooms.Get(dctx, roomID)
		if gerr != nil || !room.IsBlocked(user.ID, user.Email) {
			return
		}
	case errors.Is(err, domain.ErrRoomClosed):
		l.Info().Msg("session ended: room closed")
	default:
		l.Error().Err(err).Msg("session failed")
		ep.OnClosed(err)
	}

	if err := o.Rooms.Leave(dctx, roomID, user.ID); err != nil {
		l.Warn().Err(err).Msg("cleanup leave failed")
	}
}

// Leave stops sid's session and deletes its participant document. It is a
// no-op when sid is not in a room.
func (o *Orchestrator) Leave(ctx context.Context, sid core.SessionID) error {
	roomID, sess, ok := o.Registry.RoomOf(sid)
	if !ok {
		return nil
	}
	o.Registry.Cancel(sid)
	select {
	case <-sess.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	o.Registry.RemoveRoom(sid, sess)

	user := o.Registry.GetOrCreateUser(sid)
	if err := o.Rooms.Leave(ctx, roomID, user.ID); err != nil {
		return err
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).Msg("left room")
	return nil
}

func (o *Orchestrator) Press(sid core.SessionID) error {
	_, sess, ok := o.Registry.RoomOf(sid)
	if !ok {
		return domain.ErrNotPresent
	}
	sess.Press()
	return nil
}

func (o *Orchestrator) Stop(sid core.SessionID) error {
	_, sess, ok := o.Registry.RoomOf(sid)
	if !ok {
		return domain.ErrNotPresent
	}
	sess.Stop()
	return nil
}

// OnDisconnect ends the session that was driven through ep and forgets the
// connection. A session already taken over by a newer endpoint is kept.
func (o *Orchestrator) OnDisconnect(sid core.SessionID, conn core.SignalConnection, ep Endpoint) {
	if cur, ok := o.endpointOf(sid); ok && cur == ep {
		ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
		if err := o.Leave(ctx, sid); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("leave on disconnect")
		}
		cancel()
	}
	if conn != nil {
		o.Registry.Unbind(sid, conn)
	}
}
