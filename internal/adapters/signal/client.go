package signal

import (
	"encoding/json"
	"errors"

	"github.com/dkeye/syncroom/internal/app/orch"
	"github.com/dkeye/syncroom/internal/core"
	"github.com/dkeye/syncroom/internal/domain"
	"github.com/rs/zerolog/log"
)

type obj = map[string]any

var (
	errBadPayload  = errors.New("bad payload")
	errUnknownType = errors.New("unknown type")
	errRateLimited = errors.New("rate limited")
	errNoRoom      = errors.New("not in a room")
)

// client is one WebSocket connection acting as the endpoint of a room
// session.
type client struct {
	ctl     *SignalWSController
	sid     core.SessionID
	conn    *WsSignalConn
	capture *RemoteCapture
	player  *RemotePlayer
}

var _ orch.Endpoint = (*client)(nil)

func newClient(ctl *SignalWSController, sid core.SessionID, conn *WsSignalConn) *client {
	cl := &client{ctl: ctl, sid: sid, conn: conn}
	cl.capture = &RemoteCapture{out: cl}
	cl.player = newRemotePlayer(cl, ctl.PlayTimeout)
	return cl
}

func (cl *client) Capture() domain.SpeechCapture { return cl.capture }
func (cl *client) Player() domain.AudioPlayer    { return cl.player }

func (cl *client) OnRoom(room *domain.Room) {
	_ = cl.emit("room_state", obj{"room": room})
}

func (cl *client) OnRoster(v core.RosterView) {
	_ = cl.emit("roster", obj{"roster": v})
}

func (cl *client) OnMic(state core.MicState, reason error) {
	fields := obj{"state": state.String()}
	if reason != nil {
		fields["reason"] = errorCode(reason)
		fields["message"] = reason.Error()
	}
	_ = cl.emit("mic", fields)
}

func (cl *client) OnMessage(m core.DisplayedMessage) {
	_ = cl.emit("message", obj{"message": m})
}

func (cl *client) OnNotice(n core.Notice) {
	_ = cl.emit("notice", obj{"notice": n})
}

func (cl *client) OnClosed(reason error) {
	if errors.Is(reason, domain.ErrRemoved) {
		_ = cl.emit("removed", nil)
		return
	}
	_ = cl.emit("closed", obj{"reason": errorCode(reason), "message": reason.Error()})
}

// emit sends a flat {"type": typ, ...fields} frame. A full queue is handed
// to the backpressure policy.
func (cl *client) emit(typ string, fields obj) error {
	if fields == nil {
		fields = obj{}
	}
	fields["type"] = typ
	b, err := json.Marshal(fields)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("frame", typ).Msg("marshal")
		return err
	}
	err = cl.conn.TrySend(b)
	if errors.Is(err, ErrBackpressure) {
		cl.ctl.Orch.OnBackPressure(cl.sid, typ)
	}
	return err
}

func (cl *client) sendError(request string, err error) {
	_ = cl.emit("error", obj{
		"request": request,
		"error":   errorCode(err),
		"message": err.Error(),
	})
}

func errorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrRoomClosed):
		return "room_closed"
	case errors.Is(err, domain.ErrRemoved):
		return "removed"
	case errors.Is(err, domain.ErrNotEmcee):
		return "not_emcee"
	case errors.Is(err, domain.ErrCreatorImmune):
		return "creator_immune"
	case errors.Is(err, domain.ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, domain.ErrNotPresent), errors.Is(err, errNoRoom):
		return "not_present"
	case errors.Is(err, domain.ErrFloorTaken):
		return "floor_taken"
	case errors.Is(err, domain.ErrMuted):
		return "muted"
	case errors.Is(err, domain.ErrMicBusy):
		return "mic_busy"
	case errors.Is(err, errRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrInvalidLang):
		return "invalid_language"
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrTopicTooLong),
		errors.Is(err, domain.ErrEmailInvalid), errors.Is(err, errBadPayload):
		return "bad_request"
	case errors.Is(err, errUnknownType):
		return "unknown_type"
	}
	return "internal"
}
