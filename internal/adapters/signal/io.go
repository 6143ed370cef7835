package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ping := time.NewTicker(ctl.PingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			c.Close()
			return
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				c.Close()
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Info().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				c.Close()
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, cl *client) {
	c := cl.conn
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(cl.sid)).Msg("readPump closing")
		c.Close()
		cancel()
		ctl.Orch.OnDisconnect(cl.sid, c, cl)
	}()

	readWait := 2 * ctl.PingPeriod
	_ = c.conn.SetReadDeadline(time.Now().Add(readWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(cl.sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "signal").Str("sid", string(cl.sid)).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(readWait))
			ctl.handleSignal(ctx, cl, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, cl *client, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		cl.sendError("", errBadPayload)
		return
	}

	switch env.Type {
	case "join":
		ctl.handleJoin(ctx, cl, data)
	case "leave":
		ctl.handleLeave(ctx, cl)
	case "press":
		ctl.handlePress(cl)
	case "stop":
		ctl.handleStop(cl)
	case "recognized", "no_match", "canceled", "session_stopped":
		ctl.handleCaptureResult(cl, env.Type, data)
	case "played", "play_error":
		ctl.handlePlayAck(cl, env.Type, data)
	case "ping":
		ctl.handlePing(cl)
	case "whoami":
		ctl.handleWhoAmI(cl)
	case "invite", "promote", "demote", "mute", "unmute", "remove", "end":
		ctl.handleModeration(ctx, cl, env.Type, data)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		cl.sendError(env.Type, errUnknownType)
	}
}
