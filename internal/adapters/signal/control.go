package signal

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/syncroom/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handlePing(cl *client) {
	_ = cl.emit("pong", nil)
}

func (ctl *SignalWSController) handlePress(cl *client) {
	if ctl.Limiter != nil && !ctl.Limiter.Allow(domain.UserID(cl.sid)) {
		log.Debug().Str("module", "signal").Str("sid", string(cl.sid)).Msg("press rate limited")
		cl.sendError("press", errRateLimited)
		return
	}
	if err := ctl.Orch.Press(cl.sid); err != nil {
		cl.sendError("press", err)
	}
}

func (ctl *SignalWSController) handleStop(cl *client) {
	if err := ctl.Orch.Stop(cl.sid); err != nil {
		cl.sendError("stop", err)
	}
}

func (ctl *SignalWSController) handleCaptureResult(cl *client, typ string, data []byte) {
	var p struct {
		CaptureID string `json:"captureId"`
		Text      string `json:"text"`
		Reason    string `json:"reason"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad capture payload")
		cl.sendError(typ, errBadPayload)
		return
	}

	delivered := cl.capture.deliver(p.CaptureID, func(cb domain.RecognitionCallbacks) {
		switch typ {
		case "recognized":
			cb.OnRecognized(p.Text)
		case "no_match":
			cb.OnNoMatch()
		case "canceled":
			cb.OnCanceled(p.Reason)
		case "session_stopped":
			cb.OnSessionStopped()
		}
	})
	if !delivered {
		log.Debug().Str("module", "signal").Str("sid", string(cl.sid)).Str("type", typ).Str("capture", p.CaptureID).Msg("stale capture result")
	}
}

func (ctl *SignalWSController) handlePlayAck(cl *client, typ string, data []byte) {
	var p struct {
		MessageID domain.MessageID `json:"messageId"`
		Error     string           `json:"error"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad play ack payload")
		cl.sendError(typ, errBadPayload)
		return
	}
	var err error
	if typ == "play_error" {
		err = fmt.Errorf("%w: %s", ErrPlayFailed, p.Error)
	}
	if !cl.player.ack(p.MessageID, err) {
		log.Debug().Str("module", "signal").Str("sid", string(cl.sid)).Str("msg", string(p.MessageID)).Msg("ack for unknown clip")
	}
}
