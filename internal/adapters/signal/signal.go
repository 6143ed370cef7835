// Package signal carries the browser side of a room session over a
// WebSocket: view updates out, button presses and recognizer results in.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/syncroom/internal/app/orch"
	"github.com/dkeye/syncroom/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

type Option func(*SignalWSController)

// WithPressLimiter throttles press frames per user.
func WithPressLimiter(rl *RoomRateLimiter) Option {
	return func(ctl *SignalWSController) {
		ctl.Limiter = rl
	}
}

func WithPlayTimeout(d time.Duration) Option {
	return func(ctl *SignalWSController) {
		if d > 0 {
			ctl.PlayTimeout = d
		}
	}
}

func WithReadLimit(n int64) Option {
	return func(ctl *SignalWSController) {
		if n > 0 {
			ctl.ReadLimit = n
		}
	}
}

func WithPingPeriod(d time.Duration) Option {
	return func(ctl *SignalWSController) {
		if d > 0 {
			ctl.PingPeriod = d
		}
	}
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Limiter *RoomRateLimiter

	PlayTimeout time.Duration
	ReadLimit   int64
	PingPeriod  time.Duration
}

func NewSignalWSController(o *orch.Orchestrator, opts ...Option) *SignalWSController {
	ctl := &SignalWSController{
		Orch:        o,
		PlayTimeout: time.Minute,
		ReadLimit:   1 << 16,
		PingPeriod:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(ctl)
	}
	return ctl
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

var _ core.SignalConnection = (*WsSignalConn)(nil)

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(c.GetString("client_token"))
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.ReadLimit)

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, 64),
	}
	cl := newClient(ctl, sid, conn)

	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Registry.BindSignal(sid, conn, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, cl)
}
