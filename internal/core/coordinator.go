package core

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/dkeye/syncroom/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Observer receives the view state of one session. Calls may come from the
// coordinator loop and from the playback loop concurrently.
type Observer interface {
	PlaybackSink
	OnRoom(*domain.Room)
	OnRoster(RosterView)
	OnMic(state MicState, reason error)
	OnClosed(reason error)
}

type SessionConfig struct {
	RoomID   domain.RoomID
	User     domain.User
	Language string

	Cooldown       time.Duration
	Heartbeat      time.Duration
	ReleaseTimeout time.Duration
}

func (c *SessionConfig) withDefaults() {
	if c.Cooldown <= 0 {
		c.Cooldown = time.Second
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 15 * time.Second
	}
	if c.ReleaseTimeout <= 0 {
		c.ReleaseTimeout = 3 * time.Second
	}
}

// Coordinator runs one client's session. Store notifications, user input
// and capture callbacks all funnel into a single loop, so every mutation of
// the session state happens on one goroutine.
type Coordinator struct {
	cfg      SessionConfig
	store    domain.RoomStore
	capture  domain.SpeechCapture
	playback *Playback
	view     Observer
	log      zerolog.Logger

	events chan Event
	done   chan struct{}
	state  atomic.Int32

	floor        Floor
	room         *domain.Room
	participants []domain.Participant
	joinedAt     time.Time
	selfSeen     bool
	seen         map[domain.MessageID]bool

	captureSess domain.CaptureSession
	captureGen  uint64
	cooldown    *time.Timer
}

func NewCoordinator(
	cfg SessionConfig,
	store domain.RoomStore,
	capture domain.SpeechCapture,
	playback *Playback,
	view Observer,
) *Coordinator {
	cfg.withDefaults()
	return &Coordinator{
		cfg:      cfg,
		store:    store,
		capture:  capture,
		playback: playback,
		view:     view,
		log: log.With().
			Str("module", "core.session").
			Str("room", string(cfg.RoomID)).
			Str("uid", string(cfg.User.ID)).
			Logger(),
		events: make(chan Event, 64),
		done:   make(chan struct{}),
		seen:   make(map[domain.MessageID]bool),
	}
}

// Press asks for the floor. Non-blocking once the session has ended.
func (c *Coordinator) Press() { c.post(Event{Kind: EvPress}) }

// Stop ends the current utterance.
func (c *Coordinator) Stop() { c.post(Event{Kind: EvStop}) }

func (c *Coordinator) MicState() MicState { return MicState(c.state.Load()) }

func (c *Coordinator) Done() <-chan struct{} { return c.done }

func (c *Coordinator) post(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// Run blocks until ctx is canceled, the room closes or the local user is
// removed. The participant document must exist before Run is called.
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.done)

	self, err := c.store.GetParticipant(ctx, c.cfg.RoomID, c.cfg.User.ID)
	if err != nil {
		return fmt.Errorf("session start: %w", err)
	}
	c.joinedAt = self.JoinedAt
	c.floor = Floor{Self: c.cfg.User.ID, Muted: self.IsMuted}

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	roomCh, err := c.store.WatchRoom(wctx, c.cfg.RoomID)
	if err != nil {
		return fmt.Errorf("watch room: %w", err)
	}
	partCh, err := c.store.WatchParticipants(wctx, c.cfg.RoomID)
	if err != nil {
		return fmt.Errorf("watch participants: %w", err)
	}
	msgCh, err := c.store.WatchMessages(wctx, c.cfg.RoomID, c.joinedAt)
	if err != nil {
		return fmt.Errorf("watch messages: %w", err)
	}
	c.playback.Start(wctx)

	heartbeat := time.NewTicker(c.cfg.Heartbeat)
	defer heartbeat.Stop()
	defer c.teardown()

	c.log.Info().Time("joined_at", c.joinedAt).Msg("session started")
	c.view.OnMic(c.floor.State, nil)
	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("session ended")
			return nil
		case room, ok := <-roomCh:
			if !ok {
				return feedEnded(ctx, "room")
			}
			if err := c.onRoom(wctx, room); err != nil {
				return err
			}
		case ps, ok := <-partCh:
			if !ok {
				return feedEnded(ctx, "participants")
			}
			if err := c.onParticipants(wctx, ps); err != nil {
				return err
			}
		case batch, ok := <-msgCh:
			if !ok {
				return feedEnded(ctx, "messages")
			}
			c.onMessages(batch)
		case ev := <-c.events:
			c.dispatch(wctx, ev)
		case <-heartbeat.C:
			if err := c.store.TouchParticipant(wctx, c.cfg.RoomID, c.cfg.User.ID); err != nil {
				c.log.Warn().Err(err).Msg("heartbeat failed")
			}
		}
	}
}

func feedEnded(ctx context.Context, what string) error {
	if ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("%s feed ended", what)
}

func (c *Coordinator) onRoom(ctx context.Context, room *domain.Room) error {
	if !room.IsOpen() {
		c.room = room
		c.view.OnRoom(room)
		c.view.OnClosed(domain.ErrRoomClosed)
		return domain.ErrRoomClosed
	}
	if room.IsBlocked(c.cfg.User.ID, c.cfg.User.Email) {
		c.view.OnClosed(domain.ErrRemoved)
		return domain.ErrRemoved
	}

	holder := room.ActiveSpeakerUID
	if c.floor.State == MicListening && holder != "" && holder != c.cfg.User.ID {
		// A snapshot older than our own acquire must not cancel the capture.
		if fresh, err := c.store.GetRoom(ctx, c.cfg.RoomID); err == nil {
			holder = fresh.ActiveSpeakerUID
		}
	}

	c.room = room
	if emcee := room.IsEmcee(c.cfg.User.ID, c.cfg.User.Email); emcee != c.floor.Emcee {
		c.dispatch(ctx, Event{Kind: EvEmceeChanged, Flag: emcee})
	}
	if holder != c.floor.Holder || (holder == c.cfg.User.ID && c.floor.State == MicIdle) {
		c.dispatch(ctx, Event{Kind: EvFloorChanged, Holder: holder})
	}
	c.view.OnRoom(room)
	c.view.OnRoster(ReconcileRoster(c.room, c.participants, c.cfg.User.ID))
	return nil
}

func (c *Coordinator) onParticipants(ctx context.Context, ps []domain.Participant) error {
	c.participants = ps
	i := slices.IndexFunc(ps, func(p domain.Participant) bool { return p.UID == c.cfg.User.ID })
	if i < 0 {
		if c.selfSeen {
			c.log.Info().Msg("participant document gone")
			c.view.OnClosed(domain.ErrRemoved)
			return domain.ErrRemoved
		}
	} else {
		c.selfSeen = true
		if muted := ps[i].IsMuted; muted != c.floor.Muted {
			c.dispatch(ctx, Event{Kind: EvMuteChanged, Flag: muted})
		}
	}
	if c.room != nil {
		c.view.OnRoster(ReconcileRoster(c.room, ps, c.cfg.User.ID))
	}
	return nil
}

func (c *Coordinator) onMessages(batch []domain.RoomMessage) {
	batch = slices.Clone(batch)
	slices.SortFunc(batch, func(a, b domain.RoomMessage) int {
		if messageLess(a, b) {
			return -1
		}
		if messageLess(b, a) {
			return 1
		}
		return 0
	})
	for _, m := range batch {
		if c.seen[m.ID] || !m.CreatedAt.After(c.joinedAt) {
			continue
		}
		c.seen[m.ID] = true
		if m.SpeakerUID == c.cfg.User.ID {
			c.view.OnMessage(DisplayedMessage{RoomMessage: m, Own: true})
			continue
		}
		c.playback.Enqueue(m)
	}
}

// dispatch applies ev and runs the resulting effects; effects that
// produce follow-up events are resolved before dispatch returns.
func (c *Coordinator) dispatch(ctx context.Context, ev Event) {
	pending := []Event{ev}
	for len(pending) > 0 {
		ev := pending[0]
		pending = pending[1:]

		if ev.fromCapture() && ev.gen != c.captureGen {
			continue
		}
		prev := c.floor.State
		t := c.floor.Apply(ev)
		c.floor = t.Next

		for _, eff := range t.Effects {
			if next, ok := c.execute(ctx, eff); ok {
				pending = append(pending, next)
			}
		}
		c.state.Store(int32(c.floor.State))
		if t.Rejected != nil || c.floor.State != prev {
			c.view.OnMic(c.floor.State, t.Rejected)
		}
	}
}

func (c *Coordinator) execute(ctx context.Context, eff Effect) (Event, bool) {
	switch eff.Kind {
	case EffAcquireFloor:
		err := c.store.AcquireFloor(ctx, c.cfg.RoomID, c.cfg.User.ID, eff.Force)
		if err == nil {
			return Event{Kind: EvAcquired}, true
		}
		holder := c.floor.Holder
		if errors.Is(err, domain.ErrFloorTaken) {
			if r, gerr := c.store.GetRoom(ctx, c.cfg.RoomID); gerr == nil {
				holder = r.ActiveSpeakerUID
			}
		} else {
			c.storeFailed("acquire floor", err)
		}
		return Event{Kind: EvAcquireDenied, Holder: holder}, true

	case EffStartCapture:
		c.captureGen++
		gen := c.captureGen
		sess, err := c.capture.StartContinuousRecognition(ctx, c.cfg.Language, domain.RecognitionCallbacks{
			OnRecognized:     func(text string) { c.post(Event{Kind: EvRecognized, Text: text, gen: gen}) },
			OnNoMatch:        func() { c.post(Event{Kind: EvNoMatch, gen: gen}) },
			OnCanceled:       func(string) { c.post(Event{Kind: EvCanceled, gen: gen}) },
			OnSessionStopped: func() { c.post(Event{Kind: EvSessionStopped, gen: gen}) },
		})
		if err != nil {
			c.log.Warn().Err(err).Msg("capture start failed")
			c.view.OnNotice(Notice{Code: NoticeCaptureFailed, Message: "microphone unavailable"})
			return Event{Kind: EvCanceled, gen: gen}, true
		}
		c.captureSess = sess

	case EffStopCapture:
		c.stopCapture()

	case EffAppendMessage:
		msg := &domain.RoomMessage{
			Text:            eff.Text,
			SpeakerUID:      c.cfg.User.ID,
			SpeakerName:     c.cfg.User.Username,
			SpeakerLanguage: c.cfg.Language,
		}
		if err := c.store.AppendMessage(ctx, c.cfg.RoomID, msg); err != nil {
			c.storeFailed("append message", err)
			return Event{Kind: EvAppendFailed}, true
		}
		c.log.Debug().Str("msg", string(msg.ID)).Msg("message appended")
		return Event{Kind: EvAppended}, true

	case EffReleaseFloor:
		if err := c.store.ReleaseFloor(ctx, c.cfg.RoomID, c.cfg.User.ID); err != nil {
			c.storeFailed("release floor", err)
		}

	case EffStartCooldown:
		if c.cooldown != nil {
			c.cooldown.Stop()
		}
		c.cooldown = time.AfterFunc(c.cfg.Cooldown, func() {
			c.post(Event{Kind: EvCooldownElapsed})
		})
	}
	return Event{}, false
}

func (c *Coordinator) stopCapture() {
	if c.captureSess == nil {
		return
	}
	if err := c.captureSess.Stop(); err != nil {
		c.log.Debug().Err(err).Msg("capture stop")
	}
	c.captureSess = nil
	c.captureGen++
}

func (c *Coordinator) storeFailed(op string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	c.log.Warn().Err(err).Str("op", op).Msg("store call failed")
	c.view.OnNotice(Notice{Code: NoticeStoreFailed, Message: op + " failed"})
}

// teardown is best-effort: the floor release runs detached with its own
// timeout so it survives the session context.
func (c *Coordinator) teardown() {
	if c.cooldown != nil {
		c.cooldown.Stop()
	}
	c.stopCapture()
	if c.floor.Holder != c.cfg.User.ID && c.floor.State != MicListening && c.floor.State != MicProcessing {
		return
	}
	go func(store domain.RoomStore, id domain.RoomID, uid domain.UserID, timeout time.Duration) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := store.ReleaseFloor(ctx, id, uid); err != nil {
			log.Debug().Err(err).Str("module", "core.session").Msg("teardown release failed")
		}
	}(c.store, c.cfg.RoomID, c.cfg.User.ID, c.cfg.ReleaseTimeout)
}
