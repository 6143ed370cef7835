package orch

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/syncroom/internal/adapters/store/memory"
	"github.com/dkeye/syncroom/internal/app"
	"github.com/dkeye/syncroom/internal/core"
	"github.com/dkeye/syncroom/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

type nopCapture struct{}

func (nopCapture) Stop() error { return nil }

type endpoint struct {
	mu     sync.Mutex
	closed error
	states []core.MicState
}

func (e *endpoint) OnMessage(core.DisplayedMessage) {}
func (e *endpoint) OnNotice(core.Notice)            {}
func (e *endpoint) OnRoom(*domain.Room)             {}
func (e *endpoint) OnRoster(core.RosterView)        {}
func (e *endpoint) OnMic(s core.MicState, _ error) {
	e.mu.Lock()
	e.states = append(e.states, s)
	e.mu.Unlock()
}
func (e *endpoint) OnClosed(reason error) {
	e.mu.Lock()
	e.closed = reason
	e.mu.Unlock()
}
func (e *endpoint) Capture() domain.SpeechCapture { return e }
func (e *endpoint) Player() domain.AudioPlayer    { return e }

func (e *endpoint) StartContinuousRecognition(context.Context, string, domain.RecognitionCallbacks) (domain.CaptureSession, error) {
	return nopCapture{}, nil
}

func (e *endpoint) Play(context.Context, domain.Clip) error { return nil }

func (e *endpoint) closedReason() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

type passthrough struct{}

func (passthrough) Translate(_ context.Context, text, _, _ string) (string, error) { return text, nil }

type silent struct{}

func (silent) Synthesize(_ context.Context, text, lang string) (domain.Clip, error) {
	return domain.Clip{Text: text, Language: lang}, nil
}

func newOrch(t *testing.T) (*Orchestrator, *memory.Store) {
	t.Helper()
	store := memory.New()
	rooms := app.NewRoomManager(store, app.WithIDGenerator(func() string { return "r1" }))
	_, err := rooms.CreateRoom(context.Background(),
		domain.User{ID: "owner", Username: "Owner", Email: "owner@x.io"}, "Lisbon", []string{"mai@x.io"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	o := New(ctx, Deps{
		Registry:    app.NewRegistry(),
		Rooms:       rooms,
		Store:       store,
		Translator:  passthrough{},
		Synthesizer: silent{},
		Session:     SessionSettings{Cooldown: 10 * time.Millisecond},
	})
	return o, store
}

func speaker(t *testing.T, store *memory.Store) domain.UserID {
	room, err := store.GetRoom(context.Background(), "r1")
	require.NoError(t, err)
	return room.ActiveSpeakerUID
}

func TestJoinRequiresIdentity(t *testing.T) {
	o, _ := newOrch(t)
	_, err := o.Join(context.Background(), "mai", "r1", "en-US", &endpoint{})
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
}

func TestJoinPressLeave(t *testing.T) {
	o, store := newOrch(t)
	ctx := context.Background()
	_, err := o.Registry.SetIdentity("mai", "Mai", "mai@x.io")
	require.NoError(t, err)

	p, err := o.Join(ctx, "mai", "r1", "pt-PT", &endpoint{})
	require.NoError(t, err)
	assert.Equal(t, "pt-PT", p.Language)

	require.NoError(t, o.Press("mai"))
	require.Eventually(t, func() bool { return speaker(t, store) == "mai" }, time.Second, 5*time.Millisecond)

	require.NoError(t, o.Leave(ctx, "mai"))
	assert.Empty(t, speaker(t, store))
	_, err = store.GetParticipant(ctx, "r1", "mai")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, _, ok := o.Registry.RoomOf("mai")
	assert.False(t, ok)
	assert.ErrorIs(t, o.Press("mai"), domain.ErrNotPresent)
}

func TestStaleDisconnectKeepsSession(t *testing.T) {
	o, store := newOrch(t)
	ctx := context.Background()
	_, err := o.Registry.SetIdentity("mai", "Mai", "mai@x.io")
	require.NoError(t, err)

	old, cur := &endpoint{}, &endpoint{}
	_, err = o.Join(ctx, "mai", "r1", "en-US", old)
	require.NoError(t, err)
	_, err = o.Join(ctx, "mai", "r1", "en-US", cur)
	require.NoError(t, err)

	o.OnDisconnect("mai", nil, old)
	_, err = store.GetParticipant(ctx, "r1", "mai")
	assert.NoError(t, err)

	o.OnDisconnect("mai", nil, cur)
	_, err = store.GetParticipant(ctx, "r1", "mai")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRoomEndCleansUpSession(t *testing.T) {
	o, store := newOrch(t)
	ctx := context.Background()
	_, err := o.Registry.SetIdentity("mai", "Mai", "mai@x.io")
	require.NoError(t, err)
	ep := &endpoint{}
	_, err = o.Join(ctx, "mai", "r1", "en-US", ep)
	require.NoError(t, err)

	require.NoError(t, o.Rooms.End(ctx, "r1", domain.User{ID: "owner", Email: "owner@x.io"}))

	require.Eventually(t, func() bool {
		_, err := store.GetParticipant(ctx, "r1", "mai")
		return err != nil
	}, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, ep.closedReason(), domain.ErrRoomClosed)
	require.Eventually(t, func() bool {
		_, _, ok := o.Registry.RoomOf("mai")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestBlockedSessionDeletesItsParticipant(t *testing.T) {
	o, store := newOrch(t)
	ctx := context.Background()
	_, err := o.Registry.SetIdentity("mai", "Mai", "mai@x.io")
	require.NoError(t, err)
	ep := &endpoint{}
	_, err = o.Join(ctx, "mai", "r1", "en-US", ep)
	require.NoError(t, err)

	require.NoError(t, store.Commit(ctx, "r1", domain.Batch{
		AddBlocked: []domain.BlockedUser{{UID: "mai", Email: "mai@x.io"}},
	}))

	require.Eventually(t, func() bool {
		_, err := store.GetParticipant(ctx, "r1", "mai")
		return err != nil
	}, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, ep.closedReason(), domain.ErrRemoved)
}
