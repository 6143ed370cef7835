package core

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/syncroom/internal/adapters/store/memory"
	"github.com/dkeye/syncroom/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wait = 2 * time.Second
const tick = 5 * time.Millisecond

type session struct {
	coord   *Coordinator
	capture *fakeCapture
	player  *fakePlayer
	view    *recorder
	cancel  context.CancelFunc
	errCh   chan error
}

func newRoom(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.New()
	require.NoError(t, s.CreateRoom(context.Background(), &domain.Room{
		ID:            "r1",
		Topic:         "Day 3 itinerary",
		CreatorUID:    "A",
		CreatorEmail:  "a@x.io",
		InvitedEmails: []string{"a@x.io", "b@x.io", "c@x.io"},
	}))
	return s
}

func join(t *testing.T, store *memory.Store, uid domain.UserID, email, lang string) *session {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, store.PutParticipant(ctx, "r1", &domain.Participant{
		UID: uid, Name: string(uid), Email: email, Language: lang,
	}))

	s := &session{
		capture: &fakeCapture{},
		player:  &fakePlayer{},
		view:    &recorder{},
		cancel:  cancel,
		errCh:   make(chan error, 1),
	}
	pb := NewPlayback(lang, fakeTranslator{}, fakeSynth{}, s.player, s.view)
	s.coord = NewCoordinator(SessionConfig{
		RoomID:   "r1",
		User:     domain.User{ID: uid, Username: string(uid), Email: email},
		Language: lang,
		Cooldown: 20 * time.Millisecond,
	}, store, s.capture, pb, s.view)

	go func() { s.errCh <- s.coord.Run(ctx) }()
	t.Cleanup(cancel)
	return s
}

func (s *session) waitState(t *testing.T, want MicState) {
	t.Helper()
	require.Eventually(t, func() bool { return s.coord.MicState() == want }, wait, tick,
		"want %s, have %s", want, s.coord.MicState())
}

func (s *session) exitErr(t *testing.T) error {
	t.Helper()
	select {
	case err := <-s.errCh:
		return err
	case <-time.After(wait):
		t.Fatal("session did not exit")
	}
	return nil
}

func speakerOf(t *testing.T, store *memory.Store) domain.UserID {
	t.Helper()
	r, err := store.GetRoom(context.Background(), "r1")
	require.NoError(t, err)
	return r.ActiveSpeakerUID
}

func TestTurnIsTranslatedForListener(t *testing.T) {
	store := newRoom(t)
	a := join(t, store, "A", "a@x.io", "en-US")
	b := join(t, store, "B", "b@x.io", "th-TH")

	a.coord.Press()
	a.waitState(t, MicListening)
	b.waitState(t, MicLocked)
	assert.Equal(t, domain.UserID("A"), speakerOf(t, store))

	require.True(t, a.capture.recognize("Hello everyone"))

	require.Eventually(t, func() bool { return len(b.player.texts()) == 1 }, wait, tick)
	assert.Equal(t, "[th] Hello everyone", b.player.texts()[0])

	a.waitState(t, MicIdle)
	b.waitState(t, MicIdle)
	assert.Empty(t, speakerOf(t, store))
	assert.Empty(t, a.player.texts(), "own messages are not played back")
	assert.Equal(t, []string{"Hello everyone"}, a.view.messageTexts())

	msgs, err := store.ListMessages(context.Background(), "r1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "th-TH", b.player.played[0].Language)
	assert.Equal(t, "en-US", msgs[0].SpeakerLanguage)
}

func TestSimultaneousPressOneWins(t *testing.T) {
	store := newRoom(t)
	b := join(t, store, "B", "b@x.io", "en-US")
	c := join(t, store, "C", "c@x.io", "en-US")

	b.coord.Press()
	c.coord.Press()

	require.Eventually(t, func() bool {
		sb, sc := b.coord.MicState(), c.coord.MicState()
		return (sb == MicListening && sc == MicLocked) || (sb == MicLocked && sc == MicListening)
	}, wait, tick)

	holder := speakerOf(t, store)
	if holder == "B" {
		assert.Equal(t, MicListening, b.coord.MicState())
		assert.Contains(t, c.view.rejections(), domain.ErrFloorTaken)
	} else {
		assert.Equal(t, domain.UserID("C"), holder)
		assert.Contains(t, b.view.rejections(), domain.ErrFloorTaken)
	}
}

func TestLateJoinerHearsNoHistory(t *testing.T) {
	store := newRoom(t)
	a := join(t, store, "A", "a@x.io", "en-US")

	a.coord.Press()
	a.waitState(t, MicListening)
	require.True(t, a.capture.recognize("before you came"))
	a.waitState(t, MicIdle)

	c := join(t, store, "C", "c@x.io", "en-US")
	c.waitState(t, MicIdle)

	a.coord.Press()
	a.waitState(t, MicListening)
	require.True(t, a.capture.recognize("welcome"))

	require.Eventually(t, func() bool { return len(c.player.texts()) == 1 }, wait, tick)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"welcome"}, c.player.texts())
}

func TestNoMatchReleasesFloor(t *testing.T) {
	store := newRoom(t)
	a := join(t, store, "A", "a@x.io", "en-US")

	a.coord.Press()
	a.waitState(t, MicListening)
	a.capture.callbacks().OnNoMatch()

	a.waitState(t, MicIdle)
	assert.Empty(t, speakerOf(t, store))
	msgs, _ := store.ListMessages(context.Background(), "r1", 0)
	assert.Empty(t, msgs)
}

func TestMuteWhileListeningAborts(t *testing.T) {
	store := newRoom(t)
	b := join(t, store, "B", "b@x.io", "en-US")

	b.coord.Press()
	b.waitState(t, MicListening)

	muted := true
	require.NoError(t, store.Commit(context.Background(), "r1", domain.Batch{
		Patches: map[domain.UserID]domain.ParticipantPatch{"B": {IsMuted: &muted}},
	}))

	b.waitState(t, MicIdle)
	assert.Empty(t, speakerOf(t, store))

	b.coord.Press()
	require.Eventually(t, func() bool {
		for _, err := range b.view.rejections() {
			if err == domain.ErrMuted {
				return true
			}
		}
		return false
	}, wait, tick)
}

func TestEmceeOverrideCancelsHolder(t *testing.T) {
	store := newRoom(t)
	a := join(t, store, "A", "a@x.io", "en-US")
	b := join(t, store, "B", "b@x.io", "en-US")

	b.coord.Press()
	b.waitState(t, MicListening)
	a.waitState(t, MicLocked)

	a.coord.Press()
	a.waitState(t, MicListening)
	b.waitState(t, MicLocked)
	assert.Equal(t, domain.UserID("A"), speakerOf(t, store))
	assert.Nil(t, b.capture.callbacks(), "overridden capture is stopped")
}

func TestRemovalEndsSession(t *testing.T) {
	store := newRoom(t)
	join(t, store, "A", "a@x.io", "en-US")
	b := join(t, store, "B", "b@x.io", "en-US")
	b.waitState(t, MicIdle)
	require.Eventually(t, func() bool { return len(b.view.snapshotRoster().Present) == 2 }, wait, tick)

	require.NoError(t, store.Commit(context.Background(), "r1", domain.Batch{
		AddBlocked:         []domain.BlockedUser{{UID: "B", Email: "b@x.io"}},
		DeleteParticipants: []domain.UserID{"B"},
	}))

	assert.ErrorIs(t, b.exitErr(t), domain.ErrRemoved)
	assert.ErrorIs(t, b.view.closedReason(), domain.ErrRemoved)
}

func TestClosedRoomEndsSession(t *testing.T) {
	store := newRoom(t)
	a := join(t, store, "A", "a@x.io", "en-US")
	a.waitState(t, MicIdle)

	require.NoError(t, store.Commit(context.Background(), "r1", domain.Batch{SetStatus: domain.RoomClosed}))

	assert.ErrorIs(t, a.exitErr(t), domain.ErrRoomClosed)
}

func TestRosterTracksJoinAndLeave(t *testing.T) {
	store := newRoom(t)
	a := join(t, store, "A", "a@x.io", "en-US")
	require.Eventually(t, func() bool {
		v := a.view.snapshotRoster()
		return len(v.Present) == 1 && len(v.Absent) == 2
	}, wait, tick)

	b := join(t, store, "B", "b@x.io", "en-US")
	require.Eventually(t, func() bool {
		v := a.view.snapshotRoster()
		return len(v.Present) == 2 && len(v.Absent) == 1
	}, wait, tick)

	b.cancel()
	require.NoError(t, store.Commit(context.Background(), "r1", domain.Batch{DeleteParticipants: []domain.UserID{"B"}}))
	require.Eventually(t, func() bool {
		v := a.view.snapshotRoster()
		return len(v.Present) == 1 && assert.ObjectsAreEqual([]string{"b@x.io", "c@x.io"}, v.Absent)
	}, wait, tick)
}

func TestRunRequiresJoin(t *testing.T) {
	store := newRoom(t)
	c := NewCoordinator(SessionConfig{RoomID: "r1", User: domain.User{ID: "ghost"}},
		store, &fakeCapture{}, NewPlayback("en-US", fakeTranslator{}, fakeSynth{}, &fakePlayer{}, &recorder{}), &recorder{})
	err := c.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
