package app

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/dkeye/syncroom/internal/adapters/store/memory"
	"github.com/dkeye/syncroom/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

var (
	alice = domain.User{ID: "A", Username: "Alice", Email: "alice@x.io"}
	bob   = domain.User{ID: "B", Username: "Bob", Email: "bob@x.io"}
	carol = domain.User{ID: "C", Username: "Carol", Email: "carol@x.io"}
	dave  = domain.User{ID: "D", Username: "Dave", Email: "dave@x.io"}
)

func setup(t *testing.T, opts ...ManagerOption) (*RoomManager, *memory.Store, domain.RoomID) {
	t.Helper()
	store := memory.New()
	opts = append(opts, WithIDGenerator(func() string { return "room-1" }))
	m := NewRoomManager(store, opts...)
	room, err := m.CreateRoom(context.Background(), alice, "Kyoto day 2", []string{"Bob@X.io", "carol@x.io"})
	require.NoError(t, err)
	return m, store, room.ID
}

func TestCreateRoom(t *testing.T) {
	m, _, id := setup(t)
	room, err := m.Get(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, domain.RoomOpen, room.Status)
	assert.Equal(t, []string{"alice@x.io", "bob@x.io", "carol@x.io"}, room.InvitedEmails)
	assert.True(t, room.IsEmcee(alice.ID, alice.Email))

	_, err = m.CreateRoom(context.Background(), alice, "  ", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = m.CreateRoom(context.Background(), alice, "ok", []string{"nope"})
	assert.ErrorIs(t, err, domain.ErrEmailInvalid)
}

func TestJoinPreconditions(t *testing.T) {
	m, _, id := setup(t)
	ctx := context.Background()

	p, err := m.Join(ctx, id, bob, "th-TH")
	require.NoError(t, err)
	assert.Equal(t, "th-TH", p.Language)
	assert.False(t, p.JoinedAt.IsZero())

	_, err = m.Join(ctx, id, dave, "en-US")
	assert.ErrorIs(t, err, domain.ErrAccessDenied, "not invited")

	_, err = m.Join(ctx, id, carol, "not a tag!")
	assert.ErrorIs(t, err, domain.ErrInvalidLang)

	_, err = m.Join(ctx, "missing", bob, "en-US")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRejoinResetsJoinedAt(t *testing.T) {
	m, _, id := setup(t)
	ctx := context.Background()

	first, err := m.Join(ctx, id, bob, "en-US")
	require.NoError(t, err)
	second, err := m.Join(ctx, id, bob, "en-US")
	require.NoError(t, err)
	assert.True(t, second.JoinedAt.After(first.JoinedAt))
}

// racingStore runs a moderation command right before the participant write,
// after Join has already read the room.
type racingStore struct {
	*memory.Store
	before func()
}

func (s *racingStore) PutParticipant(ctx context.Context, id domain.RoomID, p *domain.Participant) error {
	if s.before != nil {
		fn := s.before
		s.before = nil
		fn()
	}
	return s.Store.PutParticipant(ctx, id, p)
}

func TestJoinLosesRaceAgainstRemoveAndEnd(t *testing.T) {
	ctx := context.Background()
	rs := &racingStore{Store: memory.New()}
	m := NewRoomManager(rs, WithIDGenerator(func() string { return "room-1" }))
	room, err := m.CreateRoom(ctx, alice, "Kyoto day 2", []string{"bob@x.io", "carol@x.io"})
	require.NoError(t, err)
	id := room.ID

	_, err = m.Join(ctx, id, bob, "en-US")
	require.NoError(t, err)
	rs.before = func() { require.NoError(t, m.Remove(ctx, id, alice, bob.ID)) }
	_, err = m.Join(ctx, id, bob, "en-US")
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
	_, err = rs.GetParticipant(ctx, id, bob.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound, "blocked user must not be present")

	rs.before = func() { require.NoError(t, m.End(ctx, id, alice)) }
	_, err = m.Join(ctx, id, carol, "en-US")
	assert.ErrorIs(t, err, domain.ErrRoomClosed)
	_, err = rs.GetParticipant(ctx, id, carol.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound, "nobody joins a closed room")
}

func TestRejoinKeepsMute(t *testing.T) {
	m, store, id := setup(t)
	ctx := context.Background()
	_, err := m.Join(ctx, id, bob, "en-US")
	require.NoError(t, err)
	require.NoError(t, m.SetMuted(ctx, id, alice, bob.ID, true))

	p, err := m.Join(ctx, id, bob, "th-TH")
	require.NoError(t, err)
	assert.True(t, p.IsMuted)
	got, _ := store.GetParticipant(ctx, id, bob.ID)
	assert.True(t, got.IsMuted)
}

func TestLeaveReleasesFloor(t *testing.T) {
	m, store, id := setup(t)
	ctx := context.Background()
	_, err := m.Join(ctx, id, bob, "en-US")
	require.NoError(t, err)
	require.NoError(t, store.AcquireFloor(ctx, id, bob.ID, false))

	require.NoError(t, m.Leave(ctx, id, bob.ID))

	room, _ := m.Get(ctx, id)
	assert.Empty(t, room.ActiveSpeakerUID)
	_, err = store.GetParticipant(ctx, id, bob.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestModerationRequiresEmcee(t *testing.T) {
	m, _, id := setup(t)
	ctx := context.Background()
	_, err := m.Join(ctx, id, bob, "en-US")
	require.NoError(t, err)
	_, err = m.Join(ctx, id, carol, "en-US")
	require.NoError(t, err)

	assert.ErrorIs(t, m.Invite(ctx, id, bob, []string{"dave@x.io"}), domain.ErrNotEmcee)
	assert.ErrorIs(t, m.SetMuted(ctx, id, bob, carol.ID, true), domain.ErrNotEmcee)
	assert.ErrorIs(t, m.Remove(ctx, id, bob, carol.ID), domain.ErrNotEmcee)
	assert.ErrorIs(t, m.End(ctx, id, bob), domain.ErrNotEmcee)

	require.NoError(t, m.Promote(ctx, id, alice, bob.ID))
	require.NoError(t, m.Invite(ctx, id, bob, []string{"dave@x.io"}))
	_, err = m.Join(ctx, id, dave, "en-US")
	assert.NoError(t, err)

	require.NoError(t, m.Demote(ctx, id, alice, bob.Email))
	assert.ErrorIs(t, m.Invite(ctx, id, bob, []string{"eve@x.io"}), domain.ErrNotEmcee)
}

func TestPromoteRequiresPresence(t *testing.T) {
	m, _, id := setup(t)
	assert.ErrorIs(t, m.Promote(context.Background(), id, alice, carol.ID), domain.ErrNotPresent)
}

func TestCreatorIsImmune(t *testing.T) {
	m, store, id := setup(t)
	ctx := context.Background()
	_, err := m.Join(ctx, id, alice, "en-US")
	require.NoError(t, err)
	_, err = m.Join(ctx, id, bob, "en-US")
	require.NoError(t, err)
	require.NoError(t, m.Promote(ctx, id, alice, bob.ID))

	before, _ := store.GetRoom(ctx, id)
	assert.ErrorIs(t, m.Demote(ctx, id, bob, alice.Email), domain.ErrCreatorImmune)
	assert.ErrorIs(t, m.Remove(ctx, id, bob, alice.ID), domain.ErrCreatorImmune)
	after, _ := store.GetRoom(ctx, id)

	assert.Equal(t, before, after, "no write on rejected commands")
	_, err = store.GetParticipant(ctx, id, alice.ID)
	assert.NoError(t, err)
}

func TestRemoveBlocksAndDeletesTogether(t *testing.T) {
	m, store, id := setup(t)
	ctx := context.Background()
	_, err := m.Join(ctx, id, bob, "en-US")
	require.NoError(t, err)
	require.NoError(t, store.AcquireFloor(ctx, id, bob.ID, false))

	require.NoError(t, m.Remove(ctx, id, alice, bob.ID))

	room, _ := m.Get(ctx, id)
	assert.True(t, room.IsBlocked(bob.ID, bob.Email))
	assert.Empty(t, room.ActiveSpeakerUID)
	_, err = store.GetParticipant(ctx, id, bob.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = m.Join(ctx, id, bob, "en-US")
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
}

func TestSetMuted(t *testing.T) {
	m, store, id := setup(t)
	ctx := context.Background()
	_, err := m.Join(ctx, id, bob, "en-US")
	require.NoError(t, err)

	require.NoError(t, m.SetMuted(ctx, id, alice, bob.ID, true))
	p, _ := store.GetParticipant(ctx, id, bob.ID)
	assert.True(t, p.IsMuted)

	require.NoError(t, m.SetMuted(ctx, id, alice, bob.ID, false))
	p, _ = store.GetParticipant(ctx, id, bob.ID)
	assert.False(t, p.IsMuted)

	assert.ErrorIs(t, m.SetMuted(ctx, id, alice, carol.ID, true), domain.ErrNotPresent)
}

func TestEndClosesRoomAndStoresSummary(t *testing.T) {
	m, store, id := setup(t, WithSummarizer(TranscriptDigest{}))
	ctx := context.Background()
	_, err := m.Join(ctx, id, bob, "en-US")
	require.NoError(t, err)
	require.NoError(t, store.AppendMessage(ctx, id, &domain.RoomMessage{Text: "Meet at the station", SpeakerName: "Bob"}))

	require.NoError(t, m.End(ctx, id, alice))

	room, _ := m.Get(ctx, id)
	assert.Equal(t, domain.RoomClosed, room.Status)
	assert.Contains(t, room.Summary, "Meet at the station")

	_, err = m.Join(ctx, id, carol, "en-US")
	assert.ErrorIs(t, err, domain.ErrRoomClosed)
	assert.ErrorIs(t, m.End(ctx, id, alice), domain.ErrRoomClosed)
	assert.ErrorIs(t, m.Invite(ctx, id, alice, []string{"x@x.io"}), domain.ErrRoomClosed)
}

func TestRoster(t *testing.T) {
	m, _, id := setup(t)
	ctx := context.Background()
	_, err := m.Join(ctx, id, bob, "en-US")
	require.NoError(t, err)

	v, err := m.Roster(ctx, id, bob.ID)
	require.NoError(t, err)
	require.Len(t, v.Present, 1)
	assert.Equal(t, []string{"alice@x.io", "carol@x.io"}, v.Absent)
	require.NotNil(t, v.Self)
}

func TestReaperSweepsStaleParticipants(t *testing.T) {
	m, store, id := setup(t)
	ctx := context.Background()
	_, err := m.Join(ctx, id, bob, "en-US")
	require.NoError(t, err)
	require.NoError(t, store.AcquireFloor(ctx, id, bob.ID, false))

	r := NewReaper(store, time.Minute, time.Second)
	n, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	r.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	n, err = r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	room, _ := m.Get(ctx, id)
	assert.Empty(t, room.ActiveSpeakerUID)
	_, err = store.GetParticipant(ctx, id, bob.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
