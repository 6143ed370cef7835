// Package memory is an in-process RoomStore with change feeds. It backs
// dev mode and the coordinator and lifecycle tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/syncroom/internal/domain"
	"github.com/rs/zerolog/log"
)

var _ domain.RoomStore = (*Store)(nil)

type Option func(*Store)

// WithClock replaces the server clock. Stamps stay strictly increasing.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

type msgSub struct {
	feed  *batchFeed[domain.RoomMessage]
	after time.Time
}

type roomState struct {
	room         *domain.Room
	participants map[domain.UserID]*domain.Participant
	messages     []domain.RoomMessage

	roomSubs map[*snapshotFeed[*domain.Room]]struct{}
	partSubs map[*snapshotFeed[[]domain.Participant]]struct{}
	msgSubs  map[*msgSub]struct{}
}

type Store struct {
	mu    sync.Mutex
	rooms map[domain.RoomID]*roomState
	now   func() time.Time
	last  time.Time
	seq   uint64
}

func New(opts ...Option) *Store {
	s := &Store{
		rooms: make(map[domain.RoomID]*roomState),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// stamp returns a server timestamp; must be called with s.mu held.
func (s *Store) stamp() time.Time {
	t := s.now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

func (s *Store) state(id domain.RoomID) (*roomState, error) {
	st, ok := s.rooms[id]
	if !ok {
		return nil, fmt.Errorf("room %s: %w", id, domain.ErrNotFound)
	}
	return st, nil
}

func (s *Store) CreateRoom(_ context.Context, room *domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room.ID]; ok {
		return fmt.Errorf("room %s already exists: %w", room.ID, domain.ErrInvalidInput)
	}
	room.CreatedAt = s.stamp()
	if room.Status == "" {
		room.Status = domain.RoomOpen
	}
	s.rooms[room.ID] = &roomState{
		room:         room.Clone(),
		participants: make(map[domain.UserID]*domain.Participant),
		roomSubs:     make(map[*snapshotFeed[*domain.Room]]struct{}),
		partSubs:     make(map[*snapshotFeed[[]domain.Participant]]struct{}),
		msgSubs:      make(map[*msgSub]struct{}),
	}
	log.Debug().Str("module", "store.memory").Str("room", string(room.ID)).Msg("room created")
	return nil
}

func (s *Store) GetRoom(_ context.Context, id domain.RoomID) (*domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.state(id)
	if err != nil {
		return nil, err
	}
	return st.room.Clone(), nil
}

func (s *Store) Commit(_ context.Context, id domain.RoomID, b domain.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.state(id)
	if err != nil {
		return err
	}
	if b.RequireOpen && !st.room.IsOpen() {
		return fmt.Errorf("room %s: %w", id, domain.ErrRoomClosed)
	}
	for uid := range b.Patches {
		if _, ok := st.participants[uid]; !ok {
			return fmt.Errorf("participant %s: %w", uid, domain.ErrNotPresent)
		}
	}

	r := st.room
	r.InvitedEmails = unionEmails(r.InvitedEmails, b.AddInvited)
	r.EmceeEmails = unionEmails(r.EmceeEmails, b.AddEmcees)
	if len(b.RemoveEmcees) > 0 {
		r.EmceeEmails = slices.DeleteFunc(r.EmceeEmails, func(e string) bool {
			return slices.Contains(normalizeAll(b.RemoveEmcees), e)
		})
	}
	for _, bu := range b.AddBlocked {
		bu.Email = domain.NormalizeEmail(bu.Email)
		if !slices.ContainsFunc(r.BlockedUsers, func(x domain.BlockedUser) bool { return x.UID == bu.UID }) {
			r.BlockedUsers = append(r.BlockedUsers, bu)
		}
	}
	if b.SetStatus != "" && b.SetStatus != r.Status {
		r.Status = b.SetStatus
		if b.SetStatus == domain.RoomClosed {
			r.ClosedAt = s.stamp()
		}
	}
	if b.SetSummary != nil {
		r.Summary = *b.SetSummary
	}
	if b.ClearFloor || (b.ReleaseFloorOf != "" && r.ActiveSpeakerUID == b.ReleaseFloorOf) {
		r.ActiveSpeakerUID = ""
	}

	for uid, p := range b.Patches {
		if p.IsMuted != nil {
			st.participants[uid].IsMuted = *p.IsMuted
		}
	}
	for _, uid := range b.DeleteParticipants {
		delete(st.participants, uid)
	}

	s.publishRoomLocked(st)
	if len(b.Patches) > 0 || len(b.DeleteParticipants) > 0 {
		s.publishParticipantsLocked(st)
	}
	return nil
}

func (s *Store) AcquireFloor(_ context.Context, id domain.RoomID, uid domain.UserID, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.state(id)
	if err != nil {
		return err
	}
	if !st.room.IsOpen() {
		return fmt.Errorf("room %s: %w", id, domain.ErrRoomClosed)
	}
	if _, ok := st.participants[uid]; !ok {
		return fmt.Errorf("participant %s: %w", uid, domain.ErrNotPresent)
	}
	holder := st.room.ActiveSpeakerUID
	if holder != "" && holder != uid && !force {
		return fmt.Errorf("held by %s: %w", holder, domain.ErrFloorTaken)
	}
	if holder != uid {
		st.room.ActiveSpeakerUID = uid
		s.publishRoomLocked(st)
	}
	return nil
}

func (s *Store) ReleaseFloor(_ context.Context, id domain.RoomID, uid domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.state(id)
	if err != nil {
		return err
	}
	if st.room.ActiveSpeakerUID == uid && uid != "" {
		st.room.ActiveSpeakerUID = ""
		s.publishRoomLocked(st)
	}
	return nil
}

func (s *Store) PutParticipant(_ context.Context, id domain.RoomID, p *domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.state(id)
	if err != nil {
		return err
	}
	p.Email = domain.NormalizeEmail(p.Email)
	if !st.room.IsOpen() {
		return fmt.Errorf("room %s: %w", id, domain.ErrRoomClosed)
	}
	if st.room.IsBlocked(p.UID, p.Email) {
		return fmt.Errorf("%w: blocked", domain.ErrAccessDenied)
	}
	if prev, ok := st.participants[p.UID]; ok {
		p.IsMuted = prev.IsMuted
	}
	now := s.stamp()
	p.JoinedAt, p.LastSeenAt = now, now
	cp := *p
	st.participants[p.UID] = &cp
	s.publishParticipantsLocked(st)
	return nil
}

func (s *Store) GetParticipant(_ context.Context, id domain.RoomID, uid domain.UserID) (*domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.state(id)
	if err != nil {
		return nil, err
	}
	p, ok := st.participants[uid]
	if !ok {
		return nil, fmt.Errorf("participant %s: %w", uid, domain.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *Store) ListParticipants(_ context.Context, id domain.RoomID) ([]domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.state(id)
	if err != nil {
		return nil, err
	}
	return st.participantList(), nil
}

func (s *Store) TouchParticipant(_ context.Context, id domain.RoomID, uid domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.state(id)
	if err != nil {
		return err
	}
	p, ok := st.participants[uid]
	if !ok {
		return fmt.Errorf("participant %s: %w", uid, domain.ErrNotFound)
	}
	p.LastSeenAt = s.stamp()
	return nil
}

func (s *Store) ListStaleParticipants(_ context.Context, before time.Time) ([]domain.ParticipantRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ParticipantRef
	for id, st := range s.rooms {
		if !st.room.IsOpen() {
			continue
		}
		for uid, p := range st.participants {
			if p.LastSeenAt.Before(before) {
				out = append(out, domain.ParticipantRef{RoomID: id, UID: uid})
			}
		}
	}
	return out, nil
}

func (s *Store) AppendMessage(_ context.Context, id domain.RoomID, m *domain.RoomMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.state(id)
	if err != nil {
		return err
	}
	if !st.room.IsOpen() {
		return fmt.Errorf("room %s: %w", id, domain.ErrRoomClosed)
	}
	s.seq++
	m.ID = domain.MessageID(fmt.Sprintf("m%06d", s.seq))
	m.RoomID = id
	m.CreatedAt = s.stamp()
	st.messages = append(st.messages, *m)
	for sub := range st.msgSubs {
		if m.CreatedAt.After(sub.after) {
			sub.feed.publish(*m)
		}
	}
	return nil
}

func (s *Store) ListMessages(_ context.Context, id domain.RoomID, limit int) ([]domain.RoomMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.state(id)
	if err != nil {
		return nil, err
	}
	msgs := st.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return slices.Clone(msgs), nil
}

func (s *Store) WatchRoom(ctx context.Context, id domain.RoomID) (<-chan *domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.state(id)
	if err != nil {
		return nil, err
	}
	f := newSnapshotFeed[*domain.Room]()
	st.roomSubs[f] = struct{}{}
	f.publish(st.room.Clone())
	go f.run(ctx, func() {
		s.mu.Lock()
		delete(st.roomSubs, f)
		s.mu.Unlock()
	})
	return f.out, nil
}

func (s *Store) WatchParticipants(ctx context.Context, id domain.RoomID) (<-chan []domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.state(id)
	if err != nil {
		return nil, err
	}
	f := newSnapshotFeed[[]domain.Participant]()
	st.partSubs[f] = struct{}{}
	f.publish(st.participantList())
	go f.run(ctx, func() {
		s.mu.Lock()
		delete(st.partSubs, f)
		s.mu.Unlock()
	})
	return f.out, nil
}

func (s *Store) WatchMessages(ctx context.Context, id domain.RoomID, after time.Time) (<-chan []domain.RoomMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.state(id)
	if err != nil {
		return nil, err
	}
	sub := &msgSub{feed: newBatchFeed[domain.RoomMessage](), after: after}
	st.msgSubs[sub] = struct{}{}
	for _, m := range st.messages {
		if m.CreatedAt.After(after) {
			sub.feed.publish(m)
		}
	}
	go sub.feed.run(ctx, func() {
		s.mu.Lock()
		delete(st.msgSubs, sub)
		s.mu.Unlock()
	})
	return sub.feed.out, nil
}

func (s *Store) publishRoomLocked(st *roomState) {
	for f := range st.roomSubs {
		f.publish(st.room.Clone())
	}
}

func (s *Store) publishParticipantsLocked(st *roomState) {
	for f := range st.partSubs {
		f.publish(st.participantList())
	}
}

func (st *roomState) participantList() []domain.Participant {
	out := make([]domain.Participant, 0, len(st.participants))
	for _, p := range st.participants {
		out = append(out, *p)
	}
	slices.SortFunc(out, func(a, b domain.Participant) int {
		return a.JoinedAt.Compare(b.JoinedAt)
	})
	return out
}

func normalizeAll(emails []string) []string {
	out := make([]string, 0, len(emails))
	for _, e := range emails {
		out = append(out, domain.NormalizeEmail(e))
	}
	return out
}

func unionEmails(set, add []string) []string {
	for _, e := range normalizeAll(add) {
		if e != "" && !slices.Contains(set, e) {
			set = append(set, e)
		}
	}
	return set
}
