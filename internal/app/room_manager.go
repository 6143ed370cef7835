package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/syncroom/internal/core"
	"github.com/dkeye/syncroom/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type ManagerOption func(*RoomManager)

// WithSummarizer sets the collaborator asked for a summary once a room ends.
func WithSummarizer(s domain.Summarizer) ManagerOption {
	return func(m *RoomManager) {
		m.summarizer = s
	}
}

func WithIDGenerator(fn func() string) ManagerOption {
	return func(m *RoomManager) {
		m.newID = fn
	}
}

// RoomManager applies room lifecycle and moderation commands. Every command
// is a single atomic store write, so concurrent clients never observe a
// half-applied change.
type RoomManager struct {
	store          domain.RoomStore
	summarizer     domain.Summarizer
	summaryTimeout time.Duration
	newID          func() string
}

func NewRoomManager(store domain.RoomStore, opts ...ManagerOption) *RoomManager {
	m := &RoomManager{
		store:          store,
		summaryTimeout: 20 * time.Second,
		newID:          uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *RoomManager) CreateRoom(ctx context.Context, creator domain.User, topic string, invited []string) (*domain.Room, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, fmt.Errorf("%w: empty topic", domain.ErrInvalidInput)
	}
	if len(topic) > domain.MaxTopicLen {
		return nil, domain.ErrTopicTooLong
	}
	if creator.ID == "" || creator.Email == "" {
		return nil, fmt.Errorf("%w: creator identity incomplete", domain.ErrAccessDenied)
	}
	emails, err := normalizeEmails(invited)
	if err != nil {
		return nil, err
	}
	creatorEmail := domain.NormalizeEmail(creator.Email)
	room := &domain.Room{
		ID:            domain.RoomID(m.newID()),
		Topic:         topic,
		CreatorUID:    creator.ID,
		CreatorEmail:  creatorEmail,
		InvitedEmails: unionEmails([]string{creatorEmail}, emails),
		EmceeEmails:   []string{},
		BlockedUsers:  []domain.BlockedUser{},
		Status:        domain.RoomOpen,
	}
	if err := m.store.CreateRoom(ctx, room); err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	log.Info().Str("module", "app.rooms").Str("room", string(room.ID)).Str("creator", string(creator.ID)).Msg("room created")
	return room, nil
}

func (m *RoomManager) Get(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	return m.store.GetRoom(ctx, id)
}

// Roster reconciles the current room and participant documents for caller.
func (m *RoomManager) Roster(ctx context.Context, id domain.RoomID, caller domain.UserID) (core.RosterView, error) {
	room, err := m.store.GetRoom(ctx, id)
	if err != nil {
		return core.RosterView{}, err
	}
	ps, err := m.store.ListParticipants(ctx, id)
	if err != nil {
		return core.RosterView{}, err
	}
	return core.ReconcileRoster(room, ps, caller), nil
}

// Join creates or overwrites the participant document. A fresh JoinedAt
// means earlier messages are never replayed to this user.
func (m *RoomManager) Join(ctx context.Context, id domain.RoomID, user domain.User, language string) (*domain.Participant, error) {
	room, err := m.store.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	if !room.IsOpen() {
		return nil, domain.ErrRoomClosed
	}
	if room.IsBlocked(user.ID, user.Email) {
		return nil, fmt.Errorf("%w: blocked", domain.ErrAccessDenied)
	}
	if !room.IsInvited(user.Email) {
		return nil, fmt.Errorf("%w: not invited", domain.ErrAccessDenied)
	}
	lang, err := domain.ParseLanguage(language)
	if err != nil {
		return nil, err
	}
	name := user.Username
	if name == "" {
		name = strings.SplitN(user.Email, "@", 2)[0]
	}
	p := &domain.Participant{
		UID:      user.ID,
		Name:     name,
		Email:    user.Email,
		Language: lang,
	}
	if err := m.store.PutParticipant(ctx, id, p); err != nil {
		return nil, fmt.Errorf("join: %w", err)
	}
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Str("uid", string(user.ID)).Str("lang", lang).Msg("joined")
	return p, nil
}

// Leave deletes the participant and releases the floor if it held it.
func (m *RoomManager) Leave(ctx context.Context, id domain.RoomID, uid domain.UserID) error {
	err := m.store.Commit(ctx, id, domain.Batch{
		DeleteParticipants: []domain.UserID{uid},
		ReleaseFloorOf:     uid,
	})
	if err != nil {
		return fmt.Errorf("leave: %w", err)
	}
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Str("uid", string(uid)).Msg("left")
	return nil
}

func (m *RoomManager) Invite(ctx context.Context, id domain.RoomID, caller domain.User, emails []string) error {
	if _, err := m.authorize(ctx, id, caller); err != nil {
		return err
	}
	norm, err := normalizeEmails(emails)
	if err != nil {
		return err
	}
	if len(norm) == 0 {
		return fmt.Errorf("%w: no emails", domain.ErrInvalidInput)
	}
	return m.commit(ctx, id, "invite", domain.Batch{RequireOpen: true, AddInvited: norm})
}

// Promote grants emcee rights to a present participant.
func (m *RoomManager) Promote(ctx context.Context, id domain.RoomID, caller domain.User, target domain.UserID) error {
	if _, err := m.authorize(ctx, id, caller); err != nil {
		return err
	}
	p, err := m.present(ctx, id, target)
	if err != nil {
		return err
	}
	return m.commit(ctx, id, "promote", domain.Batch{RequireOpen: true, AddEmcees: []string{p.Email}})
}

// Demote revokes emcee rights by email. The creator cannot be demoted.
func (m *RoomManager) Demote(ctx context.Context, id domain.RoomID, caller domain.User, targetEmail string) error {
	room, err := m.authorize(ctx, id, caller)
	if err != nil {
		return err
	}
	email := domain.NormalizeEmail(targetEmail)
	if room.IsCreatorEmail(email) {
		return domain.ErrCreatorImmune
	}
	return m.commit(ctx, id, "demote", domain.Batch{RequireOpen: true, RemoveEmcees: []string{email}})
}

func (m *RoomManager) SetMuted(ctx context.Context, id domain.RoomID, caller domain.User, target domain.UserID, muted bool) error {
	if _, err := m.authorize(ctx, id, caller); err != nil {
		return err
	}
	return m.commit(ctx, id, "mute", domain.Batch{
		RequireOpen: true,
		Patches:     map[domain.UserID]domain.ParticipantPatch{target: {IsMuted: &muted}},
	})
}

// Remove blocks and deletes a participant in one batch. The creator is immune.
func (m *RoomManager) Remove(ctx context.Context, id domain.RoomID, caller domain.User, target domain.UserID) error {
	room, err := m.authorize(ctx, id, caller)
	if err != nil {
		return err
	}
	if room.IsCreator(target) {
		return domain.ErrCreatorImmune
	}
	p, err := m.present(ctx, id, target)
	if err != nil {
		return err
	}
	if room.IsCreatorEmail(p.Email) {
		return domain.ErrCreatorImmune
	}
	return m.commit(ctx, id, "remove", domain.Batch{
		RequireOpen:        true,
		AddBlocked:         []domain.BlockedUser{{UID: p.UID, Email: p.Email}},
		DeleteParticipants: []domain.UserID{p.UID},
		ReleaseFloorOf:     p.UID,
	})
}

// End closes the room for good, then asks for a summary on a best-effort basis.
func (m *RoomManager) End(ctx context.Context, id domain.RoomID, caller domain.User) error {
	room, err := m.authorize(ctx, id, caller)
	if err != nil {
		return err
	}
	if err := m.commit(ctx, id, "end", domain.Batch{
		RequireOpen: true,
		SetStatus:   domain.RoomClosed,
		ClearFloor:  true,
	}); err != nil {
		return err
	}
	if m.summarizer != nil {
		m.summarize(room)
	}
	return nil
}

func (m *RoomManager) summarize(room *domain.Room) {
	ctx, cancel := context.WithTimeout(context.Background(), m.summaryTimeout)
	defer cancel()
	l := log.With().Str("module", "app.rooms").Str("room", string(room.ID)).Logger()

	msgs, err := m.store.ListMessages(ctx, room.ID, 0)
	if err != nil {
		l.Warn().Err(err).Msg("summary: list messages")
		return
	}
	summary, err := m.summarizer.Summarize(ctx, room, msgs)
	if err != nil {
		l.Warn().Err(err).Msg("summary failed")
		return
	}
	if err := m.store.Commit(ctx, room.ID, domain.Batch{SetSummary: &summary}); err != nil {
		l.Warn().Err(err).Msg("summary: store")
	}
}

// authorize loads the room and checks that it is open and caller is an emcee.
func (m *RoomManager) authorize(ctx context.Context, id domain.RoomID, caller domain.User) (*domain.Room, error) {
	room, err := m.store.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	if !room.IsOpen() {
		return nil, domain.ErrRoomClosed
	}
	if !room.IsEmcee(caller.ID, caller.Email) {
		return nil, domain.ErrNotEmcee
	}
	return room, nil
}

func (m *RoomManager) present(ctx context.Context, id domain.RoomID, uid domain.UserID) (*domain.Participant, error) {
	p, err := m.store.GetParticipant(ctx, id, uid)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotPresent, uid)
	}
	return p, err
}

func (m *RoomManager) commit(ctx context.Context, id domain.RoomID, op string, b domain.Batch) error {
	if err := m.store.Commit(ctx, id, b); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Str("op", op).Msg("committed")
	return nil
}

func normalizeEmails(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	for _, e := range in {
		var u domain.User
		if err := u.SetEmail(e); err != nil {
			return nil, fmt.Errorf("%w: %q", err, e)
		}
		out = append(out, u.Email)
	}
	return out, nil
}

func unionEmails(set, add []string) []string {
	seen := make(map[string]bool, len(set)+len(add))
	out := make([]string, 0, len(set)+len(add))
	for _, e := range append(set, add...) {
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	return out
}
