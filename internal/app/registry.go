package app

import (
	"context"
	"sync"

	"github.com/dkeye/syncroom/internal/core"
	"github.com/dkeye/syncroom/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	RoomID  domain.RoomID
	Signal  core.SignalConnection
	Session core.MemberSession
	// Cancel stops the room session, SignalCancel the connection pumps.
	Cancel       context.CancelFunc
	SignalCancel context.CancelFunc
}

// Registry maps client tokens to their identity, signal connection and
// running room session. One client token has at most one room session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
	users    map[core.SessionID]*domain.User
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
		users:    make(map[core.SessionID]*domain.User),
	}
}

// GetOrCreateUser returns a copy of the identity bound to sid.
func (r *Registry) GetOrCreateUser(sid core.SessionID) domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[sid]; ok {
		return *u
	}
	u := &domain.User{ID: domain.UserID(sid), Username: "guest"}
	r.users[sid] = u
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("created new user")
	return *u
}

// SetIdentity validates and stores name and email for sid.
func (r *Registry) SetIdentity(sid core.SessionID, name, email string) (domain.User, error) {
	u, err := domain.NewUser(domain.UserID(sid), name, email)
	if err != nil {
		return domain.User{}, err
	}
	r.mu.Lock()
	r.users[sid] = u
	r.mu.Unlock()
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("username", u.Username).Msg("updated identity")
	return *u, nil
}

// BindSignal attaches a connection to sid, closing any previous one.
func (r *Registry) BindSignal(sid core.SessionID, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		e = &sessionEntry{}
		r.sessions[sid] = e
	}
	if e.SignalCancel != nil {
		e.SignalCancel()
	}
	if e.Signal != nil && e.Signal != conn {
		e.Signal.Close()
	}
	e.Signal, e.SignalCancel = conn, cancel
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound signal")
}

func (r *Registry) Signal(sid core.SessionID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok && e.Signal != nil {
		return e.Signal, true
	}
	return nil, false
}

func (r *Registry) BindSession(
	sid core.SessionID,
	roomID domain.RoomID,
	sess core.MemberSession,
	cancel context.CancelFunc,
) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		e = &sessionEntry{}
		r.sessions[sid] = e
	}
	e.RoomID, e.Session, e.Cancel = roomID, sess, cancel
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(roomID)).Msg("bound session")
}

// Unbind forgets sid's connection entry when conn is still the bound one.
// The identity is kept so a reconnect with the same cookie keeps its name.
func (r *Registry) Unbind(sid core.SessionID, conn core.SignalConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[sid]; ok && (conn == nil || e.Signal == conn) {
		delete(r.sessions, sid)
		log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
	}
}

func (r *Registry) RoomOf(sid core.SessionID) (domain.RoomID, core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[sid]
	if !ok || entry.RoomID == "" {
		return "", nil, false
	}
	return entry.RoomID, entry.Session, true
}

// RemoveRoom clears the room association if it still belongs to sess.
func (r *Registry) RemoveRoom(sid core.SessionID, sess core.MemberSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.sessions[sid]; ok && (sess == nil || entry.Session == sess) {
		entry.RoomID, entry.Session, entry.Cancel = "", nil, nil
		log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("removed room association")
	}
}

// Cancel stops sid's room session, if any.
func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	var cancel context.CancelFunc
	if e, ok := r.sessions[sid]; ok {
		cancel = e.Cancel
	}
	r.mu.RUnlock()
	if cancel == nil {
		return false
	}
	cancel()
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}
