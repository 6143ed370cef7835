package app

import (
	"context"
	"testing"

	"github.com/dkeye/syncroom/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConn struct{ closed bool }

func (c *stubConn) TrySend(core.Frame) error { return nil }
func (c *stubConn) Close()                   { c.closed = true }

type stubSession struct{ done chan struct{} }

func (s *stubSession) Press()                  {}
func (s *stubSession) Stop()                   {}
func (s *stubSession) MicState() core.MicState { return core.MicIdle }
func (s *stubSession) Done() <-chan struct{}   { return s.done }

func TestRegistryIdentity(t *testing.T) {
	r := NewRegistry()
	u := r.GetOrCreateUser("s1")
	assert.Equal(t, "guest", u.Username)

	_, err := r.SetIdentity("s1", "Mai", "not-an-email")
	assert.Error(t, err)

	u, err = r.SetIdentity("s1", "Mai", " Mai@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, "mai@example.com", u.Email)
	assert.Equal(t, u, r.GetOrCreateUser("s1"))
}

func TestRegistryRebindClosesPreviousSignal(t *testing.T) {
	r := NewRegistry()
	first, second := &stubConn{}, &stubConn{}
	canceled := false
	r.BindSignal("s1", first, func() { canceled = true })
	r.BindSignal("s1", second, func() {})

	assert.True(t, first.closed)
	assert.True(t, canceled)
	got, ok := r.Signal("s1")
	require.True(t, ok)
	assert.Same(t, second, got)

	r.Unbind("s1", first)
	_, ok = r.Signal("s1")
	assert.True(t, ok, "stale connection does not unbind the new one")
	r.Unbind("s1", second)
	_, ok = r.Signal("s1")
	assert.False(t, ok)
}

func TestRegistrySessionLifecycle(t *testing.T) {
	r := NewRegistry()
	r.BindSignal("s1", &stubConn{}, func() {})

	sess := &stubSession{done: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	r.BindSession("s1", "room-1", sess, cancel)

	id, got, ok := r.RoomOf("s1")
	require.True(t, ok)
	assert.Equal(t, "room-1", string(id))
	assert.Same(t, sess, got)

	r.RemoveRoom("s1", &stubSession{})
	_, _, ok = r.RoomOf("s1")
	assert.True(t, ok, "other session does not clear the association")

	assert.True(t, r.Cancel("s1"))
	assert.Error(t, ctx.Err())

	r.RemoveRoom("s1", sess)
	_, _, ok = r.RoomOf("s1")
	assert.False(t, ok)
	assert.False(t, r.Cancel("s1"))
}
