package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/dkeye/syncroom/internal/adapters/signal"
	"github.com/dkeye/syncroom/internal/adapters/store/memory"
	"github.com/dkeye/syncroom/internal/app"
	"github.com/dkeye/syncroom/internal/app/orch"
	"github.com/dkeye/syncroom/internal/config"
	"github.com/dkeye/syncroom/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func newAPI(t *testing.T) (*httptest.Server, *memory.Store) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	store := memory.New()
	o := orch.New(ctx, orch.Deps{
		Registry: app.NewRegistry(),
		Rooms:    app.NewRoomManager(store, app.WithIDGenerator(func() string { return "r1" })),
		Store:    store,
	})
	cfg := &config.Config{Mode: "test", Secret: "test-secret"}
	srv := httptest.NewServer(SetupRouter(ctx, cfg, o, signal.NewSignalWSController(o)))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv, store
}

type browser struct {
	t   *testing.T
	srv *httptest.Server
	c   *http.Client
}

func newBrowser(t *testing.T, srv *httptest.Server) *browser {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{t: t, srv: srv, c: &http.Client{Jar: jar}}
}

func (b *browser) do(method, path string, body any) (int, map[string]any) {
	b.t.Helper()
	var rd bytes.Buffer
	if body != nil {
		require.NoError(b.t, json.NewEncoder(&rd).Encode(body))
	}
	req, err := http.NewRequest(method, b.srv.URL+path, &rd)
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.c.Do(req)
	require.NoError(b.t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (b *browser) login(name, email string) {
	b.t.Helper()
	code, _ := b.do(http.MethodPost, "/api/session", map[string]string{"name": name, "email": email})
	require.Equal(b.t, http.StatusOK, code)
}

func TestIdentityAndRoomLifecycle(t *testing.T) {
	srv, store := newAPI(t)
	owner := newBrowser(t, srv)

	code, _ := owner.do(http.MethodPost, "/api/rooms", map[string]any{"topic": "Hanoi"})
	assert.Equal(t, http.StatusUnauthorized, code)

	owner.login("Linh", "linh@x.io")
	code, me := owner.do(http.MethodGet, "/api/me", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "linh@x.io", me["user"].(map[string]any)["email"])

	code, room := owner.do(http.MethodPost, "/api/rooms", map[string]any{"topic": "Hanoi", "invited": []string{"tom@x.io"}})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "r1", room["id"])

	guest := newBrowser(t, srv)
	guest.login("Tom", "tom@x.io")
	code, _ = guest.do(http.MethodGet, "/api/rooms/r1", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = guest.do(http.MethodPost, "/api/rooms/r1/end", nil)
	assert.Equal(t, http.StatusForbidden, code)

	stranger := newBrowser(t, srv)
	stranger.login("Eve", "eve@x.io")
	code, _ = stranger.do(http.MethodGet, "/api/rooms/r1", nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = owner.do(http.MethodPost, "/api/rooms/r1/invite", map[string]any{"emails": []string{"eve@x.io"}})
	assert.Equal(t, http.StatusNoContent, code)
	code, roster := stranger.do(http.MethodGet, "/api/rooms/r1/roster", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, roster["absent"], 3)

	code, _ = owner.do(http.MethodPost, "/api/rooms/r1/end", nil)
	assert.Equal(t, http.StatusNoContent, code)
	r, err := store.GetRoom(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoomClosed, r.Status)

	code, _ = owner.do(http.MethodPost, "/api/rooms/r1/end", nil)
	assert.Equal(t, http.StatusGone, code)
	code, _ = owner.do(http.MethodGet, "/api/rooms/nope", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestModerationRoutes(t *testing.T) {
	srv, store := newAPI(t)
	ctx := context.Background()
	owner := newBrowser(t, srv)
	owner.login("Linh", "linh@x.io")
	code, _ := owner.do(http.MethodPost, "/api/rooms", map[string]any{"topic": "Hanoi", "invited": []string{"tom@x.io"}})
	require.Equal(t, http.StatusCreated, code)

	require.NoError(t, store.PutParticipant(ctx, "r1", &domain.Participant{UID: "tom", Name: "Tom", Email: "tom@x.io", Language: "en-US"}))

	code, _ = owner.do(http.MethodPost, "/api/rooms/r1/participants/tom/mute", map[string]any{"muted": true})
	assert.Equal(t, http.StatusNoContent, code)
	p, err := store.GetParticipant(ctx, "r1", "tom")
	require.NoError(t, err)
	assert.True(t, p.IsMuted)

	code, _ = owner.do(http.MethodPost, "/api/rooms/r1/participants/tom/mute", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = owner.do(http.MethodPost, "/api/rooms/r1/emcees", map[string]any{"uid": "tom"})
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = owner.do(http.MethodDelete, "/api/rooms/r1/emcees/tom@x.io", nil)
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = owner.do(http.MethodDelete, "/api/rooms/r1/emcees/linh@x.io", nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = owner.do(http.MethodDelete, "/api/rooms/r1/participants/tom", nil)
	assert.Equal(t, http.StatusNoContent, code)
	r, _ := store.GetRoom(ctx, "r1")
	assert.True(t, r.IsBlocked("tom", "tom@x.io"))

	code, _ = owner.do(http.MethodDelete, "/api/rooms/r1/participants/tom", nil)
	assert.Equal(t, http.StatusConflict, code)
}
