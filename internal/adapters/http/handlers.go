package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/syncroom/internal/app/orch"
	"github.com/dkeye/syncroom/internal/core"
	"github.com/dkeye/syncroom/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

var errIdentityRequired = errors.New("identity required")

type handlers struct {
	orch *orch.Orchestrator
}

func (h *handlers) caller(c *gin.Context) domain.User {
	return h.orch.Registry.GetOrCreateUser(core.SessionID(c.GetString("client_token")))
}

// identified returns the caller, or writes 401 when no email is set yet.
func (h *handlers) identified(c *gin.Context) (domain.User, bool) {
	u := h.caller(c)
	if u.Email == "" {
		fail(c, errIdentityRequired)
		return u, false
	}
	return u, true
}

func (h *handlers) setIdentity(c *gin.Context) {
	var req struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, domain.ErrInvalidInput)
		return
	}
	sid := core.SessionID(c.GetString("client_token"))
	u, err := h.orch.Registry.SetIdentity(sid, req.Name, req.Email)
	if err != nil {
		fail(c, err)
		return
	}
	sess := sessions.Default(c)
	sess.Set(keyName, u.Username)
	sess.Set(keyEmail, u.Email)
	if err := sess.Save(); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("session save")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

func (h *handlers) me(c *gin.Context) {
	sid := core.SessionID(c.GetString("client_token"))
	resp := gin.H{"user": h.caller(c)}
	if roomID, sess, ok := h.orch.Registry.RoomOf(sid); ok {
		resp["room"] = roomID
		resp["mic"] = sess.MicState().String()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handlers) createRoom(c *gin.Context) {
	u, ok := h.identified(c)
	if !ok {
		return
	}
	var req struct {
		Topic   string   `json:"topic"`
		Invited []string `json:"invited"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, domain.ErrInvalidInput)
		return
	}
	room, err := h.orch.Rooms.CreateRoom(c.Request.Context(), u, req.Topic, req.Invited)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

func (h *handlers) getRoom(c *gin.Context) {
	u, ok := h.identified(c)
	if !ok {
		return
	}
	room, err := h.orch.Rooms.Get(c.Request.Context(), domain.RoomID(c.Param("id")))
	if err != nil {
		fail(c, err)
		return
	}
	if !room.IsInvited(u.Email) && !room.IsEmcee(u.ID, u.Email) {
		fail(c, domain.ErrAccessDenied)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *handlers) roster(c *gin.Context) {
	u, ok := h.identified(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	id := domain.RoomID(c.Param("id"))
	room, err := h.orch.Rooms.Get(ctx, id)
	if err != nil {
		fail(c, err)
		return
	}
	if !room.IsInvited(u.Email) {
		fail(c, domain.ErrAccessDenied)
		return
	}
	v, err := h.orch.Rooms.Roster(ctx, id, u.ID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *handlers) invite(c *gin.Context) {
	u, ok := h.identified(c)
	if !ok {
		return
	}
	var req struct {
		Emails []string `json:"emails"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, domain.ErrInvalidInput)
		return
	}
	done(c, h.orch.Rooms.Invite(c.Request.Context(), domain.RoomID(c.Param("id")), u, req.Emails))
}

func (h *handlers) promote(c *gin.Context) {
	u, ok := h.identified(c)
	if !ok {
		return
	}
	var req struct {
		UID string `json:"uid"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.UID == "" {
		fail(c, domain.ErrInvalidInput)
		return
	}
	done(c, h.orch.Rooms.Promote(c.Request.Context(), domain.RoomID(c.Param("id")), u, domain.UserID(req.UID)))
}

func (h *handlers) demote(c *gin.Context) {
	u, ok := h.identified(c)
	if !ok {
		return
	}
	done(c, h.orch.Rooms.Demote(c.Request.Context(), domain.RoomID(c.Param("id")), u, c.Param("email")))
}

func (h *handlers) mute(c *gin.Context) {
	u, ok := h.identified(c)
	if !ok {
		return
	}
	var req struct {
		Muted *bool `json:"muted"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Muted == nil {
		fail(c, domain.ErrInvalidInput)
		return
	}
	done(c, h.orch.Rooms.SetMuted(c.Request.Context(), domain.RoomID(c.Param("id")), u, domain.UserID(c.Param("uid")), *req.Muted))
}

func (h *handlers) remove(c *gin.Context) {
	u, ok := h.identified(c)
	if !ok {
		return
	}
	done(c, h.orch.Rooms.Remove(c.Request.Context(), domain.RoomID(c.Param("id")), u, domain.UserID(c.Param("uid"))))
}

func (h *handlers) end(c *gin.Context) {
	u, ok := h.identified(c)
	if !ok {
		return
	}
	done(c, h.orch.Rooms.End(c.Request.Context(), domain.RoomID(c.Param("id")), u))
}

func done(c *gin.Context, err error) {
	if err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func fail(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("request failed")
		c.JSON(status, gin.H{"error": "internal"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, errIdentityRequired):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRoomClosed):
		return http.StatusGone
	case errors.Is(err, domain.ErrAccessDenied), errors.Is(err, domain.ErrNotEmcee),
		errors.Is(err, domain.ErrCreatorImmune):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotPresent):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrInvalidLang),
		errors.Is(err, domain.ErrTopicTooLong), errors.Is(err, domain.ErrEmailInvalid),
		errors.Is(err, domain.ErrUsernameEmpty), errors.Is(err, domain.ErrUsernameTooLong):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
