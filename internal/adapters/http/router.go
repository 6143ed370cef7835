package http

import (
	"context"

	"github.com/dkeye/syncroom/internal/adapters/signal"
	"github.com/dkeye/syncroom/internal/app/orch"
	"github.com/dkeye/syncroom/internal/config"
	"github.com/dkeye/syncroom/internal/core"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	sessionName = "SyncRoomSessions"
	keyName     = "name"
	keyEmail    = "email"
)

func genClientToken() string {
	return uuid.NewString()
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// IdentityMiddleware restores the name and email kept in the cookie session
// into the registry, so identities survive a server restart.
func IdentityMiddleware(o *orch.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		sid := core.SessionID(c.GetString("client_token"))
		if u := o.Registry.GetOrCreateUser(sid); u.Email == "" {
			sess := sessions.Default(c)
			name, _ := sess.Get(keyName).(string)
			email, _ := sess.Get(keyEmail).(string)
			if email != "" {
				if _, err := o.Registry.SetIdentity(sid, name, email); err != nil {
					log.Warn().Err(err).Str("module", "adapters.http").Str("sid", string(sid)).Msg("stale identity in cookie")
				}
			}
		}
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, ctl *signal.SignalWSController) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(ClientTokenMiddleware())
	r.Use(IdentityMiddleware(o))

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	h := &handlers{orch: o}
	api := r.Group("/api")

	api.POST("/session", h.setIdentity)
	api.GET("/me", h.me)

	api.POST("/rooms", h.createRoom)
	api.GET("/rooms/:id", h.getRoom)
	api.GET("/rooms/:id/roster", h.roster)
	api.POST("/rooms/:id/invite", h.invite)
	api.POST("/rooms/:id/emcees", h.promote)
	api.DELETE("/rooms/:id/emcees/:email", h.demote)
	api.POST("/rooms/:id/participants/:uid/mute", h.mute)
	api.DELETE("/rooms/:id/participants/:uid", h.remove)
	api.POST("/rooms/:id/end", h.end)

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctl.HandleSignal(ctx, c)
	})

	return r
}
