// Package api exposes the dispatch services over HTTP with gin.
package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kilianp07/movedispatch/api/middleware"
	"github.com/kilianp07/movedispatch/auth"
	"github.com/kilianp07/movedispatch/core/classify"
	"github.com/kilianp07/movedispatch/core/dispatch"
	"github.com/kilianp07/movedispatch/core/ledger"
	"github.com/kilianp07/movedispatch/core/lifecycle"
	"github.com/kilianp07/movedispatch/core/logger"
	"github.com/kilianp07/movedispatch/core/tracking"
	"github.com/kilianp07/movedispatch/infra/ws"
)

// Services groups the dependencies of the handlers.
type Services struct {
	Store       ledger.Store
	Rules       *classify.Rules
	Broadcaster *dispatch.Broadcaster
	Resolver    *dispatch.Resolver
	Machine     *lifecycle.Machine
	Tracking    *tracking.Channel
	Hub         *ws.Hub
	Verifier    *auth.Verifier
	Log         logger.Logger

	// Now and NewID default to time.Now and uuid.NewString.
	Now   func() time.Time
	NewID func() string
}

type handler struct {
	Services
}

// NewRouter builds the gin engine. An empty origin list allows any origin.
func NewRouter(s Services, corsOrigins []string) *gin.Engine {
	if s.Now == nil {
		s.Now = time.Now
	}
	if s.NewID == nil {
		s.NewID = uuid.NewString
	}
	h := &handler{Services: s}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(s.Log))

	cc := cors.DefaultConfig()
	if len(corsOrigins) == 0 {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = corsOrigins
	}
	cc.AddAllowHeaders("Authorization")
	r.Use(cors.New(cc))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	v1 := r.Group("/api/v1")
	v1.Use(middleware.Authenticate(s.Verifier))
	{
		v1.POST("/classify", h.classify)
		v1.GET("/ws", h.serveWS)

		moves := v1.Group("/moves")
		moves.POST("", middleware.Authorize(auth.RoleClient), h.createMove)
		moves.GET("/:id", h.getMove)
		moves.GET("/:id/history", h.history)
		moves.POST("/:id/broadcast", middleware.Authorize(auth.RoleDispatcher), h.broadcast)
		moves.POST("/:id/advance", middleware.Authorize(auth.RoleMover), h.advance)
		moves.POST("/:id/cancel", middleware.Authorize(auth.RoleClient, auth.RoleMover), h.cancel)
		moves.POST("/:id/dispute", middleware.Authorize(auth.RoleClient, auth.RoleMover), h.dispute)

		offers := v1.Group("/offers", middleware.Authorize(auth.RoleMover))
		offers.GET("/open", h.openOffers)
		offers.POST("/:id/accept", h.accept)
		offers.POST("/:id/decline", h.decline)

		v1.POST("/location", middleware.Authorize(auth.RoleMover), h.emitLocation)
		v1.GET("/movers/:id/location", h.moverLocation)
	}
	return r
}

func (h *handler) serveWS(c *gin.Context) {
	id, _ := middleware.IdentityFrom(c)
	if err := h.Hub.ServeWS(c.Writer, c.Request, id.UserID); err != nil {
		h.Log.Warnf("websocket upgrade for %s failed: %v", id.UserID, err)
	}
}
