package api

import (
	"net/http"

	voicecallHandler "voice-bridge/internal/voicecall/handler"

	"github.com/gin-gonic/gin"
)

type API struct {
	router           *gin.RouterGroup
	voicecallHandler voicecallHandler.Handler
}

func New(router *gin.RouterGroup, voicecallHandler voicecallHandler.Handler) API {
	return API{
		router:           router,
		voicecallHandler: voicecallHandler,
	}
}

func (a *API) RegisterRoutes() {
	a.Health()
	a.router.POST("/incoming-call", a.voicecallHandler.HandleIncomingCall)
	a.router.GET("/media-stream", a.voicecallHandler.HandleMediaStream)
}

func (a *API) Health() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
