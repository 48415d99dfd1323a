package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// NewRouter wires every route of the API.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.logger))

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authed := r.Group("/", AuthRequired(h.Tokens))
	authed.GET("/ws", h.ServeWebSocket)
	authed.POST("/chat/checkchat", h.CheckChat)

	conv := authed.Group("/conversation")
	conv.GET("", h.ListConversations)
	conv.POST("/recharge", h.Recharge)
	conv.GET("/:receiverId", h.GetConversation)

	return r
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := logger.Debug()
		if status >= 500 {
			event = logger.Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("user_id", currentUser(c)).
			Msg("request")
	}
}
