package gateway

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// NewRouter wires every route onto a gin engine.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(h.logger))

	router.GET("/health", h.HealthCheck)

	slack := router.Group("/slack")
	if h.secret != "" {
		slack.Use(VerifySlackSignature(h.secret, h.now))
	} else {
		h.logger.Warn("SLACK_SIGNING_SECRET not set, slash commands are not verified")
	}
	slack.POST("/commands", h.SlashCommand)

	router.GET("/watchlist", h.ListWatchlist)
	router.POST("/watchlist", h.AddSymbol)
	router.DELETE("/watchlist/:symbol", h.RemoveSymbol)

	router.GET("/price/:symbol", h.GetPrice)
	router.POST("/sweep", h.RunSweep)

	if h.stream != nil {
		router.GET("/alerts/stream", gin.WrapH(h.stream))
	}

	return router
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed", time.Since(start).String())
	}
}
