package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"omnichannel-backend/internal/channel"
	"omnichannel-backend/internal/config"
	"omnichannel-backend/internal/logger"
	"omnichannel-backend/internal/models"
	"omnichannel-backend/internal/queue"
	"omnichannel-backend/internal/store"
)

// Dependencies are the collaborators the HTTP layer is wired with.
type Dependencies struct {
	Config     *config.Config
	Store      store.Store
	Adapters   map[models.Channel]channel.Adapter
	Dispatcher queue.Dispatcher
	Sync       SyncRunner
	Log        zerolog.Logger
	// Ping reports storage health; nil means always healthy.
	Ping func(ctx context.Context) error
}

func SetupRoutes(router *gin.Engine, deps Dependencies) {
	cfg := deps.Config
	webhookHandler := NewWebhookHandler(cfg, deps.Adapters, deps.Dispatcher, logger.Component(deps.Log, "webhook"))
	syncHandler := NewSyncHandler(deps.Sync, cfg.Sync.JobTimeout)
	chatHandler := NewChatHandler(deps.Store, cfg.TenantID, logger.Component(deps.Log, "chat"))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		if deps.Ping != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unavailable",
					"service": cfg.ServiceName,
					"error":   err.Error(),
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": cfg.ServiceName,
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Provider webhooks
	webhooks := router.Group("/webhooks")
	{
		webhooks.GET("/:channel", webhookHandler.Verify)
		webhooks.POST("/:channel", webhookHandler.Receive)
	}

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		v1.POST("/sync/:channel", syncHandler.TriggerSync)

		conversations := v1.Group("/conversations")
		{
			conversations.GET("", chatHandler.GetConversations)
			conversations.GET("/:id/messages", chatHandler.GetMessages)
			conversations.POST("/:id/messages", chatHandler.SendMessage)
			conversations.DELETE("/:id", chatHandler.DeleteConversation)
		}

		messages := v1.Group("/messages")
		{
			messages.POST("/read", chatHandler.MarkRead)
			messages.DELETE("/:id", chatHandler.DeleteMessage)
		}
	}
}
