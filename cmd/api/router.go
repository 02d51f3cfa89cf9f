package api

import (
	"net/http"

	authDelivery "jobtrack-backend/internal/auth/delivery"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(r *gin.Engine, h *Handler) {
	api := r.Group("/api")
	{
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		// Pub/Sub push subscriptions, only with a shared token
		if h.pushToken != "" {
			api.POST("/pubsub/push/:topic", h.PushMessage)
		}

		// Protected routes
		if h.tokens == nil {
			return
		}
		protected := api.Group("")
		protected.Use(authDelivery.AuthMiddleware(h.tokens))

		if h.devices != nil {
			fcm := protected.Group("/fcm")
			{
				fcm.POST("/register", h.devices.RegisterDeviceToken)
				fcm.DELETE("/:token", h.devices.UnregisterDeviceToken)
			}
		}

		if h.settings != nil {
			settings := protected.Group("/settings")
			{
				settings.GET("/ollama", h.settings.GetOllama)
				settings.PUT("/ollama", h.settings.UpdateOllama)
				settings.POST("/ollama/test", h.settings.TestOllama)
			}
		}
	}
}
