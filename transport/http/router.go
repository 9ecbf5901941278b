package http

import (
	"github.com/gin-gonic/gin"
	"github.com/layer-3/murmur"
	"github.com/layer-3/murmur/ports"
	"github.com/sirupsen/logrus"
)

// SetupRouter sets up the Gin router
func SetupRouter(client murmur.Client, authorizer ports.Authorizer, log logrus.FieldLogger) *gin.Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	router := gin.New()
	router.Use(RequestLogger(log), gin.Recovery())

	handlers := NewHandlers(client, log)

	router.GET("/health", handlers.Health)

	// Protected API routes
	api := router.Group("/api")
	api.Use(AuthMiddleware(authorizer, client))
	{
		api.GET("/session", handlers.Session)

		api.GET("/conversations", handlers.Conversations)
		api.POST("/conversations", handlers.StartConversation)
		api.GET("/conversations/:id/messages", handlers.Messages)
		api.POST("/conversations/:id/messages", handlers.SendText)
		api.POST("/conversations/:id/gated", handlers.SendGated)
		api.POST("/conversations/:id/gated/retry", handlers.RetryGated)

		api.GET("/gated/preview", handlers.PreviewGated)
		api.GET("/gated/state", handlers.UnlockState)
		api.POST("/gated/unlock", handlers.UnlockGated)
	}

	return router
}
