package handler

import (
	"net/http"
	"slices"
	"time"

	"askgpt-backend/internal/config"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRouter(cfg *config.Config, chatHandler *ChatHandler) *gin.Engine {
	router := gin.New()

	// 中间件
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           time.Duration(cfg.CORS.MaxAge) * time.Second,
	}
	if len(corsConfig.AllowOrigins) == 0 || slices.Contains(corsConfig.AllowOrigins, "*") {
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowOrigins = nil
	}
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Unix(),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.POST("/session", chatHandler.Session)
		api.POST("/verify", chatHandler.Verify)

		protected := api.Group("", Auth(cfg.Server.AuthSecret))
		{
			protected.POST("/config", chatHandler.Config)
			protected.POST("/chat-process", chatHandler.ChatProcess)
			protected.POST("/chat/stream", chatHandler.StreamChat)

			protected.GET("/settings", chatHandler.GetSettings)
			protected.PUT("/settings", chatHandler.UpdateSettings)

			protected.GET("/conversations", chatHandler.ListConversations)
			protected.GET("/records/:conversation_id", chatHandler.GetRecords)
			protected.DELETE("/records/:conversation_id", chatHandler.DeleteRecords)
		}
	}

	return router
}
