package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mossy-p/meshcall/internal/middleware"
)

// RouterConfig wires the relay server's routes.
type RouterConfig struct {
	AllowedOrigins []string
	JWTSecret      string
	Presence       PresenceStore
	Logger         *zap.Logger
}

// NewRouter builds the relay server and returns it with its hub.
func NewRouter(cfg RouterConfig) (*gin.Engine, *Hub) {
	router := gin.New()
	router.Use(gin.Recovery())

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(cfg.AllowedOrigins))

	hub := NewHub(cfg.Presence, cfg.Logger)
	presence := NewPresenceHandler(cfg.Presence, cfg.Logger)
	auth := middleware.JWTAuth(cfg.JWTSecret)

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", Metrics())

	apiGroup := router.Group("/api")
	{
		// Login endpoint (public)
		apiGroup.POST("/auth/login", Login(cfg.JWTSecret, cfg.Logger))

		apiGroup.GET("/rooms/:roomId/presence", presence.Get)
		apiGroup.POST("/rooms/:roomId/presence", auth, presence.Join)
		apiGroup.DELETE("/rooms/:roomId/presence", auth, presence.Leave)
	}

	// WebSocket signaling endpoint, one topic per room
	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/signal/:topic", auth, hub.HandleSignaling)
	}

	return router, hub
}
