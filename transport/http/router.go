package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/tokenward/internal/logging"
	"github.com/layer-3/tokenward/service"
)

// RouterOptions carries what the router needs besides the service
type RouterOptions struct {
	Cookies CookieOptions
	Logger  logging.Logger
	// Metrics is served on /metrics when set
	Metrics http.Handler
}

// SetupRouter sets up the Gin router
func SetupRouter(authService *service.AuthService, opts RouterOptions) *gin.Engine {
	router := gin.Default()

	handlers := NewAuthHandlers(authService, opts.Cookies, opts.Logger)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	// Auth routes
	auth := router.Group("/auth")
	{
		auth.POST("/login", handlers.Login)
		auth.POST("/refresh", handlers.Refresh)
		auth.POST("/logout", handlers.Logout)
	}

	// Protected API routes
	api := router.Group("/api")
	api.Use(AuthMiddleware(authService))
	{
		api.GET("/me", handlers.Me)
		api.GET("/sessions", handlers.ListSessions)
		api.DELETE("/sessions/:id", handlers.RevokeSession)
		api.POST("/sessions/revoke-others", handlers.RevokeOtherSessions)
		api.POST("/logout-all", handlers.LogoutAll)
	}

	return router
}
