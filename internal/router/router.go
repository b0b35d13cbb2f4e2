package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/techassess/internal/config"
	"github.com/stemsi/techassess/internal/handler"
	"github.com/stemsi/techassess/internal/middleware"
	"github.com/stemsi/techassess/internal/response"
)

const paperMaxAge = 300

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth    *handler.AuthHandler
	Session *handler.SessionHandler
	Admin   *handler.AdminHandler
	Monitor *handler.MonitorHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// The returned limiter must be stopped on shutdown.
func SetupRouter(
	auth middleware.TokenValidator,
	handlers *Handlers,
	cfg *config.Config,
) (*gin.Engine, *middleware.RateLimiter) {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// Restrict to AllowedOrigins when set; otherwise allow all (*) for dev.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.Brotli())

	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Registration and login: RateLimit requests per minute per IP.
	limiter := middleware.NewRateLimiter(cfg.RateLimit, time.Minute)

	api := router.Group("/api/v1")

	// ─── 1. Candidate Group (session id is the capability) ────────────
	api.POST("/register-candidate", limiter.Middleware(), handlers.Session.Register)
	api.GET("/assessment", middleware.CacheControl(paperMaxAge), handlers.Session.GetPaper)
	api.POST("/execute", handlers.Session.Execute)

	sessions := api.Group("/sessions/:id")
	sessions.Use(middleware.NoStore())
	{
		sessions.GET("", handlers.Session.GetSession)
		sessions.POST("/start", handlers.Session.StartSession)
		sessions.GET("/progress", handlers.Session.GetProgress)
		sessions.POST("/save-progress", handlers.Session.SaveProgress)
		sessions.POST("/submit", handlers.Session.Submit)
		sessions.POST("/update-tab-switches", handlers.Session.UpdateTabSwitches)
	}

	// ─── 2. Admin Login (public, rate limited) ─────────────────────────
	api.POST("/admin/login", limiter.Middleware(), handlers.Auth.AdminLogin)

	// ─── 3. Admin Group (reviewer JWT) ─────────────────────────────────
	adminAPI := api.Group("/admin")
	adminAPI.Use(middleware.RequireAdminJWT(auth), middleware.NoStore())
	{
		adminAPI.GET("/me", handlers.Auth.GetAdminProfile)
		adminAPI.GET("/sessions", handlers.Admin.ListSessions)
		adminAPI.GET("/sessions/:id", handlers.Admin.GetSession)
	}

	// ─── 4. WebSocket Group (query token auth) ─────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireAdminWSAuth(auth))
	{
		ws.GET("/admin/monitor", handlers.Monitor.MonitorStream)
	}

	return router, limiter
}
