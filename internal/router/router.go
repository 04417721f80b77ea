// Package router registers the HTTP routes of the buzzer API.
package router

import (
	"database/sql"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/bazar-buzzer/internal/config"
	"github.com/iliyamo/bazar-buzzer/internal/handler"
	"github.com/iliyamo/bazar-buzzer/internal/middleware"
	"github.com/iliyamo/bazar-buzzer/internal/utils"
)

// RegisterRoutes registers the unauthenticated health and readiness checks.
func RegisterRoutes(e *echo.Echo, db *sql.DB) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(db))
}

// RegisterBuzzer registers the participant endpoints.  Register and press
// share the Redis token bucket; rdb may be nil, which disables limiting.
func RegisterBuzzer(e *echo.Echo, b *handler.BuzzerHandler, l *handler.LeaderboardHandler, rl config.RateLimitConfig, rdb *redis.Client) {
	limit := middleware.NewTokenBucket(rl, rdb)

	g := e.Group("/v1")
	g.POST("/register", b.Register, limit)
	g.POST("/press", b.Press, limit)
	g.GET("/authorize", b.Authorize)
	g.GET("/leaderboard", l.Get)
	g.GET("/leaderboard/ws", l.Stream)
}

// RegisterJoin exposes the join QR code behind the Redis response cache.
func RegisterJoin(e *echo.Echo, joinURL string, cc config.CacheConfig, rdb *redis.Client) {
	e.GET("/v1/join/qr", handler.JoinQR(joinURL), middleware.NewRedisCache(cc, rdb))
}

// RegisterAdmin registers the operator routes.  Login is public; every other
// route requires an ADMIN token.
func RegisterAdmin(e *echo.Echo, a *handler.AdminHandler, jwtSecret string) {
	e.POST("/v1/admin/login", a.Login)

	g := e.Group("/v1/admin")
	g.Use(middleware.JWTAuth(jwtSecret))
	g.Use(middleware.RequireRole(utils.RoleAdmin))
	g.GET("/participants", a.Participants)
	g.POST("/reset", a.Reset)
	g.POST("/purge", a.Purge)
}
