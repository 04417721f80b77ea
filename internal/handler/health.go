package handler

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Health is a liveness endpoint for load balancers.  It returns a plain
// "ok" with a 200 status.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Ready reports 200 once the database answers a ping and 503 otherwise, so
// an orchestrator can hold traffic while storage is unreachable.
func Ready(db *sql.DB) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "storage_unavailable"})
		}
		return c.String(http.StatusOK, "ready")
	}
}
