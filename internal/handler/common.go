package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bazar-buzzer/internal/middleware"
	"github.com/iliyamo/bazar-buzzer/internal/repository"
)

// requestTimeout bounds every storage round trip made by a handler.
const requestTimeout = 5 * time.Second

// Error codes returned in the "error" field.
const (
	codeInvalidInput       = "invalid_input"
	codeNotFound           = "not_found"
	codeNameConflict       = "name_conflict"
	codeCapacityExceeded   = "capacity_exceeded"
	codeStorageUnavailable = "storage_unavailable"
)

func requestContext(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}

// deviceToken prefers the token from the body and falls back to the
// X-Device-Token header.
func deviceToken(c echo.Context, fromBody string) string {
	if t := strings.TrimSpace(fromBody); t != "" {
		return t
	}
	return strings.TrimSpace(c.Request().Header.Get(middleware.DeviceTokenHeader))
}

// writeError maps core errors onto HTTP responses.  conflictCode lets the
// press endpoint report the arbitrator's reason instead of name_conflict.
func writeError(c echo.Context, err error, conflictCode string) error {
	switch {
	case errors.Is(err, repository.ErrInvalidInput):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": codeInvalidInput})
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": codeNotFound})
	case errors.Is(err, repository.ErrNameConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": conflictCode})
	case errors.Is(err, repository.ErrCapacityExceeded):
		return c.JSON(http.StatusConflict, echo.Map{"error": codeCapacityExceeded})
	default:
		log.Printf("handler: %s %s: %v", c.Request().Method, c.Path(), err)
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": codeStorageUnavailable})
	}
}

// nowUTC is swapped in tests.
var nowUTC = func() time.Time { return time.Now().UTC() }
