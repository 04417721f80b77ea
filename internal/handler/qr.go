package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/skip2/go-qrcode"
)

const (
	defaultQRSize = 320 // mobile-friendly size
	maxQRSize     = 1024
)

// JoinQR serves a PNG QR code of the public join URL so participants can
// open the buzzer page by scanning the projector screen.  ?size= selects
// the edge length in pixels.
func JoinQR(joinURL string) echo.HandlerFunc {
	return func(c echo.Context) error {
		size := defaultQRSize
		if s := c.QueryParam("size"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 64 || n > maxQRSize {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid size"})
			}
			size = n
		}
		png, err := qrcode.Encode(joinURL, qrcode.Medium, size)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "qr generation failed"})
		}
		c.Response().Header().Set(echo.HeaderCacheControl, "public, max-age=300")
		return c.Blob(http.StatusOK, "image/png", png)
	}
}
