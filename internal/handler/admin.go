package handler

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bazar-buzzer/internal/config"
	"github.com/iliyamo/bazar-buzzer/internal/model"
	"github.com/iliyamo/bazar-buzzer/internal/utils"
)

// Maintainer is the admin surface of the core.
type Maintainer interface {
	ResetPresses(ctx context.Context) (int64, error)
	PurgeAll(ctx context.Context) (int64, error)
	List(ctx context.Context) ([]model.Participant, error)
}

// AdminHandler bundles the operator endpoints.
type AdminHandler struct {
	Cfg   config.Config
	Admin Maintainer
}

func NewAdminHandler(cfg config.Config, a Maintainer) *AdminHandler {
	return &AdminHandler{Cfg: cfg, Admin: a}
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type rosterEntry struct {
	model.Participant
	LeaseLive bool `json:"lease_live"`
}

// Login: verify the operator credentials and return an ADMIN access token.
func (h *AdminHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email/password required"})
	}
	want := strings.ToLower(h.Cfg.AdminEmail)
	if want == "" || h.Cfg.AdminPasswordHash == "" {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "admin login not configured"})
	}
	// Hash even on an email mismatch so both failures take the same time.
	okPassword := utils.VerifyPassword(h.Cfg.AdminPasswordHash, req.Password)
	okEmail := subtle.ConstantTimeCompare([]byte(email), []byte(want)) == 1
	if !okPassword || !okEmail {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, email, utils.RoleAdmin, h.Cfg.AccessTTLMin)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue access failed"})
	}
	return c.JSON(http.StatusOK, access)
}

// Participants: full roster with lease state, in registration order.
func (h *AdminHandler) Participants(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	list, err := h.Admin.List(ctx)
	if err != nil {
		return writeError(c, err, codeNameConflict)
	}
	now := nowUTC()
	out := make([]rosterEntry, 0, len(list))
	for _, p := range list {
		out = append(out, rosterEntry{Participant: p, LeaseLive: p.LeaseLive(now)})
	}
	return c.JSON(http.StatusOK, echo.Map{"participants": out, "count": len(out)})
}

// Reset clears every press; names and leases survive.
func (h *AdminHandler) Reset(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	n, err := h.Admin.ResetPresses(ctx)
	if err != nil {
		return writeError(c, err, codeNameConflict)
	}
	return c.JSON(http.StatusOK, echo.Map{"reset": n})
}

// Purge deletes every participant.
func (h *AdminHandler) Purge(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	n, err := h.Admin.PurgeAll(ctx)
	if err != nil {
		return writeError(c, err, codeNameConflict)
	}
	return c.JSON(http.StatusOK, echo.Map{"purged": n})
}
