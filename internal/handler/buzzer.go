package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/bazar-buzzer/internal/model"
)

// Registrar, Authorizer and Presser are the core operations behind the
// participant endpoints.  The service package provides them.
type Registrar interface {
	Register(ctx context.Context, name, deviceToken string) (model.Registration, error)
}

type Authorizer interface {
	Authorize(ctx context.Context, name, deviceToken string) (model.Authorization, error)
}

type Presser interface {
	RecordPress(ctx context.Context, name, deviceToken string) (model.PressReceipt, error)
}

// BuzzerHandler serves registration, authorization and press.
type BuzzerHandler struct {
	Registry   Registrar
	Arbitrator Authorizer
	Ledger     Presser
}

func NewBuzzerHandler(r Registrar, a Authorizer, l Presser) *BuzzerHandler {
	return &BuzzerHandler{Registry: r, Arbitrator: a, Ledger: l}
}

type participantReq struct {
	Name        string `json:"name"`
	DeviceToken string `json:"device_token"`
}

// Register: claim or renew a name.  201 when the name was created, 200
// when an existing name was leased to this device.
func (h *BuzzerHandler) Register(c echo.Context) error {
	var req participantReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	reg, err := h.Registry.Register(ctx, req.Name, deviceToken(c, req.DeviceToken))
	if err != nil {
		return writeError(c, err, codeNameConflict)
	}
	status := http.StatusOK
	if reg.Created {
		status = http.StatusCreated
	}
	return c.JSON(status, reg)
}

// Authorize: GET /v1/authorize?name=...&device_token=...
func (h *BuzzerHandler) Authorize(c echo.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := h.Arbitrator.Authorize(ctx, c.QueryParam("name"), deviceToken(c, c.QueryParam("device_token")))
	if err != nil {
		return writeError(c, err, model.ReasonOwnedByOtherSession)
	}
	return c.JSON(http.StatusOK, res)
}

// Press: record a buzzer press.  409 with owned-by-other-session when a
// different device holds the lease.
func (h *BuzzerHandler) Press(c echo.Context) error {
	var req participantReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := requestContext(c)
	defer cancel()

	receipt, err := h.Ledger.RecordPress(ctx, req.Name, deviceToken(c, req.DeviceToken))
	if err != nil {
		return writeError(c, err, model.ReasonOwnedByOtherSession)
	}
	return c.JSON(http.StatusOK, receipt)
}
