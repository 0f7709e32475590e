package funding

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/gestion-vehicule/gestion_vehicule/internal/ledger"
	"github.com/gestion-vehicule/gestion_vehicule/internal/middleware"
	"github.com/gestion-vehicule/gestion_vehicule/internal/money"
)

// Handler exposes HTTP endpoints for balance top-ups.
type Handler struct {
	service *Service
}

// NewHandler constructs a funding handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Create records a pending top-up for the caller.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req RechargeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := money.ParseAmount(req.Amount)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid amount")
	}
	r, err := h.service.CreateRecharge(c.UserContext(), CreateInput{
		UserID:    middleware.UserID(c),
		Amount:    amount,
		Currency:  req.Currency,
		Method:    ledger.RechargeMethod(req.Method),
		Provider:  req.Provider,
		Reference: req.Reference,
	})
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(r)
}

// List returns the caller's recharges. Privileged callers may pass user_id, or nothing for all.
func (h *Handler) List(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	if middleware.IsPrivileged(c) {
		userID = c.Query("user_id")
	}
	page := ledger.NewPage(c.QueryInt("limit", 20), c.QueryInt("offset", 0))
	list, err := h.service.List(c.UserContext(), userID, page)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(fiber.Map{"items": list, "limit": page.Limit, "offset": page.Offset})
}

// Complete confirms a top-up, typically from a provider callback.
func (h *Handler) Complete(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid recharge id")
	}
	r, err := h.service.CompleteRecharge(c.UserContext(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(r)
}

// Fail marks a top-up failed.
func (h *Handler) Fail(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid recharge id")
	}
	var req FailRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	r, err := h.service.FailRecharge(c.UserContext(), id, req.Reason)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(r)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return fiber.NewError(http.StatusNotFound, "recharge not found")
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidCurrency),
		errors.Is(err, ErrInvalidMethod):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrDuplicateReference), errors.Is(err, ErrInvalidTransition):
		return fiber.NewError(http.StatusConflict, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
