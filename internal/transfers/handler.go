package transfers

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/gestion-vehicule/gestion_vehicule/internal/ledger"
	"github.com/gestion-vehicule/gestion_vehicule/internal/middleware"
	"github.com/gestion-vehicule/gestion_vehicule/internal/money"
)

// Handler exposes peer transfer endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a transfer handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type transferRequest struct {
	ReceiverID  string `json:"receiver_id"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
}

// Create sends funds from the caller to another user.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := money.ParseAmount(req.Amount)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid amount")
	}

	ft, err := h.service.Transfer(c.UserContext(), CreateInput{
		SenderID:    middleware.UserID(c),
		ReceiverID:  req.ReceiverID,
		Amount:      amount,
		Currency:    req.Currency,
		Description: req.Description,
	})
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientFunds):
			return c.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{
				"error":    "insufficient funds",
				"transfer": ft,
			})
		case errors.Is(err, ErrSelfTransfer), errors.Is(err, ledger.ErrInvalidAmount),
			errors.Is(err, ledger.ErrInvalidCurrency):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		default:
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.Status(http.StatusCreated).JSON(ft)
}

// List returns transfers the caller sent or received.
func (h *Handler) List(c *fiber.Ctx) error {
	page := ledger.NewPage(c.QueryInt("limit", 20), c.QueryInt("offset", 0))
	list, err := h.service.List(c.UserContext(), middleware.UserID(c), page)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"items": list, "limit": page.Limit, "offset": page.Offset})
}
