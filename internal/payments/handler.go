package payments

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/gestion-vehicule/gestion_vehicule/internal/ledger"
	"github.com/gestion-vehicule/gestion_vehicule/internal/middleware"
	"github.com/gestion-vehicule/gestion_vehicule/internal/money"
)

// Handler exposes payment endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	Amount      string          `json:"amount"`
	Currency    string          `json:"currency"`
	PaymentType string          `json:"payment_type"`
	Metadata    ledger.Metadata `json:"metadata"`
}

type attachRequest struct {
	Provider    string          `json:"provider"`
	ReferenceID string          `json:"reference_id"`
	RawResponse json.RawMessage `json:"raw_response"`
}

type failRequest struct {
	Reason string `json:"reason"`
}

// Create records a pending payment for the caller.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := money.ParseAmount(req.Amount)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid amount")
	}
	p, err := h.service.CreatePayment(c.UserContext(), CreateInput{
		UserID:   middleware.UserID(c),
		Amount:   amount,
		Currency: req.Currency,
		Type:     ledger.PaymentType(req.PaymentType),
		Metadata: req.Metadata,
	})
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(p)
}

// List returns the caller's payments. Privileged callers may pass user_id, or nothing for all.
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

// Get returns one payment visible to the caller.
func (h *Handler) Get(c *fiber.Ctx) error {
	p, err := h.owned(c)
	if err != nil {
		return err
	}
	return c.JSON(p)
}

// Pay settles one of the caller's payments from their internal balance.
func (h *Handler) Pay(c *fiber.Ctx) error {
	p, err := h.owned(c)
	if err != nil {
		return err
	}
	p, err = h.service.PayFromBalance(c.UserContext(), p.ID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(p)
}

// Attach records the provider leg of a payment.
func (h *Handler) Attach(c *fiber.Ctx) error {
	id, err := paymentID(c)
	if err != nil {
		return err
	}
	var req attachRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	leg, err := h.service.AttachTransaction(c.UserContext(), id, AttachInput(req))
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(leg)
}

// Complete confirms a payment, typically from a provider callback.
func (h *Handler) Complete(c *fiber.Ctx) error {
	id, err := paymentID(c)
	if err != nil {
		return err
	}
	p, err := h.service.MarkCompleted(c.UserContext(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(p)
}

// Fail marks a pending payment failed.
func (h *Handler) Fail(c *fiber.Ctx) error {
	id, err := paymentID(c)
	if err != nil {
		return err
	}
	var req failRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	p, err := h.service.MarkFailed(c.UserContext(), id, req.Reason)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(p)
}

// Refund reverts a completed payment.
func (h *Handler) Refund(c *fiber.Ctx) error {
	id, err := paymentID(c)
	if err != nil {
		return err
	}
	p, err := h.service.Refund(c.UserContext(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(p)
}

func (h *Handler) owned(c *fiber.Ctx) (ledger.Payment, error) {
	id, err := paymentID(c)
	if err != nil {
		return ledger.Payment{}, err
	}
	p, err := h.service.Get(c.UserContext(), id)
	if err != nil {
		return ledger.Payment{}, mapError(err)
	}
	if p.UserID != middleware.UserID(c) && !middleware.IsPrivileged(c) {
		return ledger.Payment{}, fiber.NewError(http.StatusNotFound, "payment not found")
	}
	return p, nil
}

func paymentID(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, fiber.NewError(http.StatusBadRequest, "invalid payment id")
	}
	return id, nil
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return fiber.NewError(http.StatusNotFound, "payment not found")
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidCurrency),
		errors.Is(err, ErrInvalidPaymentType), errors.Is(err, ErrReservedProvider):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return fiber.NewError(http.StatusUnprocessableEntity, "insufficient funds")
	case errors.Is(err, ErrTransactionAlreadyAttached), errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ledger.ErrConflict):
		return fiber.NewError(http.StatusConflict, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
