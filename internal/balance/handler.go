package balance

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/gestion-vehicule/gestion_vehicule/internal/ledger"
	"github.com/gestion-vehicule/gestion_vehicule/internal/middleware"
)

// Handler exposes the caller's balance and ledger history.
type Handler struct {
	service *Service
}

// NewHandler constructs a balance handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Get returns every currency row of the caller's balance.
func (h *Handler) Get(c *fiber.Ctx) error {
	snap, err := h.service.Snapshot(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(snap)
}

// ListTransactions returns the caller's ledger entries, newest first.
func (h *Handler) ListTransactions(c *fiber.Ctx) error {
	page := ledger.NewPage(c.QueryInt("limit", 20), c.QueryInt("offset", 0))
	list, err := h.service.Transactions(c.UserContext(), middleware.UserID(c), page)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"items": list, "limit": page.Limit, "offset": page.Offset})
}

// GetTransaction returns one of the caller's ledger entries.
func (h *Handler) GetTransaction(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid transaction id")
	}
	tr, err := h.service.Transaction(c.UserContext(), middleware.UserID(c), id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, "transaction not found")
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(tr)
}
