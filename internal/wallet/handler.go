package wallet

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/gestion-vehicule/gestion_vehicule/internal/ledger"
	"github.com/gestion-vehicule/gestion_vehicule/internal/middleware"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	Network string `json:"network"`
}

type linkRequest struct {
	Network   string `json:"network"`
	Address   string `json:"address"`
	PublicKey string `json:"public_key"`
}

// Create provisions (or returns) the caller's wallet on a network.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	w, err := h.service.CreateForUser(c.UserContext(), middleware.UserID(c), req.Network)
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(w)
}

// Link registers an address the caller already owns.
func (h *Handler) Link(c *fiber.Ctx) error {
	var req linkRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	w, err := h.service.Link(c.UserContext(), LinkInput{
		UserID:    middleware.UserID(c),
		Network:   req.Network,
		Address:   req.Address,
		PublicKey: req.PublicKey,
	})
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(w)
}

// List returns the caller's wallets.
func (h *Handler) List(c *fiber.Ctx) error {
	list, err := h.service.List(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(fiber.Map{"items": list})
}

// Get returns one of the caller's wallets.
func (h *Handler) Get(c *fiber.Ctx) error {
	w, err := h.owned(c)
	if err != nil {
		return err
	}
	return c.JSON(w)
}

// Sync refreshes the external balance of one wallet.
func (h *Handler) Sync(c *fiber.Ctx) error {
	w, err := h.owned(c)
	if err != nil {
		return err
	}
	updated, err := h.service.UpdateBalance(c.UserContext(), w.ID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(updated)
}

func (h *Handler) owned(c *fiber.Ctx) (ledger.Wallet, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return ledger.Wallet{}, fiber.NewError(http.StatusBadRequest, "invalid wallet id")
	}
	w, err := h.service.Get(c.UserContext(), id)
	if err != nil {
		return ledger.Wallet{}, mapError(err)
	}
	if w.UserID != middleware.UserID(c) && !middleware.IsPrivileged(c) {
		return ledger.Wallet{}, fiber.NewError(http.StatusNotFound, "wallet not found")
	}
	return w, nil
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return fiber.NewError(http.StatusNotFound, "wallet not found")
	case errors.Is(err, ErrUnsupportedNetwork), errors.Is(err, ErrInvalidAddress):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrWalletExists), errors.Is(err, ErrInactiveWallet):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrBalanceLookupUnavailable):
		return fiber.NewError(http.StatusServiceUnavailable, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
