package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/gestion-vehicule/gestion_vehicule/internal/wallet"
)

// RegisterWalletRoutes wires wallet-related endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Get("/wallets", h.List)
	r.Post("/wallets", h.Create)
	r.Post("/wallets/link", h.Link)
	r.Get("/wallets/:id", h.Get)
	r.Post("/wallets/:id/sync", h.Sync)
}
