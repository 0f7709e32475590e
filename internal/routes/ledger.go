package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/gestion-vehicule/gestion_vehicule/internal/balance"
	"github.com/gestion-vehicule/gestion_vehicule/internal/rewards"
	"github.com/gestion-vehicule/gestion_vehicule/internal/transfers"
)

// RegisterBalanceRoutes exposes the caller's balance and ledger history.
func RegisterBalanceRoutes(r fiber.Router, h *balance.Handler) {
	r.Get("/balance", h.Get)
	r.Get("/transactions", h.ListTransactions)
	r.Get("/transactions/:id", h.GetTransaction)
}

// RegisterTransferRoutes wires peer transfers behind a per-user rate limit.
func RegisterTransferRoutes(r fiber.Router, h *transfers.Handler, limit fiber.Handler) {
	r.Get("/transfers", h.List)
	r.Post("/transfers", limit, h.Create)
}

// RegisterRewardRoutes wires the admin reward grant.
func RegisterRewardRoutes(r fiber.Router, h *rewards.Handler, admin fiber.Handler) {
	r.Post("/rewards", admin, h.Grant)
}
