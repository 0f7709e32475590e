package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/gestion-vehicule/gestion_vehicule/internal/funding"
)

// RegisterFundingRoutes wires balance top-up endpoints.
func RegisterFundingRoutes(r fiber.Router, h *funding.Handler, admin fiber.Handler) {
	r.Get("/recharges", h.List)
	r.Post("/recharges", h.Create)
	r.Post("/recharges/:id/complete", admin, h.Complete)
	r.Post("/recharges/:id/fail", admin, h.Fail)
}
