package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/gestion-vehicule/gestion_vehicule/internal/payments"
)

// RegisterPaymentRoutes wires payment endpoints. State changes other than paying from the
// caller's own balance are restricted to privileged callers.
func RegisterPaymentRoutes(r fiber.Router, h *payments.Handler, admin fiber.Handler) {
	r.Get("/payments", h.List)
	r.Post("/payments", h.Create)
	r.Get("/payments/:id", h.Get)
	r.Post("/payments/:id/pay", h.Pay)
	r.Post("/payments/:id/attach", admin, h.Attach)
	r.Post("/payments/:id/complete", admin, h.Complete)
	r.Post("/payments/:id/fail", admin, h.Fail)
	r.Post("/payments/:id/refund", admin, h.Refund)
}
