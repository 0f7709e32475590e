package rewards

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/gestion-vehicule/gestion_vehicule/internal/ledger"
	"github.com/gestion-vehicule/gestion_vehicule/internal/money"
)

// Handler exposes the admin reward endpoint.
type Handler struct {
	service *Service
}

// NewHandler constructs a reward handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// GrantRequest selects one of the three reward kinds: a task code, random, or a manual amount.
type GrantRequest struct {
	UserID              string          `json:"user_id"`
	Task                string          `json:"task"`
	Random              bool            `json:"random"`
	Amount              string          `json:"amount"`
	Reason              string          `json:"reason"`
	AllowMultiplePerDay bool            `json:"allow_multiple_per_day"`
	Metadata            ledger.Metadata `json:"metadata"`
}

// Grant awards a reward. A 200 with granted=false means the daily guard or an unknown task
// suppressed it.
func (h *Handler) Grant(c *fiber.Ctx) error {
	var req GrantRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.UserID) == "" {
		return fiber.NewError(http.StatusBadRequest, "user_id is required")
	}

	ctx := c.UserContext()
	var (
		tr  *ledger.Transaction
		err error
	)
	switch {
	case req.Task != "":
		tr, err = h.service.RewardForTask(ctx, req.UserID, req.Task, TaskOptions{
			AllowMultiplePerDay: req.AllowMultiplePerDay,
			ExtraMetadata:       req.Metadata,
		})
	case req.Random:
		tr, err = h.service.RewardRandom(ctx, req.UserID, req.AllowMultiplePerDay)
	default:
		amount, parseErr := money.ParseAmount(req.Amount)
		if parseErr != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid amount")
		}
		if strings.TrimSpace(req.Reason) == "" {
			return fiber.NewError(http.StatusBadRequest, "reason is required")
		}
		tr, err = h.service.RewardManual(ctx, req.UserID, amount, req.Reason, ManualOptions{
			Source:   ledger.SourceAdmin,
			Metadata: req.Metadata,
		})
	}
	if err != nil {
		if errors.Is(err, ErrInvalidAmount) {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	if tr == nil {
		return c.JSON(fiber.Map{"granted": false})
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"granted": true, "transaction": tr})
}
