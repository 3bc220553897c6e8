package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/vistream/vistream/internal/dto"
	"github.com/vistream/vistream/internal/services"
)

type PlanHandler struct {
	plans *services.PlanService
}

func NewPlanHandler(plans *services.PlanService) *PlanHandler {
	return &PlanHandler{plans: plans}
}

// List returns the active plan catalog, cheapest first.
func (h *PlanHandler) List(c *fiber.Ctx) error {
	plans, err := h.plans.List(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error:   true,
			Message: "Failed to list plans",
		})
	}
	return c.JSON(fiber.Map{"plans": plans})
}
