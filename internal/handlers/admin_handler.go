package handlers

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/vistream/vistream/internal/dto"
	"github.com/vistream/vistream/internal/models"
	"github.com/vistream/vistream/internal/scope"
	"github.com/vistream/vistream/internal/services"
)

type AdminHandler struct {
	ledger        *services.LedgerService
	subscriptions *services.SubscriptionService
}

func NewAdminHandler(ledger *services.LedgerService, subscriptions *services.SubscriptionService) *AdminHandler {
	return &AdminHandler{ledger: ledger, subscriptions: subscriptions}
}

// ListPayments serves the back-office payment table. Visibility is
// scoped to the caller's role before any filter applies.
func (h *AdminHandler) ListPayments(c *fiber.Ctx) error {
	role := scope.GetRole(c)
	callerID, err := scope.GetUserID(c)
	if err != nil && role != models.RoleAdmin {
		// Admin-token callers carry no JWT; everyone else must.
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: true, Message: "Unauthorized",
		})
	}

	page, limit := parsePageLimit(c)
	filters := services.PaymentFilters{
		Status:   c.Query("status"),
		Provider: c.Query("provider"),
		UserID:   c.Query("userId"),
		Search:   c.Query("search"),
		From:     parseDate(c.Query("from")),
		To:       parseDate(c.Query("to")),
		Page:     page,
		Limit:    limit,
	}

	payments, total, err := h.ledger.ListPayments(c.UserContext(), role, callerID, filters)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: true, Message: "Failed to list payments",
		})
	}

	return c.JSON(dto.PaymentListResponse{
		Data:       payments,
		Pagination: dto.NewPagination(page, limit, total),
	})
}

// ListSubscriptions serves the back-office subscription table with the
// same role scoping.
func (h *AdminHandler) ListSubscriptions(c *fiber.Ctx) error {
	role := scope.GetRole(c)
	callerID, err := scope.GetUserID(c)
	if err != nil && role != models.RoleAdmin {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: true, Message: "Unauthorized",
		})
	}

	page, limit := parsePageLimit(c)
	filters := services.SubscriptionFilters{
		Status: c.Query("status"),
		UserID: c.Query("userId"),
		Search: c.Query("search"),
		From:   parseDate(c.Query("from")),
		To:     parseDate(c.Query("to")),
		Page:   page,
		Limit:  limit,
	}

	subs, total, err := h.subscriptions.ListSubscriptions(c.UserContext(), role, callerID, filters)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: true, Message: "Failed to list subscriptions",
		})
	}

	return c.JSON(dto.SubscriptionListResponse{
		Data:       subs,
		Pagination: dto.NewPagination(page, limit, total),
	})
}

func parsePageLimit(c *fiber.Ctx) (int, int) {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return &t
	}
	return nil
}
