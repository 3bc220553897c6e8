package handlers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/vistream/vistream/internal/config"
	"github.com/vistream/vistream/internal/dto"
	"github.com/vistream/vistream/internal/gateway"
	"github.com/vistream/vistream/internal/models"
	"github.com/vistream/vistream/internal/scope"
	"github.com/vistream/vistream/internal/services"
)

const (
	completeAttempts = 10
	completeBackoff  = 2 * time.Second
	completeDeadline = 45 * time.Second
)

type PaymentHandler struct {
	cfg        *config.Config
	ledger     *services.LedgerService
	gateways   *gateway.Registry
	reconciler completer
}

func NewPaymentHandler(cfg *config.Config, ledger *services.LedgerService, gateways *gateway.Registry, reconciler completer) *PaymentHandler {
	return &PaymentHandler{
		cfg:        cfg,
		ledger:     ledger,
		gateways:   gateways,
		reconciler: reconciler,
	}
}

// Create initiates a checkout with the requested provider, reusing an
// identical pending payment created within the last five minutes
// instead of opening a second one.
func (h *PaymentHandler) Create(c *fiber.Ctx) error {
	userID, err := scope.GetUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: true, Message: "Unauthorized",
		})
	}

	var req dto.CreatePaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid request body",
		})
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.LessThanOrEqual(decimal.Zero) {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Montant invalide",
		})
	}
	if req.Currency == "" {
		req.Currency = "EUR"
	}

	gw, err := h.gateways.Get(req.Provider)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Moyen de paiement indisponible",
		})
	}

	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	if _, ok := metadata["type"]; !ok {
		metadata["type"] = models.OpSubscription
	}

	payment, reused, err := h.ledger.CreateOrReuse(c.UserContext(), userID, gw.Provider(), amount, req.Currency, req.Description, metadata)
	if err != nil {
		slog.Error("payment creation failed", "user_id", userID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: true, Message: "Échec de la création du paiement",
		})
	}

	if reused && payment.DetailString("checkout_url") != "" {
		return c.JSON(h.createdResponse(payment))
	}

	result, err := gw.CreateCheckout(c.UserContext(), gateway.CheckoutParams{
		Amount:        amount,
		Currency:      req.Currency,
		Description:   req.Description,
		CustomerEmail: req.CustomerEmail,
		CustomerName:  req.CustomerName,
		Metadata:      metadata,
		RedirectURL:   h.cfg.PublicBaseURL + "/paiement/retour",
		WebhookURL:    h.cfg.PublicBaseURL + "/api/webhooks/" + gw.Provider(),
	})
	if err != nil {
		slog.Error("checkout creation failed", "user_id", userID, "provider", gw.Provider(), "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{
			Error: true, Message: "Le prestataire de paiement a refusé la demande",
		})
	}

	if err := h.ledger.AttachCheckout(c.UserContext(), payment, result); err != nil {
		slog.Error("failed to persist checkout result", "payment_id", payment.ID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: true, Message: "Échec de la création du paiement",
		})
	}

	refreshed, err := h.ledger.GetByID(c.UserContext(), payment.ID)
	if err != nil {
		refreshed = payment
	}
	return c.JSON(h.createdResponse(refreshed))
}

func (h *PaymentHandler) createdResponse(payment *models.Payment) dto.CreatePaymentResponse {
	return dto.CreatePaymentResponse{
		Success: true,
		Payment: dto.CreatedPayment{
			ID:          payment.ExternalPaymentID,
			Provider:    payment.Provider,
			Status:      payment.Status,
			Amount:      payment.Amount.StringFixed(2),
			Currency:    payment.Currency,
			CheckoutURL: payment.DetailString("checkout_url"),
			ExpiresAt:   payment.ExpiresAt,
			Metadata:    payment.Metadata,
			DatabaseID:  payment.ID,
		},
	}
}

// Complete is the synchronous fallback invoked by the browser after the
// provider redirect. It funnels into the same reconciliation entry
// point as the webhooks, retrying with backoff while the webhook has
// not landed. A timeout is never treated as a failed payment, only as
// "not confirmed yet".
func (h *PaymentHandler) Complete(c *fiber.Ctx) error {
	userID, err := scope.GetUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: true, Message: "Unauthorized",
		})
	}

	var req dto.CompletePaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid request body",
		})
	}

	identifier := req.PaymentID
	if identifier == "" {
		latest, err := h.ledger.LatestForUser(c.UserContext(), userID)
		if err != nil {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
				Error: true, Message: "Aucun paiement à finaliser",
			})
		}
		identifier = latest.ExternalPaymentID
		if identifier == "" {
			identifier = latest.ID.String()
		}
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), completeDeadline)
	defer cancel()

	var sub *models.Subscription
	for attempt := 1; attempt <= completeAttempts; attempt++ {
		sub, err = h.reconciler.Complete(ctx, identifier, req.SessionType)
		if err == nil {
			return c.JSON(dto.CompletePaymentResponse{
				Success:      true,
				Message:      "Paiement confirmé, votre abonnement est actif",
				Subscription: sub,
			})
		}
		if !errors.Is(err, services.ErrPaymentNotReady) {
			break
		}

		select {
		case <-ctx.Done():
			err = services.ErrPaymentNotReady
		case <-time.After(completeBackoff):
			continue
		}
		break
	}

	switch {
	case errors.Is(err, services.ErrPaymentNotReady), errors.Is(err, context.DeadlineExceeded):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Le paiement est en cours de confirmation, veuillez patienter quelques instants",
		})
	case errors.Is(err, services.ErrPaymentNotCompleted):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Le paiement n'a pas abouti",
		})
	case errors.Is(err, services.ErrPaymentNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
			Error: true, Message: "Paiement introuvable",
		})
	case errors.Is(err, services.ErrPlanNotFound), errors.Is(err, services.ErrSubscriptionNotFound), errors.Is(err, services.ErrUnsupportedType):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Impossible de finaliser l'abonnement: " + err.Error(),
		})
	default:
		slog.Error("payment completion failed", "identifier", identifier, "user_id", userID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: true, Message: "Une erreur est survenue, veuillez réessayer",
		})
	}
}
