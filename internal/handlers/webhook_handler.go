package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stripe/stripe-go/v79"

	"github.com/vistream/vistream/internal/dto"
	"github.com/vistream/vistream/internal/gateway"
	"github.com/vistream/vistream/internal/models"
	"github.com/vistream/vistream/internal/services"
)

// mollieGateway is what the Mollie receiver needs: webhook bodies only
// carry an id, so the authoritative state is fetched back from the API.
type mollieGateway interface {
	VerifyWebhookSignature(rawBody []byte, signatureHeader string) error
	FetchPayment(ctx context.Context, externalID string) (*gateway.ProviderPayment, error)
}

// stripeGateway verifies and decodes inbound Stripe events.
type stripeGateway interface {
	ConstructEvent(rawBody []byte, signatureHeader string) (stripe.Event, error)
}

type completer interface {
	Complete(ctx context.Context, identifier, fallbackType string) (*models.Subscription, error)
}

type WebhookHandler struct {
	ledger     *services.LedgerService
	reconciler completer
	mollie     mollieGateway
	stripe     stripeGateway
}

func NewWebhookHandler(ledger *services.LedgerService, reconciler completer, mollie mollieGateway, stripe stripeGateway) *WebhookHandler {
	return &WebhookHandler{
		ledger:     ledger,
		reconciler: reconciler,
		mollie:     mollie,
		stripe:     stripe,
	}
}

// HandleMollie processes Mollie's thin webhooks. Signature verification
// only runs when a secret is configured; `event_` ids are test pings
// acked without processing; real payment ids must carry the `tr_`
// prefix.
func (h *WebhookHandler) HandleMollie(c *fiber.Ctx) error {
	if h.mollie == nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
			Error: true, Message: "Provider not configured",
		})
	}

	raw := c.Body()

	if err := h.mollie.VerifyWebhookSignature(raw, c.Get("mollie-signature")); err != nil {
		slog.Warn("mollie webhook signature rejected", "error", err)
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid webhook signature",
		})
	}

	paymentID := extractMollieID(c, raw)
	if paymentID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Missing payment id",
		})
	}

	if strings.HasPrefix(paymentID, "event_") {
		// Test ping from the dashboard; nothing to process.
		return c.JSON(fiber.Map{"received": true})
	}

	if !strings.HasPrefix(paymentID, "tr_") {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid payment id format",
		})
	}

	// Processing runs on the user context, not the request context: a
	// provider closing the connection must not abort a half-applied
	// ledger update or reconciliation.
	ctx := c.UserContext()

	detail, err := h.mollie.FetchPayment(ctx, paymentID)
	if err != nil {
		slog.Error("mollie payment fetch failed", "payment_id", paymentID, "error", err)
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
			Error: true, Message: "Payment not found at provider",
		})
	}

	if _, err := h.ledger.RecordWebhookUpdate(ctx, models.ProviderMollie, paymentID, detail.Status, detail.PaidAt, detail.Method); err != nil {
		slog.Error("mollie webhook ledger update failed", "payment_id", paymentID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: true, Message: "Failed to record payment update",
		})
	}

	if detail.Status == models.PaymentCompleted {
		if err := h.reconcile(ctx, paymentID); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
				Error: true, Message: "Failed to process payment",
			})
		}
	}

	return c.JSON(fiber.Map{"received": true})
}

// HandleStripe requires a valid stripe-signature on every event; a
// missing configured secret rejects rather than skips. Event types the
// receiver does not act on are acked with 200 so Stripe stops
// redelivering them.
func (h *WebhookHandler) HandleStripe(c *fiber.Ctx) error {
	if h.stripe == nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
			Error: true, Message: "Provider not configured",
		})
	}

	event, err := h.stripe.ConstructEvent(c.Body(), c.Get("stripe-signature"))
	if err != nil {
		slog.Warn("stripe webhook signature rejected", "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid webhook signature",
		})
	}

	switch string(event.Type) {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
				Error: true, Message: "Malformed event payload",
			})
		}
		status := gateway.NormalizeStripeSessionStatus(string(sess.PaymentStatus))
		return h.applyStripeUpdate(c, sess.ID, status, nil)

	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
				Error: true, Message: "Malformed event payload",
			})
		}
		status := gateway.NormalizeStripeIntentStatus(string(intent.Status))
		if string(event.Type) == "payment_intent.payment_failed" {
			status = models.PaymentFailed
		}
		return h.applyStripeUpdate(c, h.resolveStripeIdentifier(c.UserContext(), "payment_intent_id", intent.ID), status, nil)

	case "invoice.payment_succeeded", "invoice.payment_failed":
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
				Error: true, Message: "Malformed event payload",
			})
		}
		status := models.PaymentCompleted
		if string(event.Type) == "invoice.payment_failed" {
			status = models.PaymentFailed
		}
		return h.applyStripeUpdate(c, h.resolveStripeIdentifier(c.UserContext(), "invoice_id", invoice.ID), status, nil)

	default:
		// Subscription lifecycle and other informational events.
		return c.JSON(fiber.Map{"received": true})
	}
}

// resolveStripeIdentifier prefers the external id of a payment already
// matched by a provider sub-identifier, so intent and invoice events
// update the same ledger row the checkout created.
func (h *WebhookHandler) resolveStripeIdentifier(ctx context.Context, key, value string) string {
	if payment, err := h.ledger.FindBySubIdentifier(ctx, key, value); err == nil && payment.ExternalPaymentID != "" {
		return payment.ExternalPaymentID
	}
	return value
}

func (h *WebhookHandler) applyStripeUpdate(c *fiber.Ctx, externalID, status string, paidAt *time.Time) error {
	if externalID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Missing payment identifier",
		})
	}

	// Same as the Mollie path: never cancel mid-processing because the
	// caller went away.
	ctx := c.UserContext()

	if _, err := h.ledger.RecordWebhookUpdate(ctx, models.ProviderStripe, externalID, status, paidAt, ""); err != nil {
		slog.Error("stripe webhook ledger update failed", "external_id", externalID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: true, Message: "Failed to record payment update",
		})
	}

	if status == models.PaymentCompleted {
		if err := h.reconcile(ctx, externalID); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
				Error: true, Message: "Failed to process payment",
			})
		}
	}

	return c.JSON(fiber.Map{"received": true})
}

// reconcile runs the state machine for a completed payment. Replayed
// events land on the is_processed short-circuit inside the reconciler,
// so they are not errors here.
func (h *WebhookHandler) reconcile(ctx context.Context, identifier string) error {
	_, err := h.reconciler.Complete(ctx, identifier, "")
	if err == nil {
		return nil
	}
	if errors.Is(err, services.ErrPaymentNotReady) {
		// The ledger update and this call race with redelivery; the
		// provider will retry.
		slog.Warn("payment not ready during webhook reconcile", "identifier", identifier)
		return nil
	}
	if errors.Is(err, services.ErrPlanNotFound) ||
		errors.Is(err, services.ErrSubscriptionNotFound) ||
		errors.Is(err, services.ErrUnsupportedType) {
		// Terminal: redelivering the same event can never succeed, so
		// ack it and leave the failure in the logs for an operator.
		slog.Error("webhook reconcile failed terminally", "identifier", identifier, "error", err)
		return nil
	}
	slog.Error("webhook reconcile failed", "identifier", identifier, "error", err)
	return err
}

// extractMollieID reads the payment id from a JSON or form-encoded
// body.
func extractMollieID(c *fiber.Ctx, raw []byte) string {
	var body dto.MollieWebhookBody
	if err := c.BodyParser(&body); err == nil && body.ID != "" {
		return body.ID
	}

	if values, err := url.ParseQuery(string(raw)); err == nil {
		return values.Get("id")
	}
	return ""
}
