package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/paymentintent"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/vistream/vistream/internal/models"
)

// StripeGateway wraps the Stripe SDK. Unlike Mollie, webhook signature
// verification is unconditional: a missing secret rejects every event.
type StripeGateway struct {
	webhookSecret string
}

func NewStripeGateway(secretKey, webhookSecret string) *StripeGateway {
	stripe.Key = secretKey
	return &StripeGateway{webhookSecret: webhookSecret}
}

func (g *StripeGateway) Provider() string { return models.ProviderStripe }

func (g *StripeGateway) CreateCheckout(ctx context.Context, params CheckoutParams) (*CheckoutResult, error) {
	if stripe.Key == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoGatewayConfig, models.ProviderStripe)
	}

	metadata := make(map[string]string, len(params.Metadata))
	for k, v := range params.Metadata {
		metadata[k] = fmt.Sprint(v)
	}

	sessionParams := &stripe.CheckoutSessionParams{
		Mode:          stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:    stripe.String(params.RedirectURL + "?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:     stripe.String(params.RedirectURL),
		CustomerEmail: stripe.String(params.CustomerEmail),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(params.Currency)),
					UnitAmount: stripe.Int64(params.Amount.Shift(2).IntPart()),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(params.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: metadata,
	}
	sessionParams.Context = ctx

	sess, err := session.New(sessionParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create stripe checkout session: %w", err)
	}

	detail := map[string]any{
		"session_id":   sess.ID,
		"checkout_url": sess.URL,
	}
	if sess.PaymentIntent != nil {
		detail["payment_intent_id"] = sess.PaymentIntent.ID
	}

	result := &CheckoutResult{
		ExternalID:  sess.ID,
		CheckoutURL: sess.URL,
		Status:      models.PaymentPending,
		Detail:      detail,
	}
	if sess.ExpiresAt > 0 {
		expires := time.Unix(sess.ExpiresAt, 0)
		result.ExpiresAt = &expires
	}
	return result, nil
}

func (g *StripeGateway) FetchPayment(ctx context.Context, externalID string) (*ProviderPayment, error) {
	if strings.HasPrefix(externalID, "pi_") {
		intentParams := &stripe.PaymentIntentParams{}
		intentParams.Context = ctx
		intent, err := paymentintent.Get(externalID, intentParams)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch stripe payment intent: %w", err)
		}
		return &ProviderPayment{
			ExternalID:     intent.ID,
			Status:         NormalizeStripeIntentStatus(string(intent.Status)),
			ProviderStatus: string(intent.Status),
		}, nil
	}

	sessionParams := &stripe.CheckoutSessionParams{}
	sessionParams.Context = ctx
	sess, err := session.Get(externalID, sessionParams)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch stripe checkout session: %w", err)
	}
	return &ProviderPayment{
		ExternalID:     sess.ID,
		Status:         NormalizeStripeSessionStatus(string(sess.PaymentStatus)),
		ProviderStatus: string(sess.PaymentStatus),
	}, nil
}

func (g *StripeGateway) VerifyWebhookSignature(rawBody []byte, signatureHeader string) error {
	_, err := g.ConstructEvent(rawBody, signatureHeader)
	return err
}

// ConstructEvent verifies the stripe-signature header and decodes the
// event through the SDK.
func (g *StripeGateway) ConstructEvent(rawBody []byte, signatureHeader string) (stripe.Event, error) {
	if g.webhookSecret == "" {
		return stripe.Event{}, fmt.Errorf("%w: stripe webhook secret not configured", ErrSignature)
	}
	event, err := webhook.ConstructEvent(rawBody, signatureHeader, g.webhookSecret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrSignature, err)
	}
	return event, nil
}

// NormalizeStripeIntentStatus maps payment-intent statuses onto the
// internal enum.
func NormalizeStripeIntentStatus(status string) string {
	switch status {
	case "succeeded":
		return models.PaymentCompleted
	case "canceled":
		return models.PaymentCancelled
	case "requires_payment_method", "requires_confirmation", "requires_action", "processing", "requires_capture":
		return models.PaymentPending
	default:
		return models.PaymentPending
	}
}

// NormalizeStripeSessionStatus maps checkout-session payment statuses
// onto the internal enum.
func NormalizeStripeSessionStatus(paymentStatus string) string {
	switch paymentStatus {
	case "paid", "no_payment_required":
		return models.PaymentCompleted
	case "unpaid":
		return models.PaymentPending
	default:
		return models.PaymentPending
	}
}
