// Package gateway presents one contract regardless of payment provider.
// Adapters only talk to the provider; they never touch the payment
// ledger.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vistream/vistream/internal/models"
)

var (
	// ErrNoGatewayConfig means no active configuration exists for the
	// requested provider.
	ErrNoGatewayConfig = errors.New("no active gateway configuration for provider")
	// ErrSignature means a webhook signature did not verify.
	ErrSignature = errors.New("webhook signature verification failed")
)

// CheckoutParams describes one checkout to create with a provider.
type CheckoutParams struct {
	Amount        decimal.Decimal
	Currency      string
	Description   string
	CustomerEmail string
	CustomerName  string
	Metadata      map[string]any
	RedirectURL   string
	WebhookURL    string
}

// CheckoutResult is the provider-neutral outcome of checkout creation.
type CheckoutResult struct {
	ExternalID   string
	CheckoutURL  string
	ClientSecret string
	Status       string
	ExpiresAt    *time.Time
	Detail       map[string]any
}

// ProviderPayment is the normalized view of a payment fetched back from
// a provider.
type ProviderPayment struct {
	ExternalID     string
	Status         string
	ProviderStatus string
	Method         string
	PaidAt         *time.Time
}

type Gateway interface {
	Provider() string
	CreateCheckout(ctx context.Context, params CheckoutParams) (*CheckoutResult, error)
	FetchPayment(ctx context.Context, externalID string) (*ProviderPayment, error)
	VerifyWebhookSignature(rawBody []byte, signatureHeader string) error
}

// Registry resolves gateways by provider name.
type Registry struct {
	gateways map[string]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway, len(gateways))}
	for _, g := range gateways {
		r.gateways[g.Provider()] = g
	}
	return r
}

func (r *Registry) Get(provider string) (Gateway, error) {
	if provider == "" {
		provider = models.ProviderMollie
	}
	g, ok := r.gateways[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoGatewayConfig, provider)
	}
	return g, nil
}
