package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/vistream/vistream/internal/models"
)

const mollieAPIBase = "https://api.mollie.com"

// MollieGateway talks to the Mollie v2 payments API. When no webhook
// secret is configured the gateway runs in unverified mode: inbound
// webhook signatures are not checked. This is logged at construction so
// operators see the hardening gap instead of a silent fallback.
type MollieGateway struct {
	apiKey        string
	webhookSecret string
	baseURL       string
	httpClient    *http.Client
}

func NewMollieGateway(apiKey, webhookSecret string) *MollieGateway {
	if webhookSecret == "" {
		slog.Warn("mollie gateway running in unverified webhook mode", "provider", models.ProviderMollie)
	}
	return &MollieGateway{
		apiKey:        apiKey,
		webhookSecret: webhookSecret,
		baseURL:       mollieAPIBase,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (g *MollieGateway) Provider() string { return models.ProviderMollie }

// Verified reports whether webhook signatures will be checked.
func (g *MollieGateway) Verified() bool { return g.webhookSecret != "" }

type mollieAmount struct {
	Currency string `json:"currency"`
	Value    string `json:"value"`
}

type mollieCreateRequest struct {
	Amount      mollieAmount   `json:"amount"`
	Description string         `json:"description"`
	RedirectURL string         `json:"redirectUrl"`
	WebhookURL  string         `json:"webhookUrl,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type molliePayment struct {
	ID          string         `json:"id"`
	Status      string         `json:"status"`
	Method      string         `json:"method"`
	Amount      mollieAmount   `json:"amount"`
	Description string         `json:"description"`
	PaidAt      *time.Time     `json:"paidAt"`
	ExpiresAt   *time.Time     `json:"expiresAt"`
	Metadata    map[string]any `json:"metadata"`
	Links       struct {
		Checkout struct {
			Href string `json:"href"`
		} `json:"checkout"`
	} `json:"_links"`
}

func (g *MollieGateway) CreateCheckout(ctx context.Context, params CheckoutParams) (*CheckoutResult, error) {
	if g.apiKey == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoGatewayConfig, models.ProviderMollie)
	}

	body := mollieCreateRequest{
		Amount: mollieAmount{
			Currency: params.Currency,
			Value:    params.Amount.StringFixed(2),
		},
		Description: params.Description,
		RedirectURL: params.RedirectURL,
		WebhookURL:  params.WebhookURL,
		Metadata:    params.Metadata,
	}

	var payment molliePayment
	if err := g.do(ctx, http.MethodPost, "/v2/payments", body, &payment); err != nil {
		return nil, err
	}

	return &CheckoutResult{
		ExternalID:  payment.ID,
		CheckoutURL: payment.Links.Checkout.Href,
		Status:      NormalizeMollieStatus(payment.Status),
		ExpiresAt:   payment.ExpiresAt,
		Detail: map[string]any{
			"checkout_url": payment.Links.Checkout.Href,
		},
	}, nil
}

// FetchPayment re-reads the full payment from Mollie. Webhook bodies
// only carry an id, so this is the authoritative state after delivery.
func (g *MollieGateway) FetchPayment(ctx context.Context, externalID string) (*ProviderPayment, error) {
	var payment molliePayment
	if err := g.do(ctx, http.MethodGet, "/v2/payments/"+externalID, nil, &payment); err != nil {
		return nil, err
	}

	return &ProviderPayment{
		ExternalID:     payment.ID,
		Status:         NormalizeMollieStatus(payment.Status),
		ProviderStatus: payment.Status,
		Method:         payment.Method,
		PaidAt:         payment.PaidAt,
	}, nil
}

// VerifyWebhookSignature checks the HMAC-SHA256 of the raw body against
// the mollie-signature header. A missing configured secret skips the
// check (unverified mode).
func (g *MollieGateway) VerifyWebhookSignature(rawBody []byte, signatureHeader string) error {
	if g.webhookSecret == "" {
		return nil
	}

	mac := hmac.New(sha256.New, []byte(g.webhookSecret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signatureHeader)) {
		return ErrSignature
	}
	return nil
}

func (g *MollieGateway) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal mollie request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build mollie request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mollie request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read mollie response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Status int    `json:"status"`
			Title  string `json:"title"`
			Detail string `json:"detail"`
		}
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Detail != "" {
			return fmt.Errorf("mollie API error (%d): %s", resp.StatusCode, apiErr.Detail)
		}
		return fmt.Errorf("mollie API error (%d)", resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode mollie response: %w", err)
		}
	}
	return nil
}

// NormalizeMollieStatus maps a Mollie payment status onto the internal
// provider-neutral enum.
func NormalizeMollieStatus(status string) string {
	switch status {
	case "open", "authorized":
		return models.PaymentPending
	case "paid":
		return models.PaymentCompleted
	case "failed":
		return models.PaymentFailed
	case "canceled":
		return models.PaymentCancelled
	case "expired":
		return models.PaymentExpired
	default:
		return models.PaymentPending
	}
}
