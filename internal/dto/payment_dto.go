package dto

import (
	"time"

	"github.com/google/uuid"
)

type CreatePaymentRequest struct {
	Amount        string         `json:"amount"`
	Currency      string         `json:"currency"`
	Description   string         `json:"description"`
	CustomerEmail string         `json:"customerEmail"`
	CustomerName  string         `json:"customerName"`
	Provider      string         `json:"provider,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

type CreatedPayment struct {
	ID          string         `json:"id"`
	Provider    string         `json:"provider"`
	Status      string         `json:"status"`
	Amount      string         `json:"amount"`
	Currency    string         `json:"currency"`
	CheckoutURL string         `json:"checkoutUrl,omitempty"`
	ExpiresAt   *time.Time     `json:"expiresAt,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	DatabaseID  uuid.UUID      `json:"databaseId"`
}

type CreatePaymentResponse struct {
	Success bool           `json:"success"`
	Payment CreatedPayment `json:"payment"`
}

type CompletePaymentRequest struct {
	PaymentID   string `json:"paymentId"`
	SessionType string `json:"sessionType,omitempty"`
	Provider    string `json:"provider,omitempty"`
}

type CompletePaymentResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	Subscription any    `json:"subscription,omitempty"`
}
