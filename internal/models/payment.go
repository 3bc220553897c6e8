package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ProviderMollie = "mollie"
	ProviderStripe = "stripe"
	ProviderPayPal = "paypal"
)

// Provider-neutral payment statuses. Transitions only move forward:
// pending → completed|failed|cancelled|expired, completed → refunded.
const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
	PaymentCancelled = "cancelled"
	PaymentExpired   = "expired"
	PaymentRefunded  = "refunded"
)

// Metadata keys carrying operation intent, written at checkout creation
// and read back by the reconciler.
const (
	OpSubscription = "subscription"
	OpUpgrade      = "subscription_upgrade"
	OpRenewal      = "subscription_renewal"
)

type Payment struct {
	ID                 uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	UserID             uuid.UUID         `gorm:"type:uuid;not null;index" json:"user_id"`
	Provider           string            `gorm:"size:20;not null;uniqueIndex:idx_payments_provider_external,where:external_payment_id <> ''" json:"provider"`
	ExternalPaymentID  string            `gorm:"size:255;uniqueIndex:idx_payments_provider_external,where:external_payment_id <> '';index" json:"external_payment_id"`
	Amount             decimal.Decimal   `gorm:"type:numeric(12,2);not null" json:"amount"`
	Currency           string            `gorm:"size:3;not null;default:'EUR'" json:"currency"`
	Description        string            `gorm:"size:255" json:"description"`
	Status             string            `gorm:"size:20;not null;default:'pending';index" json:"status"`
	Method             string            `gorm:"size:50" json:"method"`
	ProviderDetail     datatypes.JSONMap `gorm:"type:jsonb;default:'{}'" json:"provider_detail"`
	Metadata           datatypes.JSONMap `gorm:"type:jsonb;default:'{}'" json:"metadata"`
	IsProcessed        bool              `gorm:"not null;default:false;index" json:"is_processed"`
	WebhookAttempts    int               `gorm:"not null;default:0" json:"webhook_attempts"`
	PaidAt             *time.Time        `json:"paid_at,omitempty"`
	ExpiresAt          *time.Time        `json:"expires_at,omitempty"`
	WebhookProcessedAt *time.Time        `json:"webhook_processed_at,omitempty"`
	ProcessedAt        *time.Time        `json:"processed_at,omitempty"`
	CreatedAt          time.Time         `gorm:"index" json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
	User               User              `gorm:"foreignKey:UserID" json:"-"`
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// PaymentStatusHistory records one row per actual status change, so
// replayed webhooks that carry no new state leave no trace here.
type PaymentStatusHistory struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	PaymentID  uuid.UUID `gorm:"type:uuid;not null;index" json:"payment_id"`
	FromStatus string    `gorm:"size:20;not null" json:"from_status"`
	ToStatus   string    `gorm:"size:20;not null" json:"to_status"`
	CreatedAt  time.Time `json:"created_at"`
}

func (h *PaymentStatusHistory) BeforeCreate(tx *gorm.DB) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	return nil
}

// MetaString reads a string value from the metadata map; numbers stored
// by JSON round-trips are not coerced.
func (p *Payment) MetaString(key string) string {
	if p.Metadata == nil {
		return ""
	}
	if v, ok := p.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// DetailString reads a string value from the provider sub-document.
func (p *Payment) DetailString(key string) string {
	if p.ProviderDetail == nil {
		return ""
	}
	if v, ok := p.ProviderDetail[key].(string); ok {
		return v
	}
	return ""
}
