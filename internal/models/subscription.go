package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/vistream/vistream/internal/billing"
)

const (
	SubscriptionPending   = "pending"
	SubscriptionActive    = "active"
	SubscriptionInactive  = "inactive"
	SubscriptionCancelled = "cancelled"
	SubscriptionExpired   = "expired"
)

// Subscription holds one row per purchase lifecycle. The plan fields
// are snapshotted at activation; upgrade and renewal mutate this row in
// place, so at most one row per user is ever active. LastPaymentID
// records which payment applied the latest mutation, so a replayed
// delivery of that same payment is recognizable as already applied.
type Subscription struct {
	ID               uuid.UUID          `gorm:"type:uuid;primaryKey" json:"id"`
	UserID           uuid.UUID          `gorm:"type:uuid;not null;index" json:"user_id"`
	PlanID           uuid.UUID          `gorm:"type:uuid;not null" json:"plan_id"`
	PlanName         string             `gorm:"size:100;not null" json:"plan_name"`
	PlanPrice        decimal.Decimal    `gorm:"type:numeric(12,2);not null" json:"plan_price"`
	PlanCurrency     string             `gorm:"size:3;not null;default:'EUR'" json:"plan_currency"`
	PlanPeriodUnit   billing.PeriodUnit `gorm:"size:10;not null;default:'month'" json:"plan_period_unit"`
	PlanPeriodCount  int                `gorm:"not null;default:1" json:"plan_period_count"`
	PlanPeriodLabel  string             `gorm:"size:50" json:"plan_period_label"`
	Status           string             `gorm:"size:20;not null;default:'pending';index" json:"status"`
	StartDate        *time.Time         `json:"start_date,omitempty"`
	EndDate          *time.Time         `json:"end_date,omitempty"`
	AutoRenew        bool               `gorm:"default:false" json:"auto_renew"`
	AffiliationCode  string             `gorm:"size:50;index" json:"affiliation_code,omitempty"`
	AffiliatedUserID *uuid.UUID         `gorm:"type:uuid;index" json:"affiliated_user_id,omitempty"`
	LastPaymentID    *uuid.UUID         `gorm:"type:uuid" json:"last_payment_id,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
	User             User               `gorm:"foreignKey:UserID" json:"-"`
}

func (s *Subscription) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// AppliedPayment reports whether the given payment already applied its
// mutation to this subscription.
func (s *Subscription) AppliedPayment(paymentID uuid.UUID) bool {
	return s.LastPaymentID != nil && *s.LastPaymentID == paymentID
}

// Period returns the snapshotted billing period, parsing the legacy
// label when the structured columns are empty.
func (s *Subscription) Period() billing.Period {
	if s.PlanPeriodCount > 0 && (s.PlanPeriodUnit == billing.UnitMonth || s.PlanPeriodUnit == billing.UnitYear) {
		return billing.Period{Unit: s.PlanPeriodUnit, Count: s.PlanPeriodCount}
	}
	return billing.ParsePeriodLabel(s.PlanPeriodLabel)
}

// SnapshotPlan overwrites the subscription's plan fields from the plan.
func (s *Subscription) SnapshotPlan(plan *Plan) {
	s.PlanID = plan.ID
	s.PlanName = plan.Name
	s.PlanPrice = plan.Price
	s.PlanCurrency = plan.Currency
	s.PlanPeriodUnit = plan.PeriodUnit
	s.PlanPeriodCount = plan.PeriodCount
	s.PlanPeriodLabel = plan.PeriodLabel
}
