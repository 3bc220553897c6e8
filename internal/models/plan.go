package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/vistream/vistream/internal/billing"
)

// Plan is a purchasable offer. Subscriptions snapshot the plan fields at
// purchase time, so edits here never retroactively change an existing
// subscription.
type Plan struct {
	ID          uuid.UUID          `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string             `gorm:"not null;size:100;uniqueIndex" json:"name"`
	Price       decimal.Decimal    `gorm:"type:numeric(12,2);not null" json:"price"`
	Currency    string             `gorm:"size:3;not null;default:'EUR'" json:"currency"`
	PeriodUnit  billing.PeriodUnit `gorm:"size:10;not null;default:'month'" json:"period_unit"`
	PeriodCount int                `gorm:"not null;default:1" json:"period_count"`
	PeriodLabel string             `gorm:"size:50" json:"period_label"`
	Features    datatypes.JSON     `gorm:"type:jsonb;default:'[]'" json:"features"`
	Active      bool               `gorm:"default:true;index" json:"active"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

func (p *Plan) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// Period returns the structured billing period, falling back to the
// legacy label parser for rows migrated before the structured columns
// existed.
func (p *Plan) Period() billing.Period {
	if p.PeriodCount > 0 && (p.PeriodUnit == billing.UnitMonth || p.PeriodUnit == billing.UnitYear) {
		return billing.Period{Unit: p.PeriodUnit, Count: p.PeriodCount}
	}
	return billing.ParsePeriodLabel(p.PeriodLabel)
}
