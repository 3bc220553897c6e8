package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Roles gate back-office visibility: admin sees everything, user is an
// affiliate who only sees records of their referred customers, customer
// sees their own records.
const (
	RoleAdmin    = "admin"
	RoleUser     = "user"
	RoleCustomer = "customer"
)

type User struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Email         string         `gorm:"not null;size:255;uniqueIndex" json:"email"`
	Password      string         `gorm:"not null" json:"-"`
	Name          string         `gorm:"size:255" json:"name"`
	Role          string         `gorm:"size:20;default:'customer'" json:"role"`
	AffiliateCode *string        `gorm:"size:50;index" json:"affiliate_code,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
