// Package scope applies caller-role visibility to Payment and
// Subscription reads. Every back-office query goes through one of these
// scopes rather than branching per endpoint.
package scope

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vistream/vistream/internal/models"
)

// SubscriptionsToCaller restricts subscription reads: admins see all,
// affiliates see subscriptions referred by them, customers see their own.
func SubscriptionsToCaller(role string, callerID uuid.UUID) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		switch role {
		case models.RoleAdmin:
			return db
		case models.RoleUser:
			return db.Where("affiliated_user_id = ?", callerID)
		default:
			return db.Where("user_id = ?", callerID)
		}
	}
}

// PaymentsToCaller restricts payment reads the same way; affiliate
// visibility goes through the subscriptions they referred.
func PaymentsToCaller(role string, callerID uuid.UUID) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		switch role {
		case models.RoleAdmin:
			return db
		case models.RoleUser:
			return db.Where("user_id IN (?)",
				db.Session(&gorm.Session{NewDB: true}).
					Model(&models.Subscription{}).
					Select("user_id").
					Where("affiliated_user_id = ?", callerID))
		default:
			return db.Where("user_id = ?", callerID)
		}
	}
}

// GetUserID extracts the user UUID from JWT claims in context.
func GetUserID(c *fiber.Ctx) (uuid.UUID, error) {
	token, ok := c.Locals("user").(*jwt.Token)
	if !ok {
		return uuid.Nil, errors.New("invalid token in context")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, errors.New("invalid claims")
	}

	sub, ok := claims["sub"].(string)
	if !ok {
		return uuid.Nil, errors.New("missing sub claim")
	}

	return uuid.Parse(sub)
}

// GetRole reads the role resolved by the back-office middleware.
func GetRole(c *fiber.Ctx) string {
	if role, ok := c.Locals("role").(string); ok {
		return role
	}
	return models.RoleCustomer
}
