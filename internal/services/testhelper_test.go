package services

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vistream/vistream/internal/billing"
	"github.com/vistream/vistream/internal/models"
)

// setupTestDB opens an isolated in-memory database per test. The single
// connection keeps concurrent writers serialized the way the production
// database would with row locks.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.RefreshToken{},
		&models.Plan{},
		&models.Payment{},
		&models.PaymentStatusHistory{},
		&models.Subscription{},
		&models.SystemLog{},
	))

	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func createTestUser(t *testing.T, db *gorm.DB, role string) *models.User {
	t.Helper()
	user := models.User{
		ID:       uuid.New(),
		Email:    uuid.NewString() + "@example.com",
		Password: "hashed",
		Role:     role,
	}
	require.NoError(t, db.Create(&user).Error)
	return &user
}

func createTestPlan(t *testing.T, db *gorm.DB, name string, unit billing.PeriodUnit, count int) *models.Plan {
	t.Helper()
	plan := models.Plan{
		ID:          uuid.New(),
		Name:        name,
		Price:       decimal.RequireFromString("19.90"),
		Currency:    "EUR",
		PeriodUnit:  unit,
		PeriodCount: count,
		Active:      true,
	}
	require.NoError(t, db.Create(&plan).Error)
	return &plan
}
