package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/vistream/vistream/internal/billing"
	"github.com/vistream/vistream/internal/config"
	"github.com/vistream/vistream/internal/dto"
	"github.com/vistream/vistream/internal/models"
)

func newTestAuthService(db *gorm.DB) *AuthService {
	cfg := &config.Config{
		JWTSecret:        "test-secret",
		JWTAccessExpiry:  15 * time.Minute,
		JWTRefreshExpiry: 168 * time.Hour,
	}
	return NewAuthService(db, cfg, NewPlanService(db), NewSubscriptionService(db))
}

func TestRegister_CreatesUserAndTokens(t *testing.T) {
	db := setupTestDB(t)
	auth := newTestAuthService(db)

	resp, err := auth.Register(&dto.RegisterRequest{
		Email:    "alice@example.com",
		Password: "correcthorse",
		Name:     "Alice",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, models.RoleCustomer, resp.User.Role)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	db := setupTestDB(t)
	auth := newTestAuthService(db)

	req := &dto.RegisterRequest{Email: "bob@example.com", Password: "correcthorse"}
	_, err := auth.Register(req)
	require.NoError(t, err)

	_, err = auth.Register(req)
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegister_ShortPasswordRejected(t *testing.T) {
	db := setupTestDB(t)
	auth := newTestAuthService(db)

	_, err := auth.Register(&dto.RegisterRequest{Email: "carol@example.com", Password: "short"})
	assert.Error(t, err)
}

func TestRegister_WithPlanCreatesPendingSubscription(t *testing.T) {
	db := setupTestDB(t)
	auth := newTestAuthService(db)
	subs := NewSubscriptionService(db)
	plan := createTestPlan(t, db, "Standard", billing.UnitMonth, 1)

	affiliateCode := "PARTNER7"
	affiliate := createTestUser(t, db, models.RoleUser)
	require.NoError(t, db.Model(affiliate).Update("affiliate_code", affiliateCode).Error)

	resp, err := auth.Register(&dto.RegisterRequest{
		Email:           "dave@example.com",
		Password:        "correcthorse",
		PlanID:          plan.ID.String(),
		AffiliationCode: affiliateCode,
	})
	require.NoError(t, err)

	sub, err := subs.LatestPendingForUser(context.Background(), resp.User.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.ID, sub.PlanID)
	assert.Equal(t, affiliateCode, sub.AffiliationCode)
	require.NotNil(t, sub.AffiliatedUserID)
	assert.Equal(t, affiliate.ID, *sub.AffiliatedUserID)
}

func TestLogin(t *testing.T) {
	db := setupTestDB(t)
	auth := newTestAuthService(db)

	_, err := auth.Register(&dto.RegisterRequest{Email: "erin@example.com", Password: "correcthorse"})
	require.NoError(t, err)

	resp, err := auth.Login(&dto.LoginRequest{Email: "erin@example.com", Password: "correcthorse"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)

	_, err = auth.Login(&dto.LoginRequest{Email: "erin@example.com", Password: "wrongpass"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = auth.Login(&dto.LoginRequest{Email: "nobody@example.com", Password: "correcthorse"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRefresh_RotatesToken(t *testing.T) {
	db := setupTestDB(t)
	auth := newTestAuthService(db)

	reg, err := auth.Register(&dto.RegisterRequest{Email: "fred@example.com", Password: "correcthorse"})
	require.NoError(t, err)

	refreshed, err := auth.Refresh(&dto.RefreshRequest{RefreshToken: reg.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, reg.RefreshToken, refreshed.RefreshToken)

	// The old token is revoked by rotation.
	_, err = auth.Refresh(&dto.RefreshRequest{RefreshToken: reg.RefreshToken})
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestLogout_RevokesRefreshToken(t *testing.T) {
	db := setupTestDB(t)
	auth := newTestAuthService(db)

	reg, err := auth.Register(&dto.RegisterRequest{Email: "grace@example.com", Password: "correcthorse"})
	require.NoError(t, err)

	require.NoError(t, auth.Logout(&dto.LogoutRequest{RefreshToken: reg.RefreshToken}))

	_, err = auth.Refresh(&dto.RefreshRequest{RefreshToken: reg.RefreshToken})
	assert.ErrorIs(t, err, ErrInvalidToken)
}
