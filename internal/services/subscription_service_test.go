package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vistream/vistream/internal/billing"
	"github.com/vistream/vistream/internal/models"
)

func TestCreatePending_SnapshotsPlan(t *testing.T) {
	db := setupTestDB(t)
	subs := NewSubscriptionService(db)
	ctx := context.Background()

	user := createTestUser(t, db, models.RoleCustomer)
	plan := createTestPlan(t, db, "Pro Annuel", billing.UnitYear, 1)

	sub, err := subs.CreatePending(ctx, user.ID, plan, "CODE42", nil)
	require.NoError(t, err)

	assert.Equal(t, models.SubscriptionPending, sub.Status)
	assert.Equal(t, plan.ID, sub.PlanID)
	assert.Equal(t, "Pro Annuel", sub.PlanName)
	assert.True(t, plan.Price.Equal(sub.PlanPrice))
	assert.Equal(t, billing.UnitYear, sub.PlanPeriodUnit)
	assert.Equal(t, "CODE42", sub.AffiliationCode)
	assert.Nil(t, sub.StartDate)
	assert.Nil(t, sub.EndDate)
}

func TestCreatePending_SurvivesPlanEdits(t *testing.T) {
	db := setupTestDB(t)
	subs := NewSubscriptionService(db)
	ctx := context.Background()

	user := createTestUser(t, db, models.RoleCustomer)
	plan := createTestPlan(t, db, "Standard", billing.UnitMonth, 1)

	sub, err := subs.CreatePending(ctx, user.ID, plan, "", nil)
	require.NoError(t, err)

	require.NoError(t, db.Model(plan).Updates(map[string]any{"name": "Standard v2", "price": "49.00"}).Error)

	got, err := subs.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "Standard", got.PlanName)
	assert.Equal(t, "19.90", got.PlanPrice.StringFixed(2))
}

func TestActiveForUser(t *testing.T) {
	db := setupTestDB(t)
	subs := NewSubscriptionService(db)
	ctx := context.Background()

	user := createTestUser(t, db, models.RoleCustomer)
	plan := createTestPlan(t, db, "Standard", billing.UnitMonth, 1)

	_, err := subs.ActiveForUser(ctx, user.ID)
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)

	sub, err := subs.CreatePending(ctx, user.ID, plan, "", nil)
	require.NoError(t, err)

	_, err = subs.ActiveForUser(ctx, user.ID)
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)

	sub.Status = models.SubscriptionActive
	require.NoError(t, subs.Save(ctx, sub))

	active, err := subs.ActiveForUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, active.ID)
}

func TestListSubscriptions_ScopesToRole(t *testing.T) {
	db := setupTestDB(t)
	subs := NewSubscriptionService(db)
	ctx := context.Background()

	admin := createTestUser(t, db, models.RoleAdmin)
	affiliate := createTestUser(t, db, models.RoleUser)
	customerA := createTestUser(t, db, models.RoleCustomer)
	customerB := createTestUser(t, db, models.RoleCustomer)

	plan := createTestPlan(t, db, "Standard", billing.UnitMonth, 1)
	_, err := subs.CreatePending(ctx, customerA.ID, plan, "AFF1", &affiliate.ID)
	require.NoError(t, err)
	_, err = subs.CreatePending(ctx, customerB.ID, plan, "", nil)
	require.NoError(t, err)

	filters := SubscriptionFilters{Page: 1, Limit: 20}

	all, total, err := subs.ListSubscriptions(ctx, models.RoleAdmin, admin.ID, filters)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, all, 2)

	affiliated, total, err := subs.ListSubscriptions(ctx, models.RoleUser, affiliate.ID, filters)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, affiliated, 1)
	assert.Equal(t, customerA.ID, affiliated[0].UserID)

	own, total, err := subs.ListSubscriptions(ctx, models.RoleCustomer, customerB.ID, filters)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, own, 1)
	assert.Equal(t, customerB.ID, own[0].UserID)
}

func TestListSubscriptions_StatusFilterAndPagination(t *testing.T) {
	db := setupTestDB(t)
	subs := NewSubscriptionService(db)
	ctx := context.Background()

	admin := createTestUser(t, db, models.RoleAdmin)
	plan := createTestPlan(t, db, "Standard", billing.UnitMonth, 1)

	for i := 0; i < 3; i++ {
		user := createTestUser(t, db, models.RoleCustomer)
		sub, err := subs.CreatePending(ctx, user.ID, plan, "", nil)
		require.NoError(t, err)
		if i == 0 {
			sub.Status = models.SubscriptionActive
			require.NoError(t, subs.Save(ctx, sub))
		}
	}

	active, total, err := subs.ListSubscriptions(ctx, models.RoleAdmin, admin.ID, SubscriptionFilters{Status: models.SubscriptionActive, Page: 1, Limit: 20})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, active, 1)

	page, total, err := subs.ListSubscriptions(ctx, models.RoleAdmin, admin.ID, SubscriptionFilters{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, page, 2)
}
