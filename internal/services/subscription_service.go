package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vistream/vistream/internal/models"
	"github.com/vistream/vistream/internal/scope"
)

var ErrSubscriptionNotFound = errors.New("subscription not found")

type SubscriptionService struct {
	db *gorm.DB
}

func NewSubscriptionService(db *gorm.DB) *SubscriptionService {
	return &SubscriptionService{db: db}
}

// CreatePending records the subscription a user signed up for before any
// payment exists. Activation happens in the reconciler.
func (s *SubscriptionService) CreatePending(ctx context.Context, userID uuid.UUID, plan *models.Plan, affiliationCode string, affiliatedUserID *uuid.UUID) (*models.Subscription, error) {
	sub := models.Subscription{
		ID:               uuid.New(),
		UserID:           userID,
		Status:           models.SubscriptionPending,
		AffiliationCode:  affiliationCode,
		AffiliatedUserID: affiliatedUserID,
	}
	sub.SnapshotPlan(plan)

	if err := s.db.WithContext(ctx).Create(&sub).Error; err != nil {
		return nil, fmt.Errorf("failed to create pending subscription: %w", err)
	}
	return &sub, nil
}

func (s *SubscriptionService) GetByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.db.WithContext(ctx).First(&sub, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// ActiveForUser returns the user's active subscription, if any.
func (s *SubscriptionService) ActiveForUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.SubscriptionActive).
		Order("updated_at DESC").
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// LatestPendingForUser returns the most recent pending subscription.
func (s *SubscriptionService) LatestPendingForUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.SubscriptionPending).
		Order("created_at DESC").
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *SubscriptionService) Save(ctx context.Context, sub *models.Subscription) error {
	if err := s.db.WithContext(ctx).Save(sub).Error; err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	return nil
}

// SubscriptionFilters are the admin listing filters.
type SubscriptionFilters struct {
	Status string
	UserID string
	From   *time.Time
	To     *time.Time
	Search string
	Page   int
	Limit  int
}

// ListSubscriptions returns a role-scoped, filtered, paginated page.
func (s *SubscriptionService) ListSubscriptions(ctx context.Context, role string, callerID uuid.UUID, f SubscriptionFilters) ([]models.Subscription, int64, error) {
	query := s.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Scopes(scope.SubscriptionsToCaller(role, callerID))

	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.UserID != "" {
		if id, err := uuid.Parse(f.UserID); err == nil {
			query = query.Where("user_id = ?", id)
		}
	}
	if f.From != nil {
		query = query.Where("created_at >= ?", f.From)
	}
	if f.To != nil {
		query = query.Where("created_at <= ?", f.To)
	}
	if f.Search != "" {
		query = query.Where("LOWER(plan_name) LIKE ?", "%"+strings.ToLower(f.Search)+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count subscriptions: %w", err)
	}

	var subs []models.Subscription
	err := query.
		Order("created_at DESC").
		Offset((f.Page - 1) * f.Limit).
		Limit(f.Limit).
		Find(&subs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, total, nil
}
