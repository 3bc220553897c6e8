package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/vistream/vistream/internal/gateway"
	"github.com/vistream/vistream/internal/models"
	"github.com/vistream/vistream/internal/scope"
)

var ErrPaymentNotFound = errors.New("payment not found")

// duplicateWindow bounds the lookback for reusing an identical pending
// payment; staleAge bounds how long abandoned pending payments are kept.
const (
	duplicateWindow = 5 * time.Minute
	staleAge        = time.Hour
)

// LedgerService is the single source of truth for payment attempts.
type LedgerService struct {
	db *gorm.DB
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{db: db}
}

// CreateOrReuse returns an existing pending payment created within the
// duplicate window for the same user/provider/amount/currency/description
// instead of creating a second one. The bool reports whether an existing
// payment was reused.
func (s *LedgerService) CreateOrReuse(ctx context.Context, userID uuid.UUID, provider string, amount decimal.Decimal, currency, description string, metadata map[string]any) (*models.Payment, bool, error) {
	s.deleteStale(ctx, userID, provider)

	var existing models.Payment
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND provider = ? AND status = ? AND currency = ? AND description = ?",
			userID, provider, models.PaymentPending, currency, description).
		Where("amount = ?", amount).
		Where("created_at > ?", time.Now().Add(-duplicateWindow)).
		Order("created_at DESC").
		First(&existing).Error
	if err == nil {
		return &existing, true, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("failed to look up pending payment: %w", err)
	}

	payment := models.Payment{
		ID:          uuid.New(),
		UserID:      userID,
		Provider:    provider,
		Amount:      amount,
		Currency:    currency,
		Description: description,
		Status:      models.PaymentPending,
		Metadata:    datatypes.JSONMap(metadata),
	}
	if payment.Metadata == nil {
		payment.Metadata = datatypes.JSONMap{}
	}

	if err := s.db.WithContext(ctx).Create(&payment).Error; err != nil {
		return nil, false, fmt.Errorf("failed to create payment: %w", err)
	}
	return &payment, false, nil
}

// AttachCheckout stores the provider's checkout result on the payment.
func (s *LedgerService) AttachCheckout(ctx context.Context, payment *models.Payment, result *gateway.CheckoutResult) error {
	detail := datatypes.JSONMap{}
	for k, v := range result.Detail {
		detail[k] = v
	}
	if result.CheckoutURL != "" {
		detail["checkout_url"] = result.CheckoutURL
	}
	if result.ClientSecret != "" {
		detail["client_secret"] = result.ClientSecret
	}

	updates := map[string]any{
		"external_payment_id": result.ExternalID,
		"provider_detail":     detail,
	}
	if result.ExpiresAt != nil {
		updates["expires_at"] = result.ExpiresAt
	}

	if err := s.db.WithContext(ctx).Model(payment).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to attach checkout result: %w", err)
	}
	return nil
}

// RecordWebhookUpdate applies one inbound provider event: find-or-create
// by (provider, external id), bump the attempt counter, and move the
// status forward when the transition is allowed. Safe to call any number
// of times with the same event.
func (s *LedgerService) RecordWebhookUpdate(ctx context.Context, provider, externalID, newStatus string, paidAt *time.Time, method string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.WithContext(ctx).
		Where("provider = ? AND external_payment_id = ?", provider, externalID).
		First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		payment = models.Payment{
			ID:                uuid.New(),
			Provider:          provider,
			ExternalPaymentID: externalID,
			Status:            models.PaymentPending,
			Amount:            decimal.Zero,
			Currency:          "EUR",
			Metadata:          datatypes.JSONMap{},
			ProviderDetail:    datatypes.JSONMap{},
		}
		if err := s.db.WithContext(ctx).Create(&payment).Error; err != nil {
			return nil, fmt.Errorf("failed to create payment from webhook: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to look up payment for webhook: %w", err)
	}

	now := time.Now()
	updates := map[string]any{
		"webhook_attempts":     gorm.Expr("webhook_attempts + 1"),
		"webhook_processed_at": now,
	}
	if method != "" {
		updates["method"] = method
	}

	statusChanged := payment.Status != newStatus && allowedTransition(payment.Status, newStatus)
	if statusChanged {
		updates["status"] = newStatus
		if newStatus == models.PaymentCompleted && payment.PaidAt == nil {
			if paidAt == nil {
				paidAt = &now
			}
			updates["paid_at"] = paidAt
		}
	} else if payment.Status != newStatus {
		slog.Warn("ignoring backwards payment status transition",
			"payment_id", payment.ID, "from", payment.Status, "to", newStatus)
	}

	if err := s.db.WithContext(ctx).Model(&payment).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to record webhook update: %w", err)
	}

	if statusChanged {
		history := models.PaymentStatusHistory{
			ID:         uuid.New(),
			PaymentID:  payment.ID,
			FromStatus: payment.Status,
			ToStatus:   newStatus,
		}
		if err := s.db.WithContext(ctx).Create(&history).Error; err != nil {
			slog.Error("failed to append payment status history", "payment_id", payment.ID, "error", err)
		}
	}

	return s.GetByID(ctx, payment.ID)
}

// MarkProcessed flips is_processed from false to true in one conditional
// update and reports whether this call performed the flip. This is the
// idempotency primitive that closes the webhook/poller race.
func (s *LedgerService) MarkProcessed(ctx context.Context, paymentID uuid.UUID) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND is_processed = ?", paymentID, false).
		Updates(map[string]any{
			"is_processed": true,
			"processed_at": time.Now(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark payment processed: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (s *LedgerService) GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := s.db.WithContext(ctx).First(&payment, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

// FindByIdentifier locates a payment by external provider id, then by
// the provider-specific intent/session sub-identifier, then by internal
// id. The internal lookup only runs when the identifier parses as a
// UUID, so provider-formatted ids never hit the primary key cast.
func (s *LedgerService) FindByIdentifier(ctx context.Context, identifier string) (*models.Payment, error) {
	var payment models.Payment

	err := s.db.WithContext(ctx).
		Where("external_payment_id = ?", identifier).
		First(&payment).Error
	if err == nil {
		return &payment, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	for _, key := range []string{"payment_intent_id", "session_id", "invoice_id"} {
		err = s.db.WithContext(ctx).
			Where(datatypes.JSONQuery("provider_detail").Equals(identifier, key)).
			First(&payment).Error
		if err == nil {
			return &payment, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	if id, parseErr := uuid.Parse(identifier); parseErr == nil {
		return s.GetByID(ctx, id)
	}
	return nil, ErrPaymentNotFound
}

// FindBySubIdentifier matches a payment on one provider-detail key.
func (s *LedgerService) FindBySubIdentifier(ctx context.Context, key, value string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.WithContext(ctx).
		Where(datatypes.JSONQuery("provider_detail").Equals(value, key)).
		First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// LatestForUser returns the user's most recent payment, used when the
// client-side SDK surfaced no identifier after the redirect.
func (s *LedgerService) LatestForUser(ctx context.Context, userID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// PaymentFilters are the admin listing filters.
type PaymentFilters struct {
	Status   string
	Provider string
	UserID   string
	From     *time.Time
	To       *time.Time
	Search   string
	Page     int
	Limit    int
}

// ListPayments returns a role-scoped, filtered, paginated payment page.
func (s *LedgerService) ListPayments(ctx context.Context, role string, callerID uuid.UUID, f PaymentFilters) ([]models.Payment, int64, error) {
	query := s.db.WithContext(ctx).
		Model(&models.Payment{}).
		Scopes(scope.PaymentsToCaller(role, callerID))

	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.Provider != "" {
		query = query.Where("provider = ?", f.Provider)
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
		needle := "%" + strings.ToLower(f.Search) + "%"
		query = query.Where("LOWER(description) LIKE ? OR LOWER(external_payment_id) LIKE ?", needle, needle)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count payments: %w", err)
	}

	var payments []models.Payment
	err := query.
		Order("created_at DESC").
		Offset((f.Page - 1) * f.Limit).
		Limit(f.Limit).
		Find(&payments).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list payments: %w", err)
	}
	return payments, total, nil
}

// deleteStale removes pending payments older than an hour for the same
// user/provider. Best effort: failures are logged, never raised.
func (s *LedgerService) deleteStale(ctx context.Context, userID uuid.UUID, provider string) {
	result := s.db.WithContext(ctx).
		Where("user_id = ? AND provider = ? AND status = ? AND created_at < ?",
			userID, provider, models.PaymentPending, time.Now().Add(-staleAge)).
		Delete(&models.Payment{})
	if result.Error != nil {
		slog.Error("stale payment cleanup failed", "user_id", userID, "provider", provider, "error", result.Error)
	} else if result.RowsAffected > 0 {
		slog.Info("stale pending payments deleted", "user_id", userID, "count", result.RowsAffected)
	}
}

// allowedTransition encodes the forward-only payment status machine.
func allowedTransition(from, to string) bool {
	switch from {
	case models.PaymentPending:
		switch to {
		case models.PaymentCompleted, models.PaymentFailed, models.PaymentCancelled, models.PaymentExpired:
			return true
		}
	case models.PaymentCompleted:
		return to == models.PaymentRefunded
	}
	return false
}
