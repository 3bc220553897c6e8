package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vistream/vistream/internal/models"
)

var (
	// ErrPaymentNotReady means the webhook has not landed yet; callers
	// should retry, not treat the payment as failed.
	ErrPaymentNotReady = errors.New("payment not completed yet")
	// ErrPaymentNotCompleted means the payment terminally failed,
	// was cancelled or expired.
	ErrPaymentNotCompleted = errors.New("payment is not in a completed state")
	// ErrUnsupportedType means the payment metadata carries an operation
	// type the reconciler does not know.
	ErrUnsupportedType = errors.New("unsupported operation type")
)

const (
	defaultWaitTimeout  = 10 * time.Second
	defaultWaitInterval = 500 * time.Millisecond
)

// Reconciler is the state machine mapping a completed payment to a
// subscription mutation, exactly once. Both the webhook receivers and
// the client completion path funnel into Complete, racing on the
// payment's is_processed flag.
type Reconciler struct {
	ledger        *LedgerService
	plans         *PlanService
	subscriptions *SubscriptionService

	waitTimeout  time.Duration
	waitInterval time.Duration
}

func NewReconciler(ledger *LedgerService, plans *PlanService, subscriptions *SubscriptionService) *Reconciler {
	return &Reconciler{
		ledger:        ledger,
		plans:         plans,
		subscriptions: subscriptions,
		waitTimeout:   defaultWaitTimeout,
		waitInterval:  defaultWaitInterval,
	}
}

// Complete finalizes the payment identified by identifier (external
// provider id, provider sub-identifier, or internal id) and returns the
// mutated subscription. fallbackType is used when the payment metadata
// carries no operation type.
func (r *Reconciler) Complete(ctx context.Context, identifier, fallbackType string) (*models.Subscription, error) {
	payment, err := r.ledger.FindByIdentifier(ctx, identifier)
	if err != nil {
		return nil, err
	}

	payment, err = r.waitForCompletion(ctx, payment)
	if err != nil {
		return nil, err
	}

	opType := payment.MetaString("type")
	if opType == "" {
		opType = fallbackType
	}
	if opType == "" {
		opType = models.OpSubscription
	}

	first, err := r.ledger.MarkProcessed(ctx, payment.ID)
	if err != nil {
		return nil, err
	}

	switch opType {
	case models.OpSubscription:
		return r.completeNew(ctx, payment, first)
	case models.OpUpgrade:
		return r.completeUpgrade(ctx, payment, first)
	case models.OpRenewal:
		return r.completeRenewal(ctx, payment, first)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, opType)
	}
}

// waitForCompletion polls the ledger for a short bounded window to
// tolerate webhook-delivery lag, then classifies the terminal statuses.
func (r *Reconciler) waitForCompletion(ctx context.Context, payment *models.Payment) (*models.Payment, error) {
	if payment.Status == models.PaymentCompleted {
		return payment, nil
	}

	switch payment.Status {
	case models.PaymentFailed, models.PaymentCancelled, models.PaymentExpired, models.PaymentRefunded:
		return nil, fmt.Errorf("%w: %s", ErrPaymentNotCompleted, payment.Status)
	}

	deadline := time.Now().Add(r.waitTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.waitInterval):
		}

		refreshed, err := r.ledger.GetByID(ctx, payment.ID)
		if err != nil {
			return nil, err
		}
		switch refreshed.Status {
		case models.PaymentCompleted:
			return refreshed, nil
		case models.PaymentFailed, models.PaymentCancelled, models.PaymentExpired, models.PaymentRefunded:
			return nil, fmt.Errorf("%w: %s", ErrPaymentNotCompleted, refreshed.Status)
		}
	}

	return nil, ErrPaymentNotReady
}

// completeNew activates the user's pending subscription, synthesizing
// one from the payment metadata when none exists. Strictly idempotent:
// once a user has an active subscription this is a no-op.
func (r *Reconciler) completeNew(ctx context.Context, payment *models.Payment, first bool) (*models.Subscription, error) {
	// An existing active subscription means this payment was already
	// handled (or the user double-paid); never create a second one.
	if active, err := r.subscriptions.ActiveForUser(ctx, payment.UserID); err == nil {
		return active, nil
	} else if !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, err
	}

	if !first {
		slog.Warn("reprocessing unfinished subscription activation", "payment_id", payment.ID)
	}

	sub, err := r.subscriptions.LatestPendingForUser(ctx, payment.UserID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		if !first {
			// A concurrent caller won the processed flag and is
			// mid-activation; wait for its subscription instead of
			// synthesizing a duplicate.
			return r.awaitActive(ctx, payment.UserID)
		}
		sub, err = r.synthesizePending(ctx, payment)
	}
	if err != nil {
		return nil, err
	}

	now := time.Now()
	end := sub.Period().AddTo(now)
	sub.Status = models.SubscriptionActive
	sub.StartDate = &now
	sub.EndDate = &end
	sub.LastPaymentID = &payment.ID

	if err := r.subscriptions.Save(ctx, sub); err != nil {
		return nil, err
	}

	slog.Info("subscription activated",
		"subscription_id", sub.ID, "user_id", sub.UserID, "plan", sub.PlanName, "payment_id", payment.ID)
	return sub, nil
}

// awaitActive polls for the subscription a concurrent completion is
// about to activate.
func (r *Reconciler) awaitActive(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	deadline := time.Now().Add(r.waitTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.waitInterval):
		}

		active, err := r.subscriptions.ActiveForUser(ctx, userID)
		if err == nil {
			return active, nil
		}
		if !errors.Is(err, ErrSubscriptionNotFound) {
			return nil, err
		}
	}
	return nil, ErrSubscriptionNotFound
}

// completeUpgrade swaps the plan snapshot and restarts the period from
// now; remaining time on the old plan is discarded, not prorated.
// A payment whose mutation already landed on the subscription is a
// replayed delivery and returns the subscription untouched; reprocessing
// is only allowed when the winning caller stalled before saving.
func (r *Reconciler) completeUpgrade(ctx context.Context, payment *models.Payment, first bool) (*models.Subscription, error) {
	sub, plan, err := r.loadMutationTargets(ctx, payment)
	if err != nil {
		return nil, err
	}

	if !first {
		if sub.AppliedPayment(payment.ID) {
			return sub, nil
		}
		slog.Warn("reprocessing stalled upgrade", "payment_id", payment.ID, "subscription_id", sub.ID)
	}

	now := time.Now()
	end := plan.Period().AddTo(now)
	sub.SnapshotPlan(plan)
	sub.Status = models.SubscriptionActive
	sub.EndDate = &end
	sub.LastPaymentID = &payment.ID
	if sub.StartDate == nil {
		sub.StartDate = &now
	}

	if err := r.subscriptions.Save(ctx, sub); err != nil {
		return nil, err
	}

	slog.Info("subscription upgraded",
		"subscription_id", sub.ID, "user_id", sub.UserID, "plan", sub.PlanName, "payment_id", payment.ID)
	return sub, nil
}

// completeRenewal extends from the current expiry when it is still in
// the future; an expired subscription restarts from now instead of
// stacking past the expiry. Extending from the stored expiry makes a
// replay cumulative, so a payment whose renewal already landed must
// return the subscription untouched; reprocessing is reserved for a
// winning caller that stalled before saving.
func (r *Reconciler) completeRenewal(ctx context.Context, payment *models.Payment, first bool) (*models.Subscription, error) {
	sub, plan, err := r.loadMutationTargets(ctx, payment)
	if err != nil {
		return nil, err
	}

	if !first {
		if sub.AppliedPayment(payment.ID) {
			return sub, nil
		}
		slog.Warn("reprocessing stalled renewal", "payment_id", payment.ID, "subscription_id", sub.ID)
	}

	now := time.Now()
	base := now
	if sub.EndDate != nil && sub.EndDate.After(now) {
		base = *sub.EndDate
	}
	end := plan.Period().AddTo(base)

	sub.SnapshotPlan(plan)
	sub.Status = models.SubscriptionActive
	sub.EndDate = &end
	sub.LastPaymentID = &payment.ID
	if sub.StartDate == nil {
		sub.StartDate = &now
	}

	if err := r.subscriptions.Save(ctx, sub); err != nil {
		return nil, err
	}

	slog.Info("subscription renewed",
		"subscription_id", sub.ID, "user_id", sub.UserID, "end_date", end, "payment_id", payment.ID)
	return sub, nil
}

// loadMutationTargets resolves the subscription and plan named in the
// payment metadata. Both lookups run before any write, so a missing
// record never leaves a partial mutation.
func (r *Reconciler) loadMutationTargets(ctx context.Context, payment *models.Payment) (*models.Subscription, *models.Plan, error) {
	subID, err := uuid.Parse(payment.MetaString("currentSubscriptionId"))
	if err != nil {
		return nil, nil, ErrSubscriptionNotFound
	}
	sub, err := r.subscriptions.GetByID(ctx, subID)
	if err != nil {
		return nil, nil, err
	}

	planKey := payment.MetaString("newPlanId")
	if planKey == "" {
		planKey = payment.MetaString("planId")
	}
	planID, err := uuid.Parse(planKey)
	if err != nil {
		return nil, nil, ErrPlanNotFound
	}
	plan, err := r.plans.GetByID(ctx, planID)
	if err != nil {
		return nil, nil, err
	}

	return sub, plan, nil
}

// synthesizePending builds a pending subscription from the payment's
// planId metadata when signup never created one.
func (r *Reconciler) synthesizePending(ctx context.Context, payment *models.Payment) (*models.Subscription, error) {
	planID, err := uuid.Parse(payment.MetaString("planId"))
	if err != nil {
		return nil, ErrPlanNotFound
	}
	plan, err := r.plans.GetByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	return r.subscriptions.CreatePending(ctx, payment.UserID, plan, "", nil)
}
