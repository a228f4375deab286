package cron

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/tradeloop-backend/internal/payments"
)

const defaultSweepLimit = 200

type offerExpirer interface {
	ExpireOffers(ctx context.Context, now time.Time, limit int) (int, error)
}

type opportunityExpirer interface {
	ExpireOpportunities(ctx context.Context, now time.Time, limit int) (int, error)
}

type paymentReconciler interface {
	ReconcileStalePayments(ctx context.Context, in payments.ReconcileInput) (payments.ReconcileResult, error)
}

func sweepLimit(limit int) int {
	if limit <= 0 {
		return defaultSweepLimit
	}
	return limit
}

// NewOfferExpiryJob expires PENDING offers past valid_until.
func NewOfferExpiryJob(svc offerExpirer, limit int) (Job, error) {
	if svc == nil {
		return nil, errors.New("offers service required")
	}
	return &offerExpiryJob{svc: svc, limit: sweepLimit(limit), now: time.Now}, nil
}

type offerExpiryJob struct {
	svc   offerExpirer
	limit int
	now   func() time.Time
}

func (j *offerExpiryJob) Name() string { return "offer-expiry" }

func (j *offerExpiryJob) Run(ctx context.Context) (int, error) {
	return j.svc.ExpireOffers(ctx, j.now().UTC(), j.limit)
}

// NewDeliveryExpiryJob closes unclaimed delivery opportunities whose
// broadcast window has passed.
func NewDeliveryExpiryJob(svc opportunityExpirer, limit int) (Job, error) {
	if svc == nil {
		return nil, errors.New("fulfillment service required")
	}
	return &deliveryExpiryJob{svc: svc, limit: sweepLimit(limit), now: time.Now}, nil
}

type deliveryExpiryJob struct {
	svc   opportunityExpirer
	limit int
	now   func() time.Time
}

func (j *deliveryExpiryJob) Name() string { return "delivery-expiry" }

func (j *deliveryExpiryJob) Run(ctx context.Context) (int, error) {
	return j.svc.ExpireOpportunities(ctx, j.now().UTC(), j.limit)
}

type PaymentReconcileJobParams struct {
	Payments paymentReconciler
	// AbandonAfter is how long a payment may sit PENDING without a gateway intent.
	AbandonAfter time.Duration
	// RecheckAfter is how long an open intent may go without a notification.
	RecheckAfter time.Duration
	Limit        int
}

func NewPaymentReconcileJob(params PaymentReconcileJobParams) (Job, error) {
	if params.Payments == nil {
		return nil, errors.New("payments service required")
	}
	if params.AbandonAfter <= 0 || params.RecheckAfter <= 0 {
		return nil, errors.New("payment reconcile windows must be positive")
	}
	return &paymentReconcileJob{
		svc:          params.Payments,
		abandonAfter: params.AbandonAfter,
		recheckAfter: params.RecheckAfter,
		limit:        sweepLimit(params.Limit),
		now:          time.Now,
	}, nil
}

type paymentReconcileJob struct {
	svc          paymentReconciler
	abandonAfter time.Duration
	recheckAfter time.Duration
	limit        int
	now          func() time.Time
}

func (j *paymentReconcileJob) Name() string { return "payment-reconcile" }

func (j *paymentReconcileJob) Run(ctx context.Context) (int, error) {
	now := j.now().UTC()
	res, err := j.svc.ReconcileStalePayments(ctx, payments.ReconcileInput{
		AbandonBefore: now.Add(-j.abandonAfter),
		RecheckBefore: now.Add(-j.recheckAfter),
		Limit:         j.limit,
	})
	return res.Abandoned + res.Refreshed, err
}
