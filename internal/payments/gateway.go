package payments

import (
	"context"

	"github.com/angelmondragon/tradeloop-backend/pkg/stripe"
)

// Gateway is the card processor. *stripe.Client implements it.
type Gateway interface {
	EnsureCustomer(ctx context.Context, in stripe.CustomerParams) (string, error)
	AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) (stripe.PaymentMethodDetails, error)
	DetachPaymentMethod(ctx context.Context, paymentMethodID string) error
	CreatePaymentIntent(ctx context.Context, in stripe.IntentParams) (stripe.Intent, error)
	GetPaymentIntent(ctx context.Context, id string) (stripe.Intent, error)
	CancelPaymentIntent(ctx context.Context, id string) error
}

var _ Gateway = (*stripe.Client)(nil)

// EventKind is the normalized outcome carried by a gateway notification.
type EventKind string

const (
	EventProcessing EventKind = "processing"
	EventSucceeded  EventKind = "succeeded"
	EventFailed     EventKind = "failed"
	EventCancelled  EventKind = "cancelled"
	EventRefunded   EventKind = "refunded"
)

// GatewayEvent is one gateway notification about a payment intent.
// RefundedCents is the gateway's cumulative refunded amount.
type GatewayEvent struct {
	EventID           string
	Kind              EventKind
	ProviderPaymentID string
	RefundedCents     int64
	FailureReason     string
}

// kindForIntent maps a re-read intent onto an event kind. ok is false for
// states that need no local change.
func kindForIntent(in stripe.Intent) (EventKind, bool) {
	switch in.Status {
	case stripe.IntentSucceeded:
		if in.AmountRefundedCents > 0 {
			return EventRefunded, true
		}
		return EventSucceeded, true
	case stripe.IntentProcessing:
		return EventProcessing, true
	case stripe.IntentCanceled:
		return EventCancelled, true
	case stripe.IntentRequiresPaymentMethod:
		if in.FailureReason != "" {
			return EventFailed, true
		}
	}
	return "", false
}
