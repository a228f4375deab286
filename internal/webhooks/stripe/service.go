// Package stripewebhook turns verified Stripe events into payment gateway
// events for the payment orchestrator.
package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/tradeloop-backend/internal/payments"
	pkgerrors "github.com/angelmondragon/tradeloop-backend/pkg/errors"
	"github.com/angelmondragon/tradeloop-backend/pkg/logger"
)

type eventApplier interface {
	ApplyGatewayEvent(ctx context.Context, ev payments.GatewayEvent) (bool, error)
}

type ServiceParams struct {
	Payments eventApplier
	Logger   *logger.Logger
}

type Service struct {
	payments eventApplier
	logg     *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Payments == nil {
		return nil, errors.New("payments service required")
	}
	return &Service{payments: params.Payments, logg: params.Logger}, nil
}

// HandleEvent applies payment intent and refund events. Other event types are
// acknowledged and ignored.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	ev, ok, err := toGatewayEvent(event)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"stripe_event_id":   event.ID,
		"stripe_event_type": string(event.Type),
		"payment_intent_id": ev.ProviderPaymentID,
	})
	applied, err := s.payments.ApplyGatewayEvent(ctx, ev)
	if err != nil {
		return err
	}
	if !applied {
		s.logg.Info(ctx, "stripe event already reflected")
	}
	return nil
}

func toGatewayEvent(event *stripe.Event) (payments.GatewayEvent, bool, error) {
	ev := payments.GatewayEvent{EventID: event.ID}

	switch event.Type {
	case stripe.EventTypePaymentIntentProcessing,
		stripe.EventTypePaymentIntentSucceeded,
		stripe.EventTypePaymentIntentPaymentFailed,
		stripe.EventTypePaymentIntentCanceled:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return ev, false, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent event")
		}
		// Intents created outside this service carry no payment id.
		if pi.Metadata["payment_id"] == "" {
			return ev, false, nil
		}
		ev.ProviderPaymentID = pi.ID
		switch event.Type {
		case stripe.EventTypePaymentIntentProcessing:
			ev.Kind = payments.EventProcessing
		case stripe.EventTypePaymentIntentSucceeded:
			ev.Kind = payments.EventSucceeded
		case stripe.EventTypePaymentIntentPaymentFailed:
			ev.Kind = payments.EventFailed
			if pi.LastPaymentError != nil {
				ev.FailureReason = pi.LastPaymentError.Msg
			}
		case stripe.EventTypePaymentIntentCanceled:
			ev.Kind = payments.EventCancelled
			ev.FailureReason = string(pi.CancellationReason)
		}
		return ev, true, nil

	case stripe.EventTypeChargeRefunded:
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return ev, false, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode charge event")
		}
		if charge.PaymentIntent == nil || charge.PaymentIntent.ID == "" {
			return ev, false, nil
		}
		ev.Kind = payments.EventRefunded
		ev.ProviderPaymentID = charge.PaymentIntent.ID
		ev.RefundedCents = charge.AmountRefunded
		return ev, true, nil

	default:
		return ev, false, nil
	}
}
