package webhooks

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"
	"go.opentelemetry.io/otel/attribute"

	"github.com/angelmondragon/tradeloop-backend/api/responses"
	pkgerrors "github.com/angelmondragon/tradeloop-backend/pkg/errors"
	"github.com/angelmondragon/tradeloop-backend/pkg/logger"
	"github.com/angelmondragon/tradeloop-backend/pkg/tracing"
)

const maxWebhookBody = 1 << 16

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

type stripeWebhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

type stripeClient interface {
	SigningSecret() string
}

type stripeEndpoint struct {
	svc    StripeWebhookService
	client stripeClient
	guard  stripeWebhookGuard
	logg   *logger.Logger
}

// StripeWebhook verifies and applies payment intent and refund events. Stripe
// redelivers anything that is not 2xx, so a failed event releases its claim.
func StripeWebhook(svc StripeWebhookService, client stripeClient, guard stripeWebhookGuard, logg *logger.Logger) http.HandlerFunc {
	e := stripeEndpoint{svc: svc, client: client, guard: guard, logg: logg}
	if err := e.ready(); err != nil {
		return func(w http.ResponseWriter, r *http.Request) {
			responses.WriteError(r.Context(), logg, w, err)
		}
	}
	return e.serve
}

func (e stripeEndpoint) ready() error {
	var missing []string
	if e.svc == nil {
		missing = append(missing, "webhook service")
	}
	if e.client == nil {
		missing = append(missing, "stripe client")
	}
	if e.guard == nil {
		missing = append(missing, "event guard")
	}
	if len(missing) == 0 {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeConfiguration, "stripe webhook missing "+strings.Join(missing, ", "))
}

func (e stripeEndpoint) serve(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.Start(r.Context(), "stripe.webhook")
	var err error
	defer func() { tracing.End(span, err) }()

	event, err := e.verify(r)
	if err != nil {
		responses.WriteError(ctx, e.logg, w, err)
		return
	}
	span.SetAttributes(attribute.String("stripe.event_type", string(event.Type)))
	if e.logg != nil {
		ctx = e.logg.WithFields(ctx, map[string]any{
			"stripe_event_id":   event.ID,
			"stripe_event_type": string(event.Type),
		})
	}

	seen, err := e.guard.CheckAndMark(ctx, event.ID)
	if err != nil {
		err = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency")
		responses.WriteError(ctx, e.logg, w, err)
		return
	}
	if seen {
		responses.WriteSuccess(w, nil)
		return
	}

	if err = e.svc.HandleEvent(ctx, &event); err != nil {
		if delErr := e.guard.Delete(ctx, event.ID); delErr != nil && e.logg != nil {
			e.logg.Error(ctx, "stripe webhook guard release failed", delErr)
		}
		responses.WriteError(ctx, e.logg, w, err)
		return
	}
	if e.logg != nil {
		e.logg.Info(ctx, "stripe event processed")
	}
	responses.WriteSuccess(w, nil)
}

func (e stripeEndpoint) verify(r *http.Request) (stripe.Event, error) {
	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		return stripe.Event{}, pkgerrors.New(pkgerrors.CodeValidation, "stripe signature missing")
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		return stripe.Event{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body")
	}
	if len(payload) > maxWebhookBody {
		return stripe.Event{}, pkgerrors.New(pkgerrors.CodeValidation, "webhook payload too large")
	}
	event, err := webhook.ConstructEvent(payload, signature, e.client.SigningSecret())
	if err != nil {
		return stripe.Event{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid stripe signature")
	}
	return event, nil
}
