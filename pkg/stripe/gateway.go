package stripe

import (
	"context"
	"errors"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/customer"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/paymentmethod"
)

const ProviderName = "stripe"

// Capture methods accepted by CreatePaymentIntent.
const (
	CaptureAutomatic      = string(stripe.PaymentIntentCaptureMethodAutomatic)
	CaptureAutomaticAsync = string(stripe.PaymentIntentCaptureMethodAutomaticAsync)
)

// Intent statuses the orchestrator cares about.
const (
	IntentSucceeded  = string(stripe.PaymentIntentStatusSucceeded)
	IntentProcessing = string(stripe.PaymentIntentStatusProcessing)
	IntentCanceled   = string(stripe.PaymentIntentStatusCanceled)

	IntentRequiresPaymentMethod = string(stripe.PaymentIntentStatusRequiresPaymentMethod)
)

type CustomerParams struct {
	UserID string
	Email  string
}

type PaymentMethodDetails struct {
	ID    string
	Brand string
	Last4 string
}

type IntentParams struct {
	AmountCents     int64
	Currency        string
	CustomerID      string
	PaymentMethodID string
	// Destination and ApplicationFeeCents apply to destination charges only.
	Destination         string
	ApplicationFeeCents int64
	CaptureMethod       string
	Metadata            map[string]string
	IdempotencyKey      string
}

// Intent is the gateway's view of a payment intent.
type Intent struct {
	ID                  string
	ClientSecret        string
	Status              string
	AmountCents         int64
	AmountRefundedCents int64
	FailureReason       string
}

var errIntentIDRequired = errors.New("payment intent id is required")

func (c *Client) EnsureCustomer(ctx context.Context, in CustomerParams) (string, error) {
	params := &stripe.CustomerParams{Email: stripe.String(in.Email)}
	params.Context = ctx
	params.AddMetadata("user_id", in.UserID)
	if in.UserID != "" {
		params.SetIdempotencyKey("customer-" + in.UserID)
	}
	cust, err := customer.New(params)
	if err != nil {
		return "", err
	}
	return cust.ID, nil
}

func (c *Client) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) (PaymentMethodDetails, error) {
	params := &stripe.PaymentMethodAttachParams{Customer: stripe.String(customerID)}
	params.Context = ctx
	pm, err := paymentmethod.Attach(paymentMethodID, params)
	if err != nil {
		return PaymentMethodDetails{}, err
	}
	return toPaymentMethodDetails(pm), nil
}

func (c *Client) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	params := &stripe.PaymentMethodDetachParams{}
	params.Context = ctx
	_, err := paymentmethod.Detach(paymentMethodID, params)
	return err
}

func (c *Client) CreatePaymentIntent(ctx context.Context, in IntentParams) (Intent, error) {
	params := buildIntentParams(in)
	params.Context = ctx
	pi, err := paymentintent.New(params)
	if err != nil {
		return Intent{}, err
	}
	return toIntent(pi), nil
}

func (c *Client) GetPaymentIntent(ctx context.Context, id string) (Intent, error) {
	if strings.TrimSpace(id) == "" {
		return Intent{}, errIntentIDRequired
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge")
	pi, err := paymentintent.Get(id, params)
	if err != nil {
		return Intent{}, err
	}
	return toIntent(pi), nil
}

// CancelPaymentIntent voids an intent replaced by a newer attempt.
func (c *Client) CancelPaymentIntent(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errIntentIDRequired
	}
	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonDuplicate)),
	}
	params.Context = ctx
	_, err := paymentintent.Cancel(id, params)
	return err
}

func buildIntentParams(in IntentParams) *stripe.PaymentIntentParams {
	capture := in.CaptureMethod
	if capture == "" {
		capture = CaptureAutomatic
	}
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(in.AmountCents),
		Currency:      stripe.String(strings.ToLower(in.Currency)),
		CaptureMethod: stripe.String(capture),
	}
	if in.CustomerID != "" {
		params.Customer = stripe.String(in.CustomerID)
	}
	if in.PaymentMethodID != "" {
		params.PaymentMethod = stripe.String(in.PaymentMethodID)
	}
	if in.Destination != "" {
		params.TransferData = &stripe.PaymentIntentTransferDataParams{
			Destination: stripe.String(in.Destination),
		}
		params.ApplicationFeeAmount = stripe.Int64(in.ApplicationFeeCents)
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}
	return params
}

func toIntent(pi *stripe.PaymentIntent) Intent {
	if pi == nil {
		return Intent{}
	}
	out := Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		AmountCents:  pi.Amount,
	}
	if pi.LastPaymentError != nil {
		out.FailureReason = pi.LastPaymentError.Msg
	}
	if pi.LatestCharge != nil {
		out.AmountRefundedCents = pi.LatestCharge.AmountRefunded
	}
	if pi.Status == stripe.PaymentIntentStatusCanceled && out.FailureReason == "" {
		out.FailureReason = string(pi.CancellationReason)
	}
	return out
}

func toPaymentMethodDetails(pm *stripe.PaymentMethod) PaymentMethodDetails {
	if pm == nil {
		return PaymentMethodDetails{}
	}
	out := PaymentMethodDetails{ID: pm.ID}
	if pm.Card != nil {
		out.Brand = string(pm.Card.Brand)
		out.Last4 = pm.Card.Last4
	}
	return out
}
