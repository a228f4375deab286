package payments

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradeloop-backend/pkg/db/models"
	"github.com/angelmondragon/tradeloop-backend/pkg/enums"
)

type OrderIntentInput struct {
	OrderID         uuid.UUID `json:"orderId" validate:"required"`
	PaymentMethodID string    `json:"paymentMethodId" validate:"required"`
}

type P2PIntentInput struct {
	OfferID         uuid.UUID `json:"offerId" validate:"required"`
	AddressID       uuid.UUID `json:"addressId" validate:"required"`
	PaymentMethodID string    `json:"paymentMethodId" validate:"required"`
}

// IntentResult is what the client needs to confirm the intent.
type IntentResult struct {
	PaymentID    uuid.UUID           `json:"paymentId"`
	IntentID     string              `json:"paymentIntentId"`
	ClientSecret string              `json:"clientSecret"`
	OrderID      *uuid.UUID          `json:"orderId,omitempty"`
	P2POrderID   *uuid.UUID          `json:"p2pOrderId,omitempty"`
	AmountCents  int64               `json:"amountCents"`
	Currency     string              `json:"currency"`
	Status       enums.PaymentStatus `json:"status"`
}

type AttachMethodInput struct {
	ProviderPaymentMethodID string `json:"paymentMethodId" validate:"required"`
	MakeDefault             bool   `json:"makeDefault"`
}

type PaymentMethodDTO struct {
	ID                      uuid.UUID  `json:"id"`
	Provider                string     `json:"provider"`
	ProviderPaymentMethodID string     `json:"providerPaymentMethodId"`
	Brand                   *string    `json:"brand,omitempty"`
	Last4                   *string    `json:"last4,omitempty"`
	IsDefault               bool       `json:"isDefault"`
	DetachedAt              *time.Time `json:"detachedAt,omitempty"`
	CreatedAt               time.Time  `json:"createdAt"`
}

func paymentMethodDTO(m *models.PaymentMethod) PaymentMethodDTO {
	return PaymentMethodDTO{
		ID:                      m.ID,
		Provider:                m.Provider,
		ProviderPaymentMethodID: m.ProviderPaymentMethodID,
		Brand:                   m.Brand,
		Last4:                   m.Last4,
		IsDefault:               m.IsDefault,
		DetachedAt:              m.DetachedAt,
		CreatedAt:               m.CreatedAt,
	}
}

// ReconcileInput bounds one reconciliation sweep.
type ReconcileInput struct {
	// AbandonBefore cancels PENDING payments that never reached the gateway.
	AbandonBefore time.Time
	// RecheckBefore re-reads open payments from the gateway.
	RecheckBefore time.Time
	Limit         int
}

type ReconcileResult struct {
	Abandoned int
	Refreshed int
}
