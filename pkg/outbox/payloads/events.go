// Package payloads holds the data section of every published domain event.
package payloads

import (
	"time"

	"github.com/google/uuid"
)

type OrderCreatedEvent struct {
	OrderID          uuid.UUID   `json:"orderId"`
	BuyerUserID      uuid.UUID   `json:"buyerUserId"`
	ShopIDs          []uuid.UUID `json:"shopIds"`
	SubtotalCents    int64       `json:"subtotalCents"`
	DeliveryFeeCents int64       `json:"deliveryFeeCents"`
	TotalCents       int64       `json:"totalCents"`
	ItemCount        int         `json:"itemCount"`
}

type OrderStatusChangedEvent struct {
	OrderID         uuid.UUID  `json:"orderId"`
	From            string     `json:"from"`
	To              string     `json:"to"`
	ChangedByUserID *uuid.UUID `json:"changedByUserId,omitempty"`
	Reason          string     `json:"reason,omitempty"`
}

type OrderCancelledEvent struct {
	OrderID        uuid.UUID `json:"orderId"`
	CancelledBy    uuid.UUID `json:"cancelledBy"`
	PreviousStatus string    `json:"previousStatus"`
	Reason         string    `json:"reason,omitempty"`
	RestockedUnits int       `json:"restockedUnits"`
}

type DeliveryBroadcastEvent struct {
	OpportunityID uuid.UUID   `json:"opportunityId"`
	OrderID       uuid.UUID   `json:"orderId"`
	PartnerIDs    []uuid.UUID `json:"partnerUserIds"`
	ExpiresAt     time.Time   `json:"expiresAt"`
}

type DeliveryClaimedEvent struct {
	OpportunityID uuid.UUID `json:"opportunityId"`
	OrderID       uuid.UUID `json:"orderId"`
	PartnerUserID uuid.UUID `json:"partnerUserId"`
	TaskID        uuid.UUID `json:"taskId"`
}

type DeliveryExpiredEvent struct {
	OpportunityID uuid.UUID `json:"opportunityId"`
	OrderID       uuid.UUID `json:"orderId"`
}

type OfferEvent struct {
	OfferID          uuid.UUID `json:"offerId"`
	ItemID           uuid.UUID `json:"itemId"`
	BuyerUserID      uuid.UUID `json:"buyerUserId"`
	SellerUserID     uuid.UUID `json:"sellerUserId"`
	OfferAmountCents int64     `json:"offerAmountCents"`
	Status           string    `json:"status"`
	ValidUntil       time.Time `json:"validUntil"`
}

type PaymentEvent struct {
	PaymentID         uuid.UUID  `json:"paymentId"`
	OrderID           *uuid.UUID `json:"orderId,omitempty"`
	P2POrderID        *uuid.UUID `json:"p2pOrderId,omitempty"`
	UserID            uuid.UUID  `json:"userId"`
	ProviderPaymentID string     `json:"providerPaymentId,omitempty"`
	Status            string     `json:"status"`
	AmountCents       int64      `json:"amountCents"`
	RefundedCents     int64      `json:"refundedCents,omitempty"`
	Currency          string     `json:"currency"`
	FailureReason     string     `json:"failureReason,omitempty"`
}

type ProductLowStockEvent struct {
	ProductID         uuid.UUID `json:"productId"`
	ShopID            uuid.UUID `json:"shopId"`
	StockQuantity     int       `json:"stockQuantity"`
	LowStockThreshold int       `json:"lowStockThreshold"`
}

type FeeConfigActivatedEvent struct {
	FeeConfigurationID uuid.UUID `json:"feeConfigurationId"`
	PlatformPercent    string    `json:"platformFeePercentage"`
	ShopPercent        string    `json:"shopPercentage"`
	DeliveryPercent    string    `json:"deliveryPercentage"`
	ActivatedBy        uuid.UUID `json:"activatedBy"`
}
