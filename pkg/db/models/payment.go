package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradeloop-backend/pkg/enums"
)

// PaymentMethod is a gateway payment method attached to a user's customer.
type PaymentMethod struct {
	ID                      uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	UserID                  uuid.UUID  `gorm:"column:user_id;type:uuid;not null;index"`
	Provider                string     `gorm:"column:provider;not null"`
	ProviderPaymentMethodID string     `gorm:"column:provider_payment_method_id;not null;uniqueIndex:ux_payment_methods_provider_id"`
	Brand                   *string    `gorm:"column:brand"`
	Last4                   *string    `gorm:"column:last4"`
	IsDefault               bool       `gorm:"column:is_default;not null;default:false"`
	DetachedAt              *time.Time `gorm:"column:detached_at"`
	CreatedAt               time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt               time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (m *PaymentMethod) BeforeCreate(*gorm.DB) error {
	assignID(&m.ID)
	return nil
}

// Payment is one gateway-facing charge attempt for exactly one of an Order or
// a P2POrder.
type Payment struct {
	ID                  uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderID             *uuid.UUID          `gorm:"column:order_id;type:uuid;index"`
	P2POrderID          *uuid.UUID          `gorm:"column:p2p_order_id;type:uuid;index"`
	PaymentMethodID     uuid.UUID           `gorm:"column:payment_method_id;type:uuid;not null"`
	UserID              uuid.UUID           `gorm:"column:user_id;type:uuid;not null;index"`
	Provider            string              `gorm:"column:provider;not null"`
	ProviderPaymentID   *string             `gorm:"column:provider_payment_id;uniqueIndex:ux_payments_provider_payment_id"`
	ClientSecret        *string             `gorm:"column:client_secret"`
	Status              enums.PaymentStatus `gorm:"column:status;not null;index"`
	AmountCents         int64               `gorm:"column:amount_cents;not null"`
	RefundedAmountCents int64               `gorm:"column:refunded_amount_cents;not null;default:0"`
	Currency            string              `gorm:"column:currency;not null"`
	FailureReason       *string             `gorm:"column:failure_reason"`
	Fee                 *PaymentFee         `gorm:"foreignKey:PaymentID;references:ID"`
	CreatedAt           time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Payment) BeforeCreate(*gorm.DB) error {
	assignID(&p.ID)
	return nil
}

// PaymentFee snapshots the fee split at payment creation.
type PaymentFee struct {
	ID                    uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	PaymentID             uuid.UUID       `gorm:"column:payment_id;type:uuid;not null;uniqueIndex:ux_payment_fees_payment"`
	FeeConfigurationID    uuid.UUID       `gorm:"column:fee_configuration_id;type:uuid;not null"`
	PlatformFeeCents      int64           `gorm:"column:platform_fee_cents;not null"`
	PlatformFeePercentage decimal.Decimal `gorm:"column:platform_fee_percentage;type:numeric(5,2);not null"`
	ShopAmountCents       int64           `gorm:"column:shop_amount_cents;not null"`
	ShopFeePercentage     decimal.Decimal `gorm:"column:shop_fee_percentage;type:numeric(5,2);not null"`
	DeliveryFeeCents      int64           `gorm:"column:delivery_fee_cents;not null"`
	DeliveryFeePercentage decimal.Decimal `gorm:"column:delivery_fee_percentage;type:numeric(5,2);not null"`
	CreatedAt             time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (f *PaymentFee) BeforeCreate(*gorm.DB) error {
	assignID(&f.ID)
	return nil
}

// Transaction is an append-only ledger row for a gateway-confirmed event.
type Transaction struct {
	ID                uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	PaymentID         uuid.UUID             `gorm:"column:payment_id;type:uuid;not null;index"`
	Type              enums.TransactionType `gorm:"column:type;not null;uniqueIndex:ux_transactions_event_type,priority:2"`
	AmountCents       int64                 `gorm:"column:amount_cents;not null"`
	Currency          string                `gorm:"column:currency;not null"`
	ProviderPaymentID string                `gorm:"column:provider_payment_id;not null;index"`
	ProviderEventID   string                `gorm:"column:provider_event_id;not null;uniqueIndex:ux_transactions_event_type,priority:1"`
	Metadata          map[string]any        `gorm:"column:metadata;type:jsonb;serializer:json"`
	CreatedAt         time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (t *Transaction) BeforeCreate(*gorm.DB) error {
	assignID(&t.ID)
	return nil
}

// FeeConfiguration holds platform/shop/delivery percentages. At most one row
// is active.
type FeeConfiguration struct {
	ID                    uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	PlatformFeePercentage decimal.Decimal      `gorm:"column:platform_fee_percentage;type:numeric(5,2);not null"`
	ShopFeePercentage     decimal.Decimal      `gorm:"column:shop_fee_percentage;type:numeric(5,2);not null"`
	DeliveryFeePercentage decimal.Decimal      `gorm:"column:delivery_fee_percentage;type:numeric(5,2);not null"`
	MinimumPayoutCents    int64                `gorm:"column:minimum_payout_cents;not null;default:0"`
	PayoutSchedule        enums.PayoutSchedule `gorm:"column:payout_schedule;not null"`
	IsActive              bool                 `gorm:"column:is_active;not null;default:false;uniqueIndex:ux_fee_configurations_active,where:is_active"`
	CreatedAt             time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *FeeConfiguration) BeforeCreate(*gorm.DB) error {
	assignID(&c.ID)
	return nil
}
