package feeconfig

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tradeloop-backend/internal/fees"
	"github.com/angelmondragon/tradeloop-backend/pkg/db/models"
	"github.com/angelmondragon/tradeloop-backend/pkg/enums"
)

type CreateInput struct {
	PlatformFeePercentage decimal.Decimal
	ShopFeePercentage     decimal.Decimal
	DeliveryFeePercentage decimal.Decimal
	MinimumPayoutCents    int64
	PayoutSchedule        enums.PayoutSchedule
}

type FeeConfigurationDTO struct {
	ID                    uuid.UUID            `json:"id"`
	PlatformFeePercentage decimal.Decimal      `json:"platform_fee_percentage"`
	ShopFeePercentage     decimal.Decimal      `json:"shop_fee_percentage"`
	DeliveryFeePercentage decimal.Decimal      `json:"delivery_fee_percentage"`
	MinimumPayoutCents    int64                `json:"minimum_payout_cents"`
	PayoutSchedule        enums.PayoutSchedule `json:"payout_schedule"`
	IsActive              bool                 `json:"is_active"`
	CreatedAt             time.Time            `json:"created_at"`
}

func FromModel(m *models.FeeConfiguration) FeeConfigurationDTO {
	return FeeConfigurationDTO{
		ID:                    m.ID,
		PlatformFeePercentage: m.PlatformFeePercentage,
		ShopFeePercentage:     m.ShopFeePercentage,
		DeliveryFeePercentage: m.DeliveryFeePercentage,
		MinimumPayoutCents:    m.MinimumPayoutCents,
		PayoutSchedule:        m.PayoutSchedule,
		IsActive:              m.IsActive,
		CreatedAt:             m.CreatedAt,
	}
}

func toConfig(m *models.FeeConfiguration) *fees.Config {
	return &fees.Config{
		ID:                    m.ID,
		PlatformFeePercentage: m.PlatformFeePercentage,
		ShopFeePercentage:     m.ShopFeePercentage,
		DeliveryFeePercentage: m.DeliveryFeePercentage,
		MinimumPayoutCents:    m.MinimumPayoutCents,
		PayoutSchedule:        m.PayoutSchedule,
	}
}
