// Package fees splits a gross payment amount between the platform, the shop
// and delivery. It has no side effects; callers pass the active configuration.
package fees

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tradeloop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradeloop-backend/pkg/errors"
)

var hundred = decimal.NewFromInt(100)

// Config is a fee configuration snapshot.
type Config struct {
	ID                    uuid.UUID
	PlatformFeePercentage decimal.Decimal
	ShopFeePercentage     decimal.Decimal
	DeliveryFeePercentage decimal.Decimal
	MinimumPayoutCents    int64
	PayoutSchedule        enums.PayoutSchedule
}

// Split is the fee breakdown of one amount. The three cent fields always sum
// to the input amount.
type Split struct {
	AmountCents           int64
	PlatformFeeCents      int64
	PlatformFeePercentage decimal.Decimal
	ShopAmountCents       int64
	ShopFeePercentage     decimal.Decimal
	DeliveryFeeCents      int64
	DeliveryFeePercentage decimal.Decimal
}

// ApplicationFeeCents is what the platform withholds on a destination charge.
func (s Split) ApplicationFeeCents() int64 {
	return s.PlatformFeeCents + s.DeliveryFeeCents
}

// Validate reports whether cfg can be used for a split. Invalid
// configurations are treated the same as a missing one.
func (c *Config) Validate() error {
	if c == nil || c.ID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeConfiguration, "no active fee configuration")
	}
	for _, pct := range []decimal.Decimal{c.PlatformFeePercentage, c.ShopFeePercentage, c.DeliveryFeePercentage} {
		if pct.IsNegative() || pct.GreaterThan(hundred) {
			return pkgerrors.New(pkgerrors.CodeConfiguration, "fee configuration percentages out of range")
		}
	}
	sum := c.PlatformFeePercentage.Add(c.ShopFeePercentage).Add(c.DeliveryFeePercentage)
	if !sum.Equal(hundred) {
		return pkgerrors.New(pkgerrors.CodeConfiguration, "fee configuration percentages must sum to 100")
	}
	return nil
}

// Compute splits amountCents by cfg. Platform and delivery fees are floored;
// the rounding remainder goes to the shop.
func Compute(amountCents int64, cfg *Config) (Split, error) {
	if amountCents < 0 {
		return Split{}, pkgerrors.New(pkgerrors.CodeValidation, "amount must be non-negative")
	}
	if err := cfg.Validate(); err != nil {
		return Split{}, err
	}

	amount := decimal.NewFromInt(amountCents)
	platform := percentOf(amount, cfg.PlatformFeePercentage)
	delivery := percentOf(amount, cfg.DeliveryFeePercentage)

	return Split{
		AmountCents:           amountCents,
		PlatformFeeCents:      platform,
		PlatformFeePercentage: cfg.PlatformFeePercentage,
		ShopAmountCents:       amountCents - platform - delivery,
		ShopFeePercentage:     cfg.ShopFeePercentage,
		DeliveryFeeCents:      delivery,
		DeliveryFeePercentage: cfg.DeliveryFeePercentage,
	}, nil
}

func percentOf(amount, pct decimal.Decimal) int64 {
	return amount.Mul(pct).Div(hundred).Floor().IntPart()
}
