package fees

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/tradeloop-backend/pkg/errors"
)

func cfg(platform, shop, delivery string) *Config {
	return &Config{
		ID:                    uuid.New(),
		PlatformFeePercentage: decimal.RequireFromString(platform),
		ShopFeePercentage:     decimal.RequireFromString(shop),
		DeliveryFeePercentage: decimal.RequireFromString(delivery),
	}
}

func TestComputeEvenSplit(t *testing.T) {
	split, err := Compute(10000, cfg("10", "85", "5"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if split.PlatformFeeCents != 1000 || split.DeliveryFeeCents != 500 || split.ShopAmountCents != 8500 {
		t.Fatalf("unexpected split %+v", split)
	}
	if split.ApplicationFeeCents() != 1500 {
		t.Fatalf("unexpected application fee %d", split.ApplicationFeeCents())
	}
	if !split.ShopFeePercentage.Equal(decimal.NewFromInt(85)) {
		t.Fatalf("percentage not carried: %s", split.ShopFeePercentage)
	}
}

func TestComputeRemainderGoesToShop(t *testing.T) {
	c := cfg("12.5", "80.25", "7.25")
	for _, amount := range []int64{0, 1, 7, 99, 101, 333, 1001, 12345, 99999, 1_000_003} {
		split, err := Compute(amount, c)
		if err != nil {
			t.Fatalf("amount %d: %v", amount, err)
		}
		if got := split.PlatformFeeCents + split.ShopAmountCents + split.DeliveryFeeCents; got != amount {
			t.Fatalf("amount %d: parts sum to %d", amount, got)
		}
		if split.PlatformFeeCents < 0 || split.DeliveryFeeCents < 0 || split.ShopAmountCents < 0 {
			t.Fatalf("amount %d: negative part %+v", amount, split)
		}
	}

	split, _ := Compute(999, c)
	// 12.5% of 999 = 124.875 -> 124; 7.25% of 999 = 72.4275 -> 72.
	if split.PlatformFeeCents != 124 || split.DeliveryFeeCents != 72 || split.ShopAmountCents != 803 {
		t.Fatalf("unexpected floor rounding %+v", split)
	}
}

func TestComputeRejectsNegativeAmount(t *testing.T) {
	_, err := Compute(-1, cfg("10", "85", "5"))
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestComputeTreatsMissingOrInvalidConfigAsMissing(t *testing.T) {
	cases := map[string]*Config{
		"nil":          nil,
		"no id":        {PlatformFeePercentage: decimal.NewFromInt(100)},
		"sum not 100":  cfg("10", "80", "5"),
		"negative":     cfg("-5", "100", "5"),
		"over hundred": cfg("101", "-1", "0"),
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Compute(1000, c)
			if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeConfiguration {
				t.Fatalf("expected configuration error, got %v", err)
			}
		})
	}
}
