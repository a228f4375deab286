package dbtest

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradeloop-backend/pkg/db/models"
	"github.com/angelmondragon/tradeloop-backend/pkg/enums"
)

func create(t *testing.T, db *gorm.DB, row any) {
	t.Helper()
	if err := db.Create(row).Error; err != nil {
		t.Fatalf("seed %T: %v", row, err)
	}
}

func User(t *testing.T, db *gorm.DB, role enums.UserRole) *models.User {
	t.Helper()
	id := uuid.New()
	u := &models.User{ID: id, Email: id.String() + "@example.test", Role: role}
	create(t, db, u)
	return u
}

func Address(t *testing.T, db *gorm.DB, userID uuid.UUID) *models.Address {
	t.Helper()
	a := &models.Address{
		UserID:     userID,
		Line1:      "12 Harbour St",
		City:       "Portland",
		Region:     "OR",
		PostalCode: "97201",
		Country:    "US",
	}
	create(t, db, a)
	return a
}

// Shop seeds an active shop with a connected gateway account.
func Shop(t *testing.T, db *gorm.DB, ownerID uuid.UUID) *models.Shop {
	t.Helper()
	acct := "acct_" + uuid.NewString()[:8]
	s := &models.Shop{OwnerUserID: ownerID, Name: "Shop " + acct, GatewayAccountID: &acct, IsActive: true}
	create(t, db, s)
	return s
}

func Product(t *testing.T, db *gorm.DB, shopID uuid.UUID, priceCents int64, stock int) *models.Product {
	t.Helper()
	p := &models.Product{
		ShopID:        shopID,
		Name:          "Product",
		PriceCents:    priceCents,
		StockQuantity: stock,
		IsAvailable:   true,
	}
	create(t, db, p)
	return p
}

func DeliveryProfile(t *testing.T, db *gorm.DB, userID uuid.UUID) *models.DeliveryProfile {
	t.Helper()
	p := &models.DeliveryProfile{UserID: userID, IsActive: true}
	create(t, db, p)
	return p
}

// ActiveFeeConfig seeds the 10/85/5 split as the active configuration.
func ActiveFeeConfig(t *testing.T, db *gorm.DB) *models.FeeConfiguration {
	t.Helper()
	c := &models.FeeConfiguration{
		PlatformFeePercentage: decimal.NewFromInt(10),
		ShopFeePercentage:     decimal.NewFromInt(85),
		DeliveryFeePercentage: decimal.NewFromInt(5),
		PayoutSchedule:        enums.PayoutScheduleWeekly,
		IsActive:              true,
	}
	create(t, db, c)
	return c
}

func UserItem(t *testing.T, db *gorm.DB, sellerID uuid.UUID, priceCents int64) *models.UserItem {
	t.Helper()
	i := &models.UserItem{SellerUserID: sellerID, Title: "Vintage lamp", PriceCents: priceCents, Status: enums.UserItemStatusAvailable}
	create(t, db, i)
	return i
}

func Cart(t *testing.T, db *gorm.DB, userID uuid.UUID, lines map[uuid.UUID]int) *models.Cart {
	t.Helper()
	c := &models.Cart{UserID: userID}
	create(t, db, c)
	for productID, qty := range lines {
		create(t, db, &models.CartItem{CartID: c.ID, ProductID: productID, Quantity: qty})
	}
	return c
}
