package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Shop is a catalog merchant. GatewayAccountID is the connected account that
// receives destination transfers.
type Shop struct {
	ID               uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OwnerUserID      uuid.UUID `gorm:"column:owner_user_id;type:uuid;not null;index"`
	Name             string    `gorm:"column:name;not null"`
	GatewayAccountID *string   `gorm:"column:gateway_account_id"`
	IsActive         bool      `gorm:"column:is_active;not null;default:true"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *Shop) BeforeCreate(*gorm.DB) error {
	assignID(&s.ID)
	return nil
}

// Product is a sellable catalog item. StockQuantity never drops below zero.
type Product struct {
	ID                uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ShopID            uuid.UUID `gorm:"column:shop_id;type:uuid;not null;index"`
	Shop              *Shop     `gorm:"foreignKey:ShopID;references:ID"`
	Name              string    `gorm:"column:name;not null"`
	PriceCents        int64     `gorm:"column:price_cents;not null"`
	SalePriceCents    *int64    `gorm:"column:sale_price_cents"`
	StockQuantity     int       `gorm:"column:stock_quantity;not null;default:0;check:chk_products_stock_non_negative,stock_quantity >= 0"`
	LowStockThreshold int       `gorm:"column:low_stock_threshold;not null;default:0"`
	IsAvailable       bool      `gorm:"column:is_available;not null;default:true"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Product) BeforeCreate(*gorm.DB) error {
	assignID(&p.ID)
	return nil
}

// EffectivePriceCents is the sale price when one is set below list price.
func (p Product) EffectivePriceCents() int64 {
	if p.SalePriceCents != nil && *p.SalePriceCents >= 0 && *p.SalePriceCents < p.PriceCents {
		return *p.SalePriceCents
	}
	return p.PriceCents
}
