package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradeloop-backend/pkg/enums"
)

// Order is a priced, addressed purchase from one or more shops. Totals are
// computed once at creation.
type Order struct {
	ID               uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	UserID           uuid.UUID         `gorm:"column:user_id;type:uuid;not null;index"`
	AddressID        uuid.UUID         `gorm:"column:address_id;type:uuid;not null"`
	Address          *Address          `gorm:"foreignKey:AddressID;references:ID"`
	SubtotalCents    int64             `gorm:"column:subtotal_cents;not null"`
	DeliveryFeeCents int64             `gorm:"column:delivery_fee_cents;not null"`
	TotalCents       int64             `gorm:"column:total_cents;not null"`
	Status           enums.OrderStatus `gorm:"column:status;not null;index"`
	Notes            *string           `gorm:"column:notes"`
	Items            []OrderItem       `gorm:"foreignKey:OrderID;references:ID"`
	Events           []OrderEvent      `gorm:"foreignKey:OrderID;references:ID"`
	CreatedAt        time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	assignID(&o.ID)
	return nil
}

// ShopIDs returns the distinct shops of the order in item order.
func (o Order) ShopIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(o.Items))
	ids := make([]uuid.UUID, 0, len(o.Items))
	for _, item := range o.Items {
		if _, ok := seen[item.ShopID]; ok {
			continue
		}
		seen[item.ShopID] = struct{}{}
		ids = append(ids, item.ShopID)
	}
	return ids
}

// OrderItem snapshots price and quantity at creation time.
type OrderItem struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID      uuid.UUID `gorm:"column:product_id;type:uuid;not null"`
	ShopID         uuid.UUID `gorm:"column:shop_id;type:uuid;not null;index"`
	Position       int       `gorm:"column:position;not null;default:0"`
	Quantity       int       `gorm:"column:quantity;not null"`
	UnitPriceCents int64     `gorm:"column:unit_price_cents;not null"`
	SubtotalCents  int64     `gorm:"column:subtotal_cents;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (i *OrderItem) BeforeCreate(*gorm.DB) error {
	assignID(&i.ID)
	return nil
}

// OrderEvent is an append-only timeline entry.
type OrderEvent struct {
	ID              uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	OrderID         uuid.UUID         `gorm:"column:order_id;type:uuid;not null;index"`
	EventType       enums.OrderStatus `gorm:"column:event_type;not null"`
	Latitude        *float64          `gorm:"column:latitude"`
	Longitude       *float64          `gorm:"column:longitude"`
	Metadata        map[string]any    `gorm:"column:metadata;type:jsonb;serializer:json"`
	CreatedByUserID *uuid.UUID        `gorm:"column:created_by_user_id;type:uuid"`
	CreatedAt       time.Time         `gorm:"column:created_at;autoCreateTime"`
}

func (e *OrderEvent) BeforeCreate(*gorm.DB) error {
	assignID(&e.ID)
	return nil
}
