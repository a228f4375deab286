package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradeloop-backend/pkg/enums"
	"github.com/angelmondragon/tradeloop-backend/pkg/types"
)

// P2POrder is created once a buyer starts paying for an accepted offer. The
// delivery address is copied in, not referenced.
type P2POrder struct {
	ID               uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	OfferID          uuid.UUID             `gorm:"column:offer_id;type:uuid;not null;uniqueIndex:ux_p2p_orders_offer"`
	ItemID           uuid.UUID             `gorm:"column:item_id;type:uuid;not null"`
	BuyerUserID      uuid.UUID             `gorm:"column:buyer_user_id;type:uuid;not null;index"`
	SellerUserID     uuid.UUID             `gorm:"column:seller_user_id;type:uuid;not null;index"`
	ConversationID   uuid.UUID             `gorm:"column:conversation_id;type:uuid;not null"`
	ItemAmountCents  int64                 `gorm:"column:item_amount_cents;not null"`
	ShippingFeeCents int64                 `gorm:"column:shipping_fee_cents;not null"`
	TotalCents       int64                 `gorm:"column:total_cents;not null"`
	Status           enums.P2POrderStatus  `gorm:"column:status;not null"`
	DeliveryAddress  types.AddressSnapshot `gorm:"embedded;embeddedPrefix:address_"`
	CreatedAt        time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *P2POrder) BeforeCreate(*gorm.DB) error {
	assignID(&o.ID)
	return nil
}
