package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradeloop-backend/pkg/enums"
)

// UserItem is a peer-listed item for resale.
type UserItem struct {
	ID           uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	SellerUserID uuid.UUID            `gorm:"column:seller_user_id;type:uuid;not null;index"`
	Title        string               `gorm:"column:title;not null"`
	PriceCents   int64                `gorm:"column:price_cents;not null"`
	Status       enums.UserItemStatus `gorm:"column:status;not null"`
	CreatedAt    time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (i *UserItem) BeforeCreate(*gorm.DB) error {
	assignID(&i.ID)
	return nil
}

// UserItemOffer is a buyer's proposed price. At most one offer per item may be
// ACCEPTED, enforced by a partial unique index.
type UserItemOffer struct {
	ID               uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	ItemID           uuid.UUID         `gorm:"column:item_id;type:uuid;not null;index;uniqueIndex:ux_user_item_offers_accepted_item,where:status = 'ACCEPTED'"`
	Item             *UserItem         `gorm:"foreignKey:ItemID;references:ID"`
	BuyerUserID      uuid.UUID         `gorm:"column:buyer_user_id;type:uuid;not null;index"`
	OfferAmountCents int64             `gorm:"column:offer_amount_cents;not null"`
	Message          *string           `gorm:"column:message"`
	Status           enums.OfferStatus `gorm:"column:status;not null"`
	ValidUntil       *time.Time        `gorm:"column:valid_until"`
	RespondedAt      *time.Time        `gorm:"column:responded_at"`
	CreatedAt        time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *UserItemOffer) BeforeCreate(*gorm.DB) error {
	assignID(&o.ID)
	return nil
}

// ExpiredAt reports whether valid_until has passed at now.
func (o UserItemOffer) ExpiredAt(now time.Time) bool {
	return o.ValidUntil != nil && now.After(*o.ValidUntil)
}

// ChatConversation is scoped to one (item, buyer, seller) triple.
type ChatConversation struct {
	ID            uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	ItemID        uuid.UUID                `gorm:"column:item_id;type:uuid;not null;uniqueIndex:ux_chat_conversations_active_triple,priority:1,where:status = 'ACTIVE'"`
	BuyerUserID   uuid.UUID                `gorm:"column:buyer_user_id;type:uuid;not null;uniqueIndex:ux_chat_conversations_active_triple,priority:2"`
	SellerUserID  uuid.UUID                `gorm:"column:seller_user_id;type:uuid;not null;uniqueIndex:ux_chat_conversations_active_triple,priority:3"`
	Status        enums.ConversationStatus `gorm:"column:status;not null"`
	LastMessageAt *time.Time               `gorm:"column:last_message_at;index"`
	CreatedAt     time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *ChatConversation) BeforeCreate(*gorm.DB) error {
	assignID(&c.ID)
	return nil
}

// ChatMessage is one entry in a conversation. OFFER and PENDING_PAYMENT
// messages reference an offer and have no sender.
type ChatMessage struct {
	ID             uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	ConversationID uuid.UUID         `gorm:"column:conversation_id;type:uuid;not null;index"`
	SenderUserID   *uuid.UUID        `gorm:"column:sender_user_id;type:uuid"`
	Type           enums.MessageType `gorm:"column:type;not null"`
	Content        string            `gorm:"column:content;not null"`
	OfferID        *uuid.UUID        `gorm:"column:offer_id;type:uuid;index"`
	CreatedAt      time.Time         `gorm:"column:created_at;autoCreateTime"`
}

func (m *ChatMessage) BeforeCreate(*gorm.DB) error {
	assignID(&m.ID)
	return nil
}
