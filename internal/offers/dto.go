package offers

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tradeloop-backend/pkg/db/models"
	"github.com/angelmondragon/tradeloop-backend/pkg/enums"
)

type CreateInput struct {
	ItemID           uuid.UUID
	OfferAmountCents int64
	Message          *string
}

type RespondInput struct {
	OfferID        uuid.UUID
	ConversationID uuid.UUID
	Status         enums.OfferStatus
}

type OfferDTO struct {
	ID               uuid.UUID         `json:"id"`
	ItemID           uuid.UUID         `json:"item_id"`
	BuyerUserID      uuid.UUID         `json:"buyer_user_id"`
	OfferAmountCents int64             `json:"offer_amount_cents"`
	Message          *string           `json:"message,omitempty"`
	Status           enums.OfferStatus `json:"status"`
	ValidUntil       *time.Time        `json:"valid_until,omitempty"`
	RespondedAt      *time.Time        `json:"responded_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

type ConversationDTO struct {
	ID            uuid.UUID                `json:"id"`
	ItemID        uuid.UUID                `json:"item_id"`
	BuyerUserID   uuid.UUID                `json:"buyer_user_id"`
	SellerUserID  uuid.UUID                `json:"seller_user_id"`
	Status        enums.ConversationStatus `json:"status"`
	LastMessageAt *time.Time               `json:"last_message_at,omitempty"`
}

type MessageDTO struct {
	ID             uuid.UUID         `json:"id"`
	ConversationID uuid.UUID         `json:"conversation_id"`
	SenderUserID   *uuid.UUID        `json:"sender_user_id,omitempty"`
	Type           enums.MessageType `json:"type"`
	Content        string            `json:"content"`
	OfferID        *uuid.UUID        `json:"offer_id,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

type CreateResult struct {
	Conversation ConversationDTO `json:"conversation"`
	Offer        OfferDTO        `json:"offer"`
	Message      MessageDTO      `json:"message"`
}

type RespondResult struct {
	Offer          OfferDTO    `json:"offer"`
	Message        MessageDTO  `json:"message"`
	PaymentMessage *MessageDTO `json:"payment_message,omitempty"`
}

func offerDTO(o *models.UserItemOffer) OfferDTO {
	return OfferDTO{
		ID:               o.ID,
		ItemID:           o.ItemID,
		BuyerUserID:      o.BuyerUserID,
		OfferAmountCents: o.OfferAmountCents,
		Message:          o.Message,
		Status:           o.Status,
		ValidUntil:       o.ValidUntil,
		RespondedAt:      o.RespondedAt,
		CreatedAt:        o.CreatedAt,
	}
}

func conversationDTO(c *models.ChatConversation) ConversationDTO {
	return ConversationDTO{
		ID:            c.ID,
		ItemID:        c.ItemID,
		BuyerUserID:   c.BuyerUserID,
		SellerUserID:  c.SellerUserID,
		Status:        c.Status,
		LastMessageAt: c.LastMessageAt,
	}
}

func messageDTO(m *models.ChatMessage) MessageDTO {
	return MessageDTO{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderUserID:   m.SenderUserID,
		Type:           m.Type,
		Content:        m.Content,
		OfferID:        m.OfferID,
		CreatedAt:      m.CreatedAt,
	}
}

// formatCents renders an amount as dollars for chat copy.
func formatCents(cents int64) string {
	return "$" + decimal.New(cents, -2).StringFixed(2)
}
