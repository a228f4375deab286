package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradeloop-backend/internal/users"
	"github.com/angelmondragon/tradeloop-backend/pkg/db/models"
	"github.com/angelmondragon/tradeloop-backend/pkg/enums"
	"github.com/angelmondragon/tradeloop-backend/pkg/types"
)

// CreateInput carries the order.create request.
type CreateInput struct {
	CartID    uuid.UUID
	AddressID uuid.UUID
	Notes     *string
}

type OrderDTO struct {
	ID               uuid.UUID              `json:"id"`
	UserID           uuid.UUID              `json:"user_id"`
	AddressID        uuid.UUID              `json:"address_id"`
	Address          *types.AddressSnapshot `json:"address,omitempty"`
	SubtotalCents    int64                  `json:"subtotal_cents"`
	DeliveryFeeCents int64                  `json:"delivery_fee_cents"`
	TotalCents       int64                  `json:"total_cents"`
	Status           enums.OrderStatus      `json:"status"`
	Notes            *string                `json:"notes,omitempty"`
	Items            []OrderItemDTO         `json:"items"`
	Events           []OrderEventDTO        `json:"events,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

type OrderItemDTO struct {
	ID             uuid.UUID `json:"id"`
	ProductID      uuid.UUID `json:"product_id"`
	ShopID         uuid.UUID `json:"shop_id"`
	Quantity       int       `json:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	SubtotalCents  int64     `json:"subtotal_cents"`
}

type OrderEventDTO struct {
	ID              uuid.UUID         `json:"id"`
	EventType       enums.OrderStatus `json:"event_type"`
	Latitude        *float64          `json:"latitude,omitempty"`
	Longitude       *float64          `json:"longitude,omitempty"`
	CreatedByUserID *uuid.UUID        `json:"created_by_user_id,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// FromModel maps an order row. Event metadata is never exposed since it can
// carry pickup tokens.
func FromModel(o *models.Order) OrderDTO {
	dto := OrderDTO{
		ID:               o.ID,
		UserID:           o.UserID,
		AddressID:        o.AddressID,
		SubtotalCents:    o.SubtotalCents,
		DeliveryFeeCents: o.DeliveryFeeCents,
		TotalCents:       o.TotalCents,
		Status:           o.Status,
		Notes:            o.Notes,
		Items:            make([]OrderItemDTO, 0, len(o.Items)),
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
	if o.Address != nil {
		snap := users.Snapshot(o.Address)
		dto.Address = &snap
	}
	for _, item := range o.Items {
		dto.Items = append(dto.Items, OrderItemDTO{
			ID:             item.ID,
			ProductID:      item.ProductID,
			ShopID:         item.ShopID,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
			SubtotalCents:  item.SubtotalCents,
		})
	}
	for _, ev := range o.Events {
		dto.Events = append(dto.Events, OrderEventDTO{
			ID:              ev.ID,
			EventType:       ev.EventType,
			Latitude:        ev.Latitude,
			Longitude:       ev.Longitude,
			CreatedByUserID: ev.CreatedByUserID,
			CreatedAt:       ev.CreatedAt,
		})
	}
	return dto
}
