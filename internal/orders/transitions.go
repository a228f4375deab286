package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradeloop-backend/pkg/db/models"
	"github.com/angelmondragon/tradeloop-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradeloop-backend/pkg/errors"
	"github.com/angelmondragon/tradeloop-backend/pkg/metrics"
	"github.com/angelmondragon/tradeloop-backend/pkg/outbox"
	"github.com/angelmondragon/tradeloop-backend/pkg/outbox/payloads"
)

var allowedTransitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPlaced: {
		enums.OrderStatusPaymentPending,
		enums.OrderStatusPaymentCompleted,
		enums.OrderStatusConfirmed,
		enums.OrderStatusPickupCompleted,
		enums.OrderStatusCancelled,
	},
	// Back to ORDER_PLACED when the last live payment intent closes unpaid.
	enums.OrderStatusPaymentPending: {
		enums.OrderStatusPlaced,
		enums.OrderStatusPaymentCompleted,
		enums.OrderStatusPickupCompleted,
		enums.OrderStatusCancelled,
	},
	enums.OrderStatusPaymentCompleted: {
		enums.OrderStatusConfirmed,
		enums.OrderStatusPickupCompleted,
		enums.OrderStatusCancelled,
		enums.OrderStatusRefundRequested,
	},
	enums.OrderStatusConfirmed: {
		enums.OrderStatusPreparationStarted,
		enums.OrderStatusPickupCompleted,
		enums.OrderStatusCancelled,
		enums.OrderStatusRefundRequested,
	},
	enums.OrderStatusPreparationStarted: {
		enums.OrderStatusReadyForPickup,
		enums.OrderStatusPickupCompleted,
		enums.OrderStatusCancelled,
		enums.OrderStatusRefundRequested,
	},
	enums.OrderStatusReadyForPickup: {
		enums.OrderStatusPickupCompleted,
		enums.OrderStatusCancelled,
		enums.OrderStatusRefundRequested,
	},
	enums.OrderStatusPickupCompleted:   {enums.OrderStatusOutForDelivery},
	enums.OrderStatusOutForDelivery:    {enums.OrderStatusDeliveryAttempted, enums.OrderStatusDelivered},
	enums.OrderStatusDeliveryAttempted: {enums.OrderStatusOutForDelivery},
	enums.OrderStatusDelivered:         {enums.OrderStatusRefundRequested},
	enums.OrderStatusRefundRequested:   {enums.OrderStatusRefundProcessed},
	enums.OrderStatusCancelled:         nil,
	enums.OrderStatusRefundProcessed:   nil,
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to enums.OrderStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves status.
func IsTerminal(status enums.OrderStatus) bool {
	return len(allowedTransitions[status]) == 0
}

// TransitionInput describes one status change.
type TransitionInput struct {
	OrderID   uuid.UUID
	From      enums.OrderStatus
	To        enums.OrderStatus
	ActorID   *uuid.UUID
	ActorRole enums.UserRole
	Reason    string
	Metadata  map[string]any
	Latitude  *float64
	Longitude *float64
}

// Transitioner is the only writer of orders.status. Each applied transition
// is a compare-and-set on the current status plus exactly one OrderEvent,
// both inside the caller's transaction.
type Transitioner struct {
	outbox  outboxPublisher
	metrics *metrics.DomainMetrics
	now     func() time.Time
}

func NewTransitioner(outbox outboxPublisher, m *metrics.DomainMetrics) (*Transitioner, error) {
	if outbox == nil {
		return nil, errors.New("outbox publisher required")
	}
	return &Transitioner{outbox: outbox, metrics: m, now: time.Now}, nil
}

func (t *Transitioner) Apply(ctx context.Context, tx *gorm.DB, in TransitionInput) (*models.OrderEvent, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transition requires a transaction")
	}
	if !CanTransition(in.From, in.To) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order cannot move from %s to %s", in.From, in.To))
	}

	res := tx.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", in.OrderID, in.From).
		Updates(map[string]any{"status": in.To, "updated_at": t.now().UTC()})
	if res.Error != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update order status")
	}
	if res.RowsAffected == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order status changed concurrently")
	}

	event := &models.OrderEvent{
		OrderID:         in.OrderID,
		EventType:       in.To,
		Latitude:        in.Latitude,
		Longitude:       in.Longitude,
		Metadata:        in.Metadata,
		CreatedByUserID: in.ActorID,
	}
	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}
	event.Metadata["from"] = string(in.From)
	if in.Reason != "" {
		event.Metadata["reason"] = in.Reason
	}
	if err := tx.WithContext(ctx).Create(event).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append order event")
	}

	var actor *outbox.ActorRef
	if in.ActorID != nil {
		actor = &outbox.ActorRef{UserID: *in.ActorID, Role: string(in.ActorRole)}
	}
	if err := t.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   in.OrderID,
		Actor:         actor,
		Data: payloads.OrderStatusChangedEvent{
			OrderID:         in.OrderID,
			From:            string(in.From),
			To:              string(in.To),
			ChangedByUserID: in.ActorID,
			Reason:          in.Reason,
		},
	}); err != nil {
		return nil, err
	}

	t.metrics.OrderTransition(string(in.From), string(in.To))
	return event, nil
}

// ApplyIfLegal reads the current status and applies the transition only when
// the table allows it. It reports whether a transition happened.
func (t *Transitioner) ApplyIfLegal(ctx context.Context, tx *gorm.DB, in TransitionInput) (bool, error) {
	var order models.Order
	if err := tx.WithContext(ctx).Select("id", "status").First(&order, "id = ?", in.OrderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order status")
	}
	if !CanTransition(order.Status, in.To) {
		return false, nil
	}
	in.From = order.Status
	if _, err := t.Apply(ctx, tx, in); err != nil {
		return false, err
	}
	return true, nil
}
