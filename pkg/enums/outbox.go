package enums

import "fmt"

// OutboxAggregateType names the aggregate an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateOrder        OutboxAggregateType = "order"
	AggregateP2POrder     OutboxAggregateType = "p2p_order"
	AggregateOffer        OutboxAggregateType = "offer"
	AggregatePayment      OutboxAggregateType = "payment"
	AggregateProduct      OutboxAggregateType = "product"
	AggregateFeeConfig    OutboxAggregateType = "fee_configuration"
	AggregateDelivery     OutboxAggregateType = "delivery_opportunity"
	AggregateNotification OutboxAggregateType = "notification"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateP2POrder,
	AggregateOffer,
	AggregatePayment,
	AggregateProduct,
	AggregateFeeConfig,
	AggregateDelivery,
	AggregateNotification,
}

// IsValid reports whether the value is a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType names a domain event.
type OutboxEventType string

const (
	EventOrderCreated         OutboxEventType = "order_created"
	EventOrderStatusChanged   OutboxEventType = "order_status_changed"
	EventOrderCancelled       OutboxEventType = "order_cancelled"
	EventDeliveryBroadcast    OutboxEventType = "delivery_broadcast"
	EventDeliveryClaimed      OutboxEventType = "delivery_claimed"
	EventDeliveryExpired      OutboxEventType = "delivery_expired"
	EventOfferCreated         OutboxEventType = "offer_created"
	EventOfferResponded       OutboxEventType = "offer_responded"
	EventOfferExpired         OutboxEventType = "offer_expired"
	EventOfferWithdrawn       OutboxEventType = "offer_withdrawn"
	EventPaymentIntentCreated OutboxEventType = "payment_intent_created"
	EventPaymentSucceeded     OutboxEventType = "payment_succeeded"
	EventPaymentFailed        OutboxEventType = "payment_failed"
	EventPaymentRefunded      OutboxEventType = "payment_refunded"
	EventPaymentAbandoned     OutboxEventType = "payment_abandoned"
	EventProductLowStock      OutboxEventType = "product_low_stock"
	EventFeeConfigActivated   OutboxEventType = "fee_configuration_activated"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderStatusChanged,
	EventOrderCancelled,
	EventDeliveryBroadcast,
	EventDeliveryClaimed,
	EventDeliveryExpired,
	EventOfferCreated,
	EventOfferResponded,
	EventOfferExpired,
	EventOfferWithdrawn,
	EventPaymentIntentCreated,
	EventPaymentSucceeded,
	EventPaymentFailed,
	EventPaymentRefunded,
	EventPaymentAbandoned,
	EventProductLowStock,
	EventFeeConfigActivated,
}

// IsValid reports whether the value is a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
