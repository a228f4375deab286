package enums

import "fmt"

// OrderStatus is shared by orders.status and order_events.event_type.
type OrderStatus string

const (
	OrderStatusPlaced             OrderStatus = "ORDER_PLACED"
	OrderStatusPaymentPending     OrderStatus = "PAYMENT_PENDING"
	OrderStatusPaymentCompleted   OrderStatus = "PAYMENT_COMPLETED"
	OrderStatusConfirmed          OrderStatus = "ORDER_CONFIRMED"
	OrderStatusPreparationStarted OrderStatus = "PREPARATION_STARTED"
	OrderStatusReadyForPickup     OrderStatus = "READY_FOR_PICKUP"
	OrderStatusPickupCompleted    OrderStatus = "PICKUP_COMPLETED"
	OrderStatusOutForDelivery     OrderStatus = "OUT_FOR_DELIVERY"
	OrderStatusDeliveryAttempted  OrderStatus = "DELIVERY_ATTEMPTED"
	OrderStatusDelivered          OrderStatus = "DELIVERED"
	OrderStatusCancelled          OrderStatus = "CANCELLED"
	OrderStatusRefundRequested    OrderStatus = "REFUND_REQUESTED"
	OrderStatusRefundProcessed    OrderStatus = "REFUND_PROCESSED"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusPlaced,
	OrderStatusPaymentPending,
	OrderStatusPaymentCompleted,
	OrderStatusConfirmed,
	OrderStatusPreparationStarted,
	OrderStatusReadyForPickup,
	OrderStatusPickupCompleted,
	OrderStatusOutForDelivery,
	OrderStatusDeliveryAttempted,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusRefundRequested,
	OrderStatusRefundProcessed,
}

// String implements fmt.Stringer.
func (o OrderStatus) String() string {
	return string(o)
}

// IsValid reports whether the value is a known OrderStatus.
func (o OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseOrderStatus converts raw input into a OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
