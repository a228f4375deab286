package enums

import "fmt"

// P2POrderStatus is independent from the catalog OrderStatus.
type P2POrderStatus string

const (
	P2POrderStatusPendingPayment P2POrderStatus = "PENDING_PAYMENT"
	P2POrderStatusPaid           P2POrderStatus = "PAID"
	P2POrderStatusShipped        P2POrderStatus = "SHIPPED"
	P2POrderStatusDelivered      P2POrderStatus = "DELIVERED"
	P2POrderStatusCompleted      P2POrderStatus = "COMPLETED"
	P2POrderStatusCancelled      P2POrderStatus = "CANCELLED"
	P2POrderStatusRefunded       P2POrderStatus = "REFUNDED"
)

var validP2POrderStatuses = []P2POrderStatus{
	P2POrderStatusPendingPayment,
	P2POrderStatusPaid,
	P2POrderStatusShipped,
	P2POrderStatusDelivered,
	P2POrderStatusCompleted,
	P2POrderStatusCancelled,
	P2POrderStatusRefunded,
}

// String implements fmt.Stringer.
func (p P2POrderStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known P2POrderStatus.
func (p P2POrderStatus) IsValid() bool {
	for _, candidate := range validP2POrderStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseP2POrderStatus converts raw input into a P2POrderStatus.
func ParseP2POrderStatus(value string) (P2POrderStatus, error) {
	for _, candidate := range validP2POrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid p2p order status %q", value)
}
