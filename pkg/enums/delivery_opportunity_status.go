package enums

import "fmt"

// DeliveryOpportunityStatus tracks the single broadcast record per order.
type DeliveryOpportunityStatus string

const (
	DeliveryOpportunityOpen      DeliveryOpportunityStatus = "OPEN"
	DeliveryOpportunityClaimed   DeliveryOpportunityStatus = "CLAIMED"
	DeliveryOpportunityExpired   DeliveryOpportunityStatus = "EXPIRED"
	DeliveryOpportunityCancelled DeliveryOpportunityStatus = "CANCELLED"
)

var validDeliveryOpportunityStatuses = []DeliveryOpportunityStatus{
	DeliveryOpportunityOpen,
	DeliveryOpportunityClaimed,
	DeliveryOpportunityExpired,
	DeliveryOpportunityCancelled,
}

// String implements fmt.Stringer.
func (d DeliveryOpportunityStatus) String() string {
	return string(d)
}

// IsValid reports whether the value is a known DeliveryOpportunityStatus.
func (d DeliveryOpportunityStatus) IsValid() bool {
	for _, candidate := range validDeliveryOpportunityStatuses {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDeliveryOpportunityStatus converts raw input into a DeliveryOpportunityStatus.
func ParseDeliveryOpportunityStatus(value string) (DeliveryOpportunityStatus, error) {
	for _, candidate := range validDeliveryOpportunityStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid delivery opportunity status %q", value)
}
