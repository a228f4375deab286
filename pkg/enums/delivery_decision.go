package enums

import "fmt"

// DeliveryDecision is a partner's answer to a delivery opportunity.
type DeliveryDecision string

const (
	DeliveryDecisionPending    DeliveryDecision = "PENDING"
	DeliveryDecisionAccepted   DeliveryDecision = "ACCEPTED"
	DeliveryDecisionRejected   DeliveryDecision = "REJECTED"
	DeliveryDecisionSuperseded DeliveryDecision = "SUPERSEDED"
)

var validDeliveryDecisions = []DeliveryDecision{
	DeliveryDecisionPending,
	DeliveryDecisionAccepted,
	DeliveryDecisionRejected,
	DeliveryDecisionSuperseded,
}

// String implements fmt.Stringer.
func (d DeliveryDecision) String() string {
	return string(d)
}

// IsValid reports whether the value is a known DeliveryDecision.
func (d DeliveryDecision) IsValid() bool {
	for _, candidate := range validDeliveryDecisions {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDeliveryDecision converts raw input into a DeliveryDecision.
func ParseDeliveryDecision(value string) (DeliveryDecision, error) {
	for _, candidate := range validDeliveryDecisions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid delivery decision %q", value)
}
