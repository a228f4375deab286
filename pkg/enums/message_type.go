package enums

import "fmt"

// MessageType distinguishes free text from system-authored offer guidance.
type MessageType string

const (
	MessageTypeText           MessageType = "TEXT"
	MessageTypeImage          MessageType = "IMAGE"
	MessageTypeOffer          MessageType = "OFFER"
	MessageTypePendingPayment MessageType = "PENDING_PAYMENT"
)

var validMessageTypes = []MessageType{
	MessageTypeText,
	MessageTypeImage,
	MessageTypeOffer,
	MessageTypePendingPayment,
}

// String implements fmt.Stringer.
func (m MessageType) String() string {
	return string(m)
}

// IsValid reports whether the value is a known MessageType.
func (m MessageType) IsValid() bool {
	for _, candidate := range validMessageTypes {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParseMessageType converts raw input into a MessageType.
func ParseMessageType(value string) (MessageType, error) {
	for _, candidate := range validMessageTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid message type %q", value)
}
