package enums

import "fmt"

// UserItemStatus tracks a peer listing.
type UserItemStatus string

const (
	UserItemStatusAvailable UserItemStatus = "AVAILABLE"
	UserItemStatusReserved  UserItemStatus = "RESERVED"
	UserItemStatusSold      UserItemStatus = "SOLD"
	UserItemStatusWithdrawn UserItemStatus = "WITHDRAWN"
)

var validUserItemStatuses = []UserItemStatus{
	UserItemStatusAvailable,
	UserItemStatusReserved,
	UserItemStatusSold,
	UserItemStatusWithdrawn,
}

// String implements fmt.Stringer.
func (u UserItemStatus) String() string {
	return string(u)
}

// IsValid reports whether the value is a known UserItemStatus.
func (u UserItemStatus) IsValid() bool {
	for _, candidate := range validUserItemStatuses {
		if candidate == u {
			return true
		}
	}
	return false
}

// ParseUserItemStatus converts raw input into a UserItemStatus.
func ParseUserItemStatus(value string) (UserItemStatus, error) {
	for _, candidate := range validUserItemStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid user item status %q", value)
}
