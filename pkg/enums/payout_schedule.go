package enums

import "fmt"

type PayoutSchedule string

const (
	PayoutScheduleDaily   PayoutSchedule = "DAILY"
	PayoutScheduleWeekly  PayoutSchedule = "WEEKLY"
	PayoutScheduleMonthly PayoutSchedule = "MONTHLY"
)

var validPayoutSchedules = []PayoutSchedule{
	PayoutScheduleDaily,
	PayoutScheduleWeekly,
	PayoutScheduleMonthly,
}

// String implements fmt.Stringer.
func (p PayoutSchedule) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PayoutSchedule.
func (p PayoutSchedule) IsValid() bool {
	for _, candidate := range validPayoutSchedules {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePayoutSchedule converts raw input into a PayoutSchedule.
func ParsePayoutSchedule(value string) (PayoutSchedule, error) {
	for _, candidate := range validPayoutSchedules {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payout schedule %q", value)
}
