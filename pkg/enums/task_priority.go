package enums

import "fmt"

type TaskPriority string

const (
	TaskPriorityLow    TaskPriority = "LOW"
	TaskPriorityNormal TaskPriority = "NORMAL"
	TaskPriorityHigh   TaskPriority = "HIGH"
	TaskPriorityUrgent TaskPriority = "URGENT"
)

var validTaskPrioritys = []TaskPriority{
	TaskPriorityLow,
	TaskPriorityNormal,
	TaskPriorityHigh,
	TaskPriorityUrgent,
}

// String implements fmt.Stringer.
func (t TaskPriority) String() string {
	return string(t)
}

// IsValid reports whether the value is a known TaskPriority.
func (t TaskPriority) IsValid() bool {
	for _, candidate := range validTaskPrioritys {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseTaskPriority converts raw input into a TaskPriority.
func ParseTaskPriority(value string) (TaskPriority, error) {
	for _, candidate := range validTaskPrioritys {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid task priority %q", value)
}
