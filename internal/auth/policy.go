// ABOUTME: Capability allow-list evaluation for user principals
// ABOUTME: "*" grants everything; otherwise the operation name must match exactly

package auth

import "fmt"

// Operation names a user-plane operation gated by capabilities.
type Operation string

// Wildcard is the capability pattern that grants every operation.
const Wildcard = "*"

const (
	OpCreateCalendar      Operation = "CreateCalendar"
	OpDeleteCalendar      Operation = "DeleteCalendar"
	OpUpdateCalendar      Operation = "UpdateCalendar"
	OpCreateCalendarEvent Operation = "CreateCalendarEvent"
	OpDeleteCalendarEvent Operation = "DeleteCalendarEvent"
	OpUpdateCalendarEvent Operation = "UpdateCalendarEvent"
	OpCreateSchedule      Operation = "CreateSchedule"
	OpUpdateSchedule      Operation = "UpdateSchedule"
	OpDeleteSchedule      Operation = "DeleteSchedule"
)

// Operations lists every known operation.
var Operations = []Operation{
	OpCreateCalendar,
	OpDeleteCalendar,
	OpUpdateCalendar,
	OpCreateCalendarEvent,
	OpDeleteCalendarEvent,
	OpUpdateCalendarEvent,
	OpCreateSchedule,
	OpUpdateSchedule,
	OpDeleteSchedule,
}

// Authorize returns nil if capabilities grant op, ErrDenied otherwise.
// There is no prefix or partial matching: "Create*" grants nothing.
func Authorize(capabilities []string, op Operation) error {
	for _, c := range capabilities {
		if c == Wildcard || c == string(op) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrDenied, op)
}
