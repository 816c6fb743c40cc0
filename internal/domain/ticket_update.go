package domain

import "time"

// TicketUpdateType captures what an audit entry documents.
type TicketUpdateType string

const (
	UpdateTypeStatusChange TicketUpdateType = "status_change"
	UpdateTypeAssignment   TicketUpdateType = "assignment"
	UpdateTypeComment      TicketUpdateType = "comment"
	UpdateTypeEscalation   TicketUpdateType = "escalation"
)

// TicketUpdate is an immutable audit trail entry. UpdatedBy is nil for
// system actions such as automatic escalation.
type TicketUpdate struct {
	UpdatedBy   *string
	Type        TicketUpdateType
	Description string
	Timestamp   time.Time
}
