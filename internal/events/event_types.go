package events

import (
	"time"

	"github.com/ticketdesk/ticket-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated       EventType = "ticket_created"
	EventTicketPicked        EventType = "ticket_picked"
	EventTicketStatusChanged EventType = "ticket_status_changed"
	EventTicketCommented     EventType = "ticket_commented"
	EventTicketEscalated     EventType = "ticket_escalated"
)

// Event represents a domain event emitted by services. ActorID is nil for
// system actions.
type Event struct {
	Type         EventType `json:"type"`
	TicketID     string    `json:"ticket_id"`
	TicketNumber string    `json:"ticket_number"`
	ActorID      *string   `json:"actor_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Payload      any       `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Priority domain.TicketPriority `json:"priority"`
	Title    string                `json:"title"`
}

// TicketPickedPayload payload.
type TicketPickedPayload struct {
	PickedBy           string    `json:"picked_by"`
	ResolutionDeadline time.Time `json:"resolution_deadline"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
}

// TicketCommentedPayload payload.
type TicketCommentedPayload struct {
	BodyPreview string `json:"body_preview"`
}

// TicketEscalatedPayload payload.
type TicketEscalatedPayload struct {
	From             domain.EscalationLevel `json:"from"`
	To               domain.EscalationLevel `json:"to"`
	NotificationSent bool                   `json:"notification_sent"`
}
