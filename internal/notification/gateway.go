package notification

import (
	"context"

	"github.com/ticketdesk/ticket-service/internal/domain"
)

// Gateway delivers escalation alerts. It reports success instead of failing:
// a lost alert must never undo the escalation that triggered it.
type Gateway interface {
	SendEscalationEmail(ctx context.Context, ticket *domain.Ticket, tier domain.EscalationLevel) bool
}

// NopGateway drops every alert.
type NopGateway struct{}

func (NopGateway) SendEscalationEmail(context.Context, *domain.Ticket, domain.EscalationLevel) bool {
	return false
}
