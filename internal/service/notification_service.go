package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/ticketdesk/ticket-service/internal/events"
)

// NotificationService turns ticket events into structured activity logs.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger.Named("activity"),
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	for _, eventType := range []events.EventType{
		events.EventTicketCreated,
		events.EventTicketPicked,
		events.EventTicketStatusChanged,
		events.EventTicketCommented,
		events.EventTicketEscalated,
	} {
		n.dispatcher.Subscribe(eventType, n.logEvent)
	}
}

func (n *NotificationService) logEvent(_ context.Context, event events.Event) error {
	fields := []zap.Field{
		zap.String("event", string(event.Type)),
		zap.String("ticket_id", event.TicketID),
		zap.String("ticket_number", event.TicketNumber),
		zap.Any("payload", event.Payload),
	}
	if event.ActorID != nil {
		fields = append(fields, zap.String("actor_id", *event.ActorID))
	} else {
		fields = append(fields, zap.String("actor", "system"))
	}
	n.logger.Info("ticket activity", fields...)
	return nil
}
