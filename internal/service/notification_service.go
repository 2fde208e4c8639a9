package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/events"
)

// EventSink receives every ticket event after it was logged.
type EventSink interface {
	Send(ctx context.Context, event events.Event) error
}

// NotificationService logs ticket events and forwards them to an optional sink.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	sink       EventSink
}

// NewNotificationService creates the service. sink may be nil.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, sink EventSink) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     loggerOrNop(logger),
		sink:       sink,
	}
}

// RegisterHandlers subscribes to every ticket event.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	for _, eventType := range events.AllEventTypes {
		n.dispatcher.Subscribe(eventType, n.handle)
	}
}

func (n *NotificationService) handle(ctx context.Context, event events.Event) error {
	n.logger.Info(string(event.Type),
		zap.String("event_id", event.ID),
		zap.Int64("ticket_id", event.TicketID),
		zap.Int64("actor_id", event.Actor.UserID),
		zap.Any("payload", event.Payload))
	if n.sink == nil {
		return nil
	}
	return n.sink.Send(ctx, event)
}
