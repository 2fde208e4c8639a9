package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

var tracer = otel.Tracer("github.com/spec-kit/helpdesk-service/internal/service")

func startSpan(ctx context.Context, name string, caller domain.Principal, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.Int64("caller.id", caller.UserID),
		attribute.String("caller.role", string(caller.Role)),
	)
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func systemClock() time.Time {
	return time.Now().UTC()
}

func clockOrDefault(clock func() time.Time) func() time.Time {
	if clock == nil {
		return systemClock
	}
	return clock
}

func loggerOrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// eventPublisher hands committed events to the dispatcher.
type eventPublisher struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

func (p eventPublisher) publish(ctx context.Context, evs ...events.Event) {
	if p.dispatcher == nil {
		return
	}
	for _, ev := range evs {
		if err := p.dispatcher.Publish(ctx, ev); err != nil {
			p.logger.Warn("event handler failed",
				zap.String("event_type", string(ev.Type)),
				zap.Int64("ticket_id", ev.TicketID),
				zap.Error(err))
		}
	}
}

func requireRequester(caller domain.Principal) error {
	if !caller.IsRequester() {
		return apperrors.NewUnauthorized("requester role required")
	}
	return nil
}

func requireTechnician(caller domain.Principal) error {
	if !caller.IsTechnician() {
		return apperrors.NewUnauthorized("technician role required")
	}
	return nil
}

// requireAssigned is the authorization check of every technician mutation.
func requireAssigned(ctx context.Context, repos repository.Repositories, ticketID int64, caller domain.Principal) error {
	if err := requireTechnician(caller); err != nil {
		return err
	}
	ok, err := repos.Assignments.Exists(ctx, ticketID, caller.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NewUnauthorized("not assigned to this ticket")
	}
	return nil
}

func loadTicket(ctx context.Context, repos repository.Repositories, ticketID int64) (*domain.Ticket, error) {
	ticket, err := repos.Tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, err
	}
	return ticket, nil
}

func stringPreview(body string, max int) string {
	body = strings.TrimSpace(body)
	runes := []rune(body)
	if len(runes) <= max {
		return body
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
