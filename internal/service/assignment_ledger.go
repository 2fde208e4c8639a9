package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// AssignmentLedger records which technicians work which tickets.
type AssignmentLedger struct {
	store  repository.Store
	events eventPublisher
	logger *zap.Logger
	now    func() time.Time
}

// AssignmentLedgerDependencies bundles collaborators for the ledger.
type AssignmentLedgerDependencies struct {
	Store      repository.Store
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Clock      func() time.Time
}

// NewAssignmentLedger creates the ledger.
func NewAssignmentLedger(deps AssignmentLedgerDependencies) *AssignmentLedger {
	logger := loggerOrNop(deps.Logger)
	return &AssignmentLedger{
		store:  deps.Store,
		events: eventPublisher{dispatcher: deps.Dispatcher, logger: logger},
		logger: logger,
		now:    clockOrDefault(deps.Clock),
	}
}

// Assign adds co-technicians to a ticket the caller already works on.
// A nil target list is rejected; an empty one is a no-op.
func (l *AssignmentLedger) Assign(ctx context.Context, caller domain.Principal, ticketID int64, targetIDs []int64) (added []int64, err error) {
	ctx, span := startSpan(ctx, "AssignmentLedger.Assign", caller,
		attribute.Int64("ticket.id", ticketID), attribute.Int("targets", len(targetIDs)))
	defer func() { finishSpan(span, err) }()

	if err := requireTechnician(caller); err != nil {
		return nil, err
	}

	err = l.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if _, err := loadTicket(ctx, repos, ticketID); err != nil {
			return err
		}
		if err := requireAssigned(ctx, repos, ticketID, caller); err != nil {
			return err
		}
		if targetIDs == nil {
			return apperrors.NewValidationError("technician ids must be a list", map[string]any{"field": "technician_ids"})
		}

		at := l.now()
		seen := make(map[int64]struct{}, len(targetIDs))
		for _, id := range targetIDs {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}

			if err := checkActiveTechnician(ctx, repos, id); err != nil {
				return err
			}
			isNew, err := repos.Assignments.Add(ctx, ticketID, id, at)
			if err != nil {
				return err
			}
			if isNew {
				added = append(added, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(added) > 0 {
		l.logger.Info("technicians assigned", zap.Int64("ticket_id", ticketID), zap.Int64s("added", added))
		l.events.publish(ctx, events.New(events.EventTechniciansAssigned, ticketID, caller, l.now(),
			events.TechniciansAssignedPayload{Added: added}))
	}
	return added, nil
}

func checkActiveTechnician(ctx context.Context, repos repository.Repositories, id int64) error {
	invalid := apperrors.NewValidationError("not an active technician",
		map[string]any{"field": "technician_ids", "value": id})
	user, err := repos.Users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return invalid
		}
		return err
	}
	if !user.Active || user.Role != domain.RoleTechnician {
		return invalid
	}
	return nil
}

// IsAssigned reports whether the technician works the ticket.
func (l *AssignmentLedger) IsAssigned(ctx context.Context, ticketID, technicianID int64) (ok bool, err error) {
	err = l.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		ok, err = repos.Assignments.Exists(ctx, ticketID, technicianID)
		return err
	})
	return ok, err
}

// ListTechnicians returns the ticket's technicians ordered by username.
func (l *AssignmentLedger) ListTechnicians(ctx context.Context, ticketID int64) (out []domain.TechnicianRef, err error) {
	err = l.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if _, err := loadTicket(ctx, repos, ticketID); err != nil {
			return err
		}
		var err error
		out, err = repos.Assignments.ListTechnicians(ctx, ticketID)
		return err
	})
	return out, err
}

// ListActiveTechnicians returns the technicians that can be added to a ticket.
func (l *AssignmentLedger) ListActiveTechnicians(ctx context.Context, caller domain.Principal) (out []domain.TechnicianRef, err error) {
	ctx, span := startSpan(ctx, "AssignmentLedger.ListActiveTechnicians", caller)
	defer func() { finishSpan(span, err) }()

	if err := requireTechnician(caller); err != nil {
		return nil, err
	}
	err = l.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		out, err = repos.Users.ListActiveTechnicians(ctx)
		return err
	})
	return out, err
}
