package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/config"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

const (
	requesterListLimit  = 200
	technicianListLimit = 300
	notePreviewLength   = 120
)

// TicketRegistry coordinates the ticket lifecycle.
type TicketRegistry struct {
	store       repository.Store
	gate        *SurveyGate
	attachments *AttachmentCatalog
	events      eventPublisher
	logger      *zap.Logger
	cfg         config.TicketConfig
	now         func() time.Time
}

// TicketRegistryDependencies bundles collaborators for the registry.
type TicketRegistryDependencies struct {
	Store       repository.Store
	SurveyGate  *SurveyGate
	Attachments *AttachmentCatalog
	Dispatcher  events.Dispatcher
	Logger      *zap.Logger
	Config      config.TicketConfig
	Clock       func() time.Time
}

// CreateTicketInput describes a new ticket as filed by a requester.
type CreateTicketInput struct {
	RequestType   string
	Description   string
	RequesterName string
	Images        []ImageUpload
}

// TicketDetail is the technician view of one ticket.
type TicketDetail struct {
	Ticket      domain.Ticket
	Notes       []domain.Note
	Technicians []domain.TechnicianRef
	Attachments []domain.Attachment
}

// QuotaStatus reports how many tickets a requester may still create.
type QuotaStatus struct {
	Count     int
	Limit     int
	Remaining int
}

// NewTicketRegistry constructs the registry.
func NewTicketRegistry(deps TicketRegistryDependencies) *TicketRegistry {
	logger := loggerOrNop(deps.Logger)
	return &TicketRegistry{
		store:       deps.Store,
		gate:        deps.SurveyGate,
		attachments: deps.Attachments,
		events:      eventPublisher{dispatcher: deps.Dispatcher, logger: logger},
		logger:      logger,
		cfg:         deps.Config,
		now:         clockOrDefault(deps.Clock),
	}
}

// CreateTicket files a ticket after the quota and survey gates pass.
func (r *TicketRegistry) CreateTicket(ctx context.Context, caller domain.Principal, input CreateTicketInput) (ticket *domain.Ticket, err error) {
	ctx, span := startSpan(ctx, "TicketRegistry.CreateTicket", caller, attribute.Int("images", len(input.Images)))
	defer func() { finishSpan(span, err) }()

	if err := requireRequester(caller); err != nil {
		return nil, err
	}
	requesterName := strings.TrimSpace(input.RequesterName)
	requestType := strings.TrimSpace(input.RequestType)
	description := strings.TrimSpace(input.Description)
	switch {
	case requesterName == "":
		return nil, apperrors.NewMissingField("requester_name")
	case requestType == "":
		return nil, apperrors.NewMissingField("request_type")
	case description == "":
		return nil, apperrors.NewMissingField("description")
	}

	var (
		saved   []domain.Attachment
		written []string
	)
	err = r.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if r.cfg.SerializeCreation {
			if err := repos.Users.LockForUpdate(ctx, caller.UserID); err != nil {
				return err
			}
		}

		count, err := repos.Tickets.CountByOwner(ctx, caller.UserID)
		if err != nil {
			return err
		}
		if count >= r.cfg.MaxTotalTickets {
			return apperrors.NewQuotaExceeded(count, r.cfg.MaxTotalTickets)
		}

		pending, err := r.gate.pending(ctx, repos, caller.UserID)
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			return apperrors.NewSurveyPending(pending)
		}

		user, err := repos.Users.GetByID(ctx, caller.UserID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperrors.NewUnauthenticated("account no longer exists")
			}
			return err
		}
		if user.AreaID == nil {
			return apperrors.NewValidationError("your account has no area assigned", map[string]any{"field": "area"})
		}

		created := &domain.Ticket{
			OwnerID:       caller.UserID,
			AreaID:        *user.AreaID,
			RequesterName: requesterName,
			Subject:       domain.SubjectFromRequestType(requestType),
			Description:   description,
			State:         domain.TicketStatePending,
			CreatedAt:     r.now(),
		}
		if err := repos.Tickets.Create(ctx, created); err != nil {
			return err
		}

		saved, written, err = r.attachments.attach(ctx, repos, created.ID, input.Images, false)
		if err != nil {
			return err
		}

		ticket, err = repos.Tickets.GetByID(ctx, created.ID)
		return err
	})
	if err != nil {
		r.attachments.discard(ctx, written)
		return nil, err
	}

	r.logger.Info("ticket created",
		zap.Int64("ticket_id", ticket.ID),
		zap.Int64("owner_id", caller.UserID),
		zap.Int("attachments", len(saved)))
	r.events.publish(ctx, events.New(events.EventTicketCreated, ticket.ID, caller, ticket.CreatedAt,
		events.TicketCreatedPayload{AreaID: ticket.AreaID, Subject: ticket.Subject, Attachments: len(saved)}))
	return ticket, nil
}

// ListForRequester lists the caller's own tickets, newest first.
func (r *TicketRegistry) ListForRequester(ctx context.Context, caller domain.Principal, stateFilter string) (out []domain.Ticket, err error) {
	ctx, span := startSpan(ctx, "TicketRegistry.ListForRequester", caller, attribute.String("filter", stateFilter))
	defer func() { finishSpan(span, err) }()

	if err := requireRequester(caller); err != nil {
		return nil, err
	}
	owner := caller.UserID
	filter := repository.TicketFilter{
		OwnerID: &owner,
		States:  domain.RequesterStates(stateFilter),
		Limit:   requesterListLimit,
	}
	err = r.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		out, err = repos.Tickets.List(ctx, filter)
		return err
	})
	return out, err
}

// ListForTechnicianScope lists the unclaimed queue, the caller's open work or
// the caller's closed work.
func (r *TicketRegistry) ListForTechnicianScope(ctx context.Context, caller domain.Principal, rawScope string) (out []domain.Ticket, err error) {
	scope := domain.ParseTechnicianScope(rawScope)
	ctx, span := startSpan(ctx, "TicketRegistry.ListForTechnicianScope", caller, attribute.String("scope", string(scope)))
	defer func() { finishSpan(span, err) }()

	if err := requireTechnician(caller); err != nil {
		return nil, err
	}
	techID := caller.UserID
	filter := repository.TicketFilter{Limit: technicianListLimit}
	switch scope {
	case domain.ScopeAssigned:
		filter.TechnicianID = &techID
		filter.States = domain.OpenStates
	case domain.ScopeHistory:
		filter.TechnicianID = &techID
		filter.States = domain.TerminalStates
	default:
		filter.States = []domain.TicketState{domain.TicketStatePending}
		filter.Unassigned = true
	}
	err = r.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		out, err = repos.Tickets.List(ctx, filter)
		return err
	})
	return out, err
}

// ChangeState moves an assigned ticket to EN_CURSO, RESUELTO or CANCELADO.
func (r *TicketRegistry) ChangeState(ctx context.Context, caller domain.Principal, ticketID int64, rawState, note string) (ticket *domain.Ticket, err error) {
	ctx, span := startSpan(ctx, "TicketRegistry.ChangeState", caller,
		attribute.Int64("ticket.id", ticketID), attribute.String("state", rawState))
	defer func() { finishSpan(span, err) }()

	if err := requireTechnician(caller); err != nil {
		return nil, err
	}
	note = strings.TrimSpace(note)

	var oldState domain.TicketState
	err = r.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		current, err := loadTicket(ctx, repos, ticketID)
		if err != nil {
			return err
		}
		if err := requireAssigned(ctx, repos, ticketID, caller); err != nil {
			return err
		}

		next, ok := domain.ParseTicketState(rawState)
		if !ok || next == domain.TicketStatePending {
			return apperrors.NewValidationError("state must be EN_CURSO, RESUELTO or CANCELADO",
				map[string]any{"field": "state", "value": rawState})
		}
		if next == domain.TicketStateResolved && note == "" {
			return apperrors.NewMissingNote()
		}
		if !current.State.IsOpen() {
			return apperrors.NewInvalidState("ticket is already closed", map[string]any{"state": current.State})
		}
		oldState = current.State

		now := r.now()
		var closedAt *time.Time
		if next.IsTerminal() {
			closedAt = &now
		}
		if err := repos.Tickets.UpdateState(ctx, ticketID, next, closedAt); err != nil {
			return err
		}
		if note != "" {
			if err := repos.Notes.Create(ctx, &domain.Note{
				TicketID:       ticketID,
				AuthorID:       caller.UserID,
				AuthorUsername: caller.Username,
				Text:           note,
				CreatedAt:      now,
			}); err != nil {
				return err
			}
		}
		ticket, err = loadTicket(ctx, repos, ticketID)
		return err
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("ticket state changed",
		zap.Int64("ticket_id", ticketID),
		zap.String("from", string(oldState)),
		zap.String("to", string(ticket.State)))
	r.events.publish(ctx, events.New(events.EventTicketStateChanged, ticketID, caller, r.now(),
		events.TicketStateChangedPayload{OldState: oldState, NewState: ticket.State, Note: note}))
	return ticket, nil
}

// Claim assigns the caller to the ticket. Claiming twice is a no-op.
func (r *TicketRegistry) Claim(ctx context.Context, caller domain.Principal, ticketID int64) (ticket *domain.Ticket, err error) {
	ctx, span := startSpan(ctx, "TicketRegistry.Claim", caller, attribute.Int64("ticket.id", ticketID))
	defer func() { finishSpan(span, err) }()

	if err := requireTechnician(caller); err != nil {
		return nil, err
	}

	var added bool
	err = r.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if _, err := loadTicket(ctx, repos, ticketID); err != nil {
			return err
		}
		var err error
		added, err = repos.Assignments.Add(ctx, ticketID, caller.UserID, r.now())
		if err != nil {
			return err
		}
		if err := repos.Tickets.MarkClaimed(ctx, ticketID, caller.UserID); err != nil {
			return err
		}
		ticket, err = loadTicket(ctx, repos, ticketID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if added {
		r.logger.Info("ticket claimed", zap.Int64("ticket_id", ticketID), zap.Int64("technician_id", caller.UserID))
		r.events.publish(ctx, events.New(events.EventTicketClaimed, ticketID, caller, r.now(),
			events.TicketClaimedPayload{TechnicianID: caller.UserID, State: ticket.State}))
	}
	return ticket, nil
}

// AddNote appends an observation to a ticket the caller works on.
func (r *TicketRegistry) AddNote(ctx context.Context, caller domain.Principal, ticketID int64, text string) (note *domain.Note, err error) {
	ctx, span := startSpan(ctx, "TicketRegistry.AddNote", caller, attribute.Int64("ticket.id", ticketID))
	defer func() { finishSpan(span, err) }()

	if err := requireTechnician(caller); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)

	err = r.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if _, err := loadTicket(ctx, repos, ticketID); err != nil {
			return err
		}
		if err := requireAssigned(ctx, repos, ticketID, caller); err != nil {
			return err
		}
		if text == "" {
			return apperrors.NewMissingField("note")
		}
		note = &domain.Note{
			TicketID:       ticketID,
			AuthorID:       caller.UserID,
			AuthorUsername: caller.Username,
			Text:           text,
			CreatedAt:      r.now(),
		}
		return repos.Notes.Create(ctx, note)
	})
	if err != nil {
		return nil, err
	}

	r.events.publish(ctx, events.New(events.EventTicketNoteAdded, ticketID, caller, note.CreatedAt,
		events.TicketNoteAddedPayload{NoteID: note.ID, BodyPreview: stringPreview(note.Text, notePreviewLength)}))
	return note, nil
}

// TicketDetail returns a ticket with its notes, technicians and images.
func (r *TicketRegistry) TicketDetail(ctx context.Context, caller domain.Principal, ticketID int64) (detail *TicketDetail, err error) {
	ctx, span := startSpan(ctx, "TicketRegistry.TicketDetail", caller, attribute.Int64("ticket.id", ticketID))
	defer func() { finishSpan(span, err) }()

	if err := requireTechnician(caller); err != nil {
		return nil, err
	}
	err = r.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		ticket, err := loadTicket(ctx, repos, ticketID)
		if err != nil {
			return err
		}
		notes, err := repos.Notes.ListByTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		techs, err := repos.Assignments.ListTechnicians(ctx, ticketID)
		if err != nil {
			return err
		}
		atts, err := r.attachments.listByTicket(ctx, repos, ticketID)
		if err != nil {
			return err
		}
		detail = &TicketDetail{Ticket: *ticket, Notes: notes, Technicians: techs, Attachments: atts}
		return nil
	})
	return detail, err
}

// QuotaStatus reports the caller's lifetime ticket count against the limit.
func (r *TicketRegistry) QuotaStatus(ctx context.Context, caller domain.Principal) (status QuotaStatus, err error) {
	ctx, span := startSpan(ctx, "TicketRegistry.QuotaStatus", caller)
	defer func() { finishSpan(span, err) }()

	if err := requireRequester(caller); err != nil {
		return QuotaStatus{}, err
	}
	err = r.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		count, err := repos.Tickets.CountByOwner(ctx, caller.UserID)
		if err != nil {
			return err
		}
		status = QuotaStatus{Count: count, Limit: r.cfg.MaxTotalTickets, Remaining: max(r.cfg.MaxTotalTickets-count, 0)}
		return nil
	})
	return status, err
}
