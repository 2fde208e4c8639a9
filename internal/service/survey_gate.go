package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// SurveyGate decides which closed tickets still owe a satisfaction survey
// and records submitted surveys.
type SurveyGate struct {
	store            repository.Store
	events           eventPublisher
	logger           *zap.Logger
	now              func() time.Time
	includeCancelled bool
}

// SurveyGateDependencies bundles collaborators for the gate.
type SurveyGateDependencies struct {
	Store      repository.Store
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Clock      func() time.Time
	// IncludeCancelled also blocks on cancelled tickets without survey.
	IncludeCancelled bool
}

// PendingSurvey identifies a ticket whose survey blocks new tickets.
type PendingSurvey struct {
	TicketID  int64              `json:"ticket_id"`
	Subject   string             `json:"subject"`
	State     domain.TicketState `json:"state"`
	CreatedAt time.Time          `json:"created_at"`
}

// SurveyForm is the context shown before answering a survey.
type SurveyForm struct {
	Ticket            domain.Ticket
	Technicians       []domain.TechnicianRef
	ServiceDuration   *string
	AttentionDuration *string
}

// NewSurveyGate constructs the gate.
func NewSurveyGate(deps SurveyGateDependencies) *SurveyGate {
	logger := loggerOrNop(deps.Logger)
	return &SurveyGate{
		store:            deps.Store,
		events:           eventPublisher{dispatcher: deps.Dispatcher, logger: logger},
		logger:           logger,
		now:              clockOrDefault(deps.Clock),
		includeCancelled: deps.IncludeCancelled,
	}
}

func (g *SurveyGate) blockingStates() []domain.TicketState {
	if g.includeCancelled {
		return domain.TerminalStates
	}
	return []domain.TicketState{domain.TicketStateResolved}
}

// pending is shared with ticket creation so both read the same rule.
func (g *SurveyGate) pending(ctx context.Context, repos repository.Repositories, ownerID int64) ([]PendingSurvey, error) {
	tickets, err := repos.Surveys.ListPending(ctx, ownerID, g.blockingStates())
	if err != nil {
		return nil, err
	}
	out := make([]PendingSurvey, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, PendingSurvey{TicketID: t.ID, Subject: t.Subject, State: t.State, CreatedAt: t.CreatedAt})
	}
	return out, nil
}

// PendingSurveys lists the caller's tickets awaiting a survey, newest first.
func (g *SurveyGate) PendingSurveys(ctx context.Context, caller domain.Principal) (out []PendingSurvey, err error) {
	ctx, span := startSpan(ctx, "SurveyGate.PendingSurveys", caller)
	defer func() { finishSpan(span, err) }()

	if err := requireRequester(caller); err != nil {
		return nil, err
	}
	err = g.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		out, err = g.pending(ctx, repos, caller.UserID)
		return err
	})
	return out, err
}

// checkSurveyable enforces ownership and closed state, and rejects tickets already surveyed.
func checkSurveyable(ctx context.Context, repos repository.Repositories, caller domain.Principal, ticketID int64) (*domain.Ticket, error) {
	ticket, err := loadTicket(ctx, repos, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.OwnerID != caller.UserID {
		return nil, apperrors.NewUnauthorized("ticket belongs to another requester")
	}
	if !ticket.State.IsTerminal() {
		return nil, apperrors.NewInvalidState("survey is available once the ticket is closed",
			map[string]any{"state": ticket.State})
	}
	if ticket.Surveyed {
		return nil, apperrors.NewConflict("ticket already has a survey", map[string]any{"ticket_id": ticketID})
	}
	return ticket, nil
}

func (g *SurveyGate) durations(ctx context.Context, repos repository.Repositories, ticket *domain.Ticket) (service, attention *string, err error) {
	first, err := repos.Assignments.FirstAssignedAt(ctx, ticket.ID)
	if err != nil {
		return nil, nil, err
	}
	created := ticket.CreatedAt
	return domain.ElapsedHMS(&created, ticket.ClosedAt), domain.ElapsedHMS(first, ticket.ClosedAt), nil
}

// SurveyForm returns the ticket context for the survey page.
func (g *SurveyGate) SurveyForm(ctx context.Context, caller domain.Principal, ticketID int64) (form *SurveyForm, err error) {
	ctx, span := startSpan(ctx, "SurveyGate.SurveyForm", caller, attribute.Int64("ticket.id", ticketID))
	defer func() { finishSpan(span, err) }()

	if err := requireRequester(caller); err != nil {
		return nil, err
	}
	err = g.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		ticket, err := checkSurveyable(ctx, repos, caller, ticketID)
		if err != nil {
			return err
		}
		techs, err := repos.Assignments.ListTechnicians(ctx, ticketID)
		if err != nil {
			return err
		}
		svc, att, err := g.durations(ctx, repos, ticket)
		if err != nil {
			return err
		}
		form = &SurveyForm{Ticket: *ticket, Technicians: techs, ServiceDuration: svc, AttentionDuration: att}
		return nil
	})
	return form, err
}

// SubmitSurvey records the one survey a closed ticket may receive.
func (g *SurveyGate) SubmitSurvey(ctx context.Context, caller domain.Principal, ticketID int64, answers domain.SurveyAnswers) (survey *domain.Survey, err error) {
	ctx, span := startSpan(ctx, "SurveyGate.SubmitSurvey", caller, attribute.Int64("ticket.id", ticketID))
	defer func() { finishSpan(span, err) }()

	if err := requireRequester(caller); err != nil {
		return nil, err
	}

	err = g.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		ticket, err := checkSurveyable(ctx, repos, caller, ticketID)
		if err != nil {
			return err
		}
		suggestions := strings.TrimSpace(answers.Suggestions)
		if suggestions == "" {
			return apperrors.NewMissingField("suggestions")
		}
		svc, att, err := g.durations(ctx, repos, ticket)
		if err != nil {
			return err
		}

		attended := domain.AttendedNo
		if ticket.State == domain.TicketStateResolved {
			attended = domain.AttendedYes
		}

		survey = &domain.Survey{
			TicketID:             ticket.ID,
			ServiceDuration:      svc,
			AttentionDuration:    att,
			Attended:             attended,
			P2:                   domain.ParseRating(answers.P2),
			P3:                   domain.ParseRating(answers.P3),
			P4:                   domain.ParseRating(answers.P4),
			Speed:                domain.ParseRating(answers.Speed),
			EffectiveResolution:  domain.ParseRating(answers.EffectiveResolution),
			SolutionSatisfaction: domain.ParseRating(answers.SolutionSatisfaction),
			WebSatisfaction:      domain.ParseRating(answers.WebSatisfaction),
			Identification:       domain.NormalizeYesNo(answers.Identification),
			Suggestions:          suggestions,
			Comments:             strings.TrimSpace(answers.Comments),
			CreatedAt:            g.now(),
		}
		if err := repos.Surveys.Create(ctx, survey); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return apperrors.NewConflict("ticket already has a survey", map[string]any{"ticket_id": ticketID})
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	g.logger.Info("survey submitted", zap.Int64("ticket_id", ticketID), zap.Int64("survey_id", survey.ID))
	g.events.publish(ctx, events.New(events.EventSurveySubmitted, ticketID, caller, survey.CreatedAt,
		events.SurveySubmittedPayload{SurveyID: survey.ID, Attended: survey.Attended}))
	return survey, nil
}
