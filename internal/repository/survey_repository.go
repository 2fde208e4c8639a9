package repository

import (
	"context"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// SurveyRepository persists satisfaction surveys.
type SurveyRepository interface {
	// Create returns ErrDuplicate when the ticket already has a survey.
	Create(ctx context.Context, survey *domain.Survey) error
	// ListPending returns the owner's tickets in the given states that lack a survey, newest first.
	ListPending(ctx context.Context, ownerID int64, states []domain.TicketState) ([]domain.Ticket, error)
}

type surveyRepository struct {
	q Querier
}

func (r *surveyRepository) Create(ctx context.Context, survey *domain.Survey) error {
	const query = `
        INSERT INTO ticket_surveys (ticket_id, service_duration, attention_duration, attended,
            p2, p3, p4, speed, effective_resolution, solution_satisfaction, web_satisfaction,
            identification, suggestions, comments, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
        RETURNING id`
	err := r.q.QueryRow(ctx, query,
		survey.TicketID,
		survey.ServiceDuration,
		survey.AttentionDuration,
		survey.Attended,
		survey.P2,
		survey.P3,
		survey.P4,
		survey.Speed,
		survey.EffectiveResolution,
		survey.SolutionSatisfaction,
		survey.WebSatisfaction,
		survey.Identification,
		survey.Suggestions,
		survey.Comments,
		survey.CreatedAt,
	).Scan(&survey.ID)
	return mapErr(err)
}

func (r *surveyRepository) ListPending(ctx context.Context, ownerID int64, states []domain.TicketState) ([]domain.Ticket, error) {
	query := ticketSelect + `
        WHERE t.owner_id=$1 AND t.state = ANY($2)
          AND NOT EXISTS (SELECT 1 FROM ticket_surveys s WHERE s.ticket_id = t.id)
        ORDER BY t.created_at DESC, t.id DESC`
	rows, err := r.q.Query(ctx, query, ownerID, stateStrings(states))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}
