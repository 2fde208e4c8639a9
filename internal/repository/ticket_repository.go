package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// TicketFilter captures listing parameters.
type TicketFilter struct {
	OwnerID      *int64
	TechnicianID *int64
	States       []domain.TicketState
	// Unassigned keeps tickets nobody has claimed yet.
	Unassigned bool
	Limit      int
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id int64) (*domain.Ticket, error)
	CountByOwner(ctx context.Context, ownerID int64) (int, error)
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	UpdateState(ctx context.Context, id int64, state domain.TicketState, closedAt *time.Time) error
	// MarkClaimed moves a pending ticket into progress and records the
	// first claimer as primary technician.
	MarkClaimed(ctx context.Context, id, technicianID int64) error
}

type ticketRepository struct {
	q Querier
}

const ticketSelect = `
        SELECT t.id, t.owner_id, t.area_id, COALESCE(a.name, ''), t.requester_name, t.subject,
               t.description, t.state, t.created_at, t.closed_at, t.primary_technician_id,
               COALESCE((SELECT array_agg(u.username ORDER BY u.username)
                         FROM ticket_technicians tt JOIN users u ON u.id = tt.technician_id
                         WHERE tt.ticket_id = t.id), '{}'::text[]),
               EXISTS (SELECT 1 FROM ticket_surveys s WHERE s.ticket_id = t.id)
        FROM tickets t LEFT JOIN areas a ON a.id = t.area_id`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (owner_id, area_id, requester_name, subject, description, state, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING id`
	return r.q.QueryRow(ctx, query,
		ticket.OwnerID,
		ticket.AreaID,
		ticket.RequesterName,
		ticket.Subject,
		ticket.Description,
		ticket.State,
		ticket.CreatedAt,
	).Scan(&ticket.ID)
}

func (r *ticketRepository) GetByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	rows, err := r.q.Query(ctx, ticketSelect+` WHERE t.id=$1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tickets, err := scanTickets(rows)
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return nil, ErrNotFound
	}
	return &tickets[0], nil
}

func (r *ticketRepository) CountByOwner(ctx context.Context, ownerID int64) (int, error) {
	var count int
	err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM tickets WHERE owner_id=$1`, ownerID).Scan(&count)
	return count, err
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.OwnerID != nil {
		args = append(args, *filter.OwnerID)
		clauses = append(clauses, fmt.Sprintf("t.owner_id=$%d", len(args)))
	}
	if filter.TechnicianID != nil {
		args = append(args, *filter.TechnicianID)
		clauses = append(clauses, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM ticket_technicians x WHERE x.ticket_id = t.id AND x.technician_id=$%d)", len(args)))
	}
	if filter.Unassigned {
		clauses = append(clauses, "NOT EXISTS (SELECT 1 FROM ticket_technicians x WHERE x.ticket_id = t.id)")
	}
	if len(filter.States) > 0 {
		args = append(args, stateStrings(filter.States))
		clauses = append(clauses, fmt.Sprintf("t.state = ANY($%d)", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}

	query := fmt.Sprintf(`%s WHERE %s ORDER BY t.created_at DESC, t.id DESC LIMIT %d`,
		ticketSelect, strings.Join(clauses, " AND "), limit)

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) UpdateState(ctx context.Context, id int64, state domain.TicketState, closedAt *time.Time) error {
	cmd, err := r.q.Exec(ctx, `UPDATE tickets SET state=$1, closed_at=$2 WHERE id=$3`, state, closedAt, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ticketRepository) MarkClaimed(ctx context.Context, id, technicianID int64) error {
	const query = `
        UPDATE tickets
        SET state = CASE WHEN state = $1 THEN $2 ELSE state END,
            primary_technician_id = COALESCE(primary_technician_id, $3)
        WHERE id=$4`
	cmd, err := r.q.Exec(ctx, query, domain.TicketStatePending, domain.TicketStateInProgress, technicianID, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		var ticket domain.Ticket
		if err := rows.Scan(
			&ticket.ID,
			&ticket.OwnerID,
			&ticket.AreaID,
			&ticket.AreaName,
			&ticket.RequesterName,
			&ticket.Subject,
			&ticket.Description,
			&ticket.State,
			&ticket.CreatedAt,
			&ticket.ClosedAt,
			&ticket.PrimaryTechnicianID,
			&ticket.Technicians,
			&ticket.Surveyed,
		); err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}

func stateStrings(states []domain.TicketState) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}
