package repository

import (
	"context"
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// AssignmentRepository manages the ticket to technician relation.
type AssignmentRepository interface {
	// Add inserts the pair and reports whether it was new.
	Add(ctx context.Context, ticketID, technicianID int64, at time.Time) (bool, error)
	Exists(ctx context.Context, ticketID, technicianID int64) (bool, error)
	ListTechnicians(ctx context.Context, ticketID int64) ([]domain.TechnicianRef, error)
	// FirstAssignedAt is nil when nobody was ever assigned.
	FirstAssignedAt(ctx context.Context, ticketID int64) (*time.Time, error)
}

type assignmentRepository struct {
	q Querier
}

func (r *assignmentRepository) Add(ctx context.Context, ticketID, technicianID int64, at time.Time) (bool, error) {
	const query = `
        INSERT INTO ticket_technicians (ticket_id, technician_id, assigned_at)
        VALUES ($1,$2,$3)
        ON CONFLICT (ticket_id, technician_id) DO NOTHING`
	cmd, err := r.q.Exec(ctx, query, ticketID, technicianID, at)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *assignmentRepository) Exists(ctx context.Context, ticketID, technicianID int64) (bool, error) {
	const query = `
        SELECT EXISTS (SELECT 1 FROM ticket_technicians WHERE ticket_id=$1 AND technician_id=$2)`
	var ok bool
	err := r.q.QueryRow(ctx, query, ticketID, technicianID).Scan(&ok)
	return ok, err
}

func (r *assignmentRepository) ListTechnicians(ctx context.Context, ticketID int64) ([]domain.TechnicianRef, error) {
	const query = `
        SELECT u.id, u.username
        FROM ticket_technicians tt JOIN users u ON u.id = tt.technician_id
        WHERE tt.ticket_id=$1
        ORDER BY u.username ASC`
	rows, err := r.q.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TechnicianRef
	for rows.Next() {
		var ref domain.TechnicianRef
		if err := rows.Scan(&ref.ID, &ref.Username); err != nil {
			return nil, err
		}
		result = append(result, ref)
	}
	return result, rows.Err()
}

func (r *assignmentRepository) FirstAssignedAt(ctx context.Context, ticketID int64) (*time.Time, error) {
	var first *time.Time
	err := r.q.QueryRow(ctx, `SELECT MIN(assigned_at) FROM ticket_technicians WHERE ticket_id=$1`, ticketID).Scan(&first)
	return first, err
}
