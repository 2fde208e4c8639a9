package repository

import (
	"context"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// NoteRepository manages technician notes.
type NoteRepository interface {
	Create(ctx context.Context, note *domain.Note) error
	// ListByTicket returns notes newest first.
	ListByTicket(ctx context.Context, ticketID int64) ([]domain.Note, error)
}

type noteRepository struct {
	q Querier
}

func (r *noteRepository) Create(ctx context.Context, note *domain.Note) error {
	const query = `
        INSERT INTO ticket_notes (ticket_id, author_id, body, created_at)
        VALUES ($1,$2,$3,$4)
        RETURNING id`
	return r.q.QueryRow(ctx, query,
		note.TicketID,
		note.AuthorID,
		note.Text,
		note.CreatedAt,
	).Scan(&note.ID)
}

func (r *noteRepository) ListByTicket(ctx context.Context, ticketID int64) ([]domain.Note, error) {
	const query = `
        SELECT n.id, n.ticket_id, n.author_id, u.username, n.body, n.created_at
        FROM ticket_notes n JOIN users u ON u.id = n.author_id
        WHERE n.ticket_id=$1 ORDER BY n.created_at DESC, n.id DESC`
	rows, err := r.q.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Note
	for rows.Next() {
		var note domain.Note
		if err := rows.Scan(
			&note.ID,
			&note.TicketID,
			&note.AuthorID,
			&note.AuthorUsername,
			&note.Text,
			&note.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, note)
	}
	return result, rows.Err()
}
