package repository

import (
	"context"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// AttachmentRepository persists attachment metadata.
type AttachmentRepository interface {
	Create(ctx context.Context, attachment *domain.Attachment) error
	ListByTicket(ctx context.Context, ticketID int64) ([]domain.Attachment, error)
}

type attachmentRepository struct {
	q Querier
}

func (r *attachmentRepository) Create(ctx context.Context, attachment *domain.Attachment) error {
	const query = `
        INSERT INTO ticket_attachments (ticket_id, storage_key, file_name, content_type, size_bytes, created_at)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id`
	return r.q.QueryRow(ctx, query,
		attachment.TicketID,
		attachment.StorageKey,
		attachment.FileName,
		attachment.ContentType,
		attachment.SizeBytes,
		attachment.CreatedAt,
	).Scan(&attachment.ID)
}

func (r *attachmentRepository) ListByTicket(ctx context.Context, ticketID int64) ([]domain.Attachment, error) {
	const query = `
        SELECT id, ticket_id, storage_key, file_name, content_type, size_bytes, created_at
        FROM ticket_attachments WHERE ticket_id=$1 ORDER BY id ASC`
	rows, err := r.q.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Attachment
	for rows.Next() {
		var att domain.Attachment
		if err := rows.Scan(
			&att.ID,
			&att.TicketID,
			&att.StorageKey,
			&att.FileName,
			&att.ContentType,
			&att.SizeBytes,
			&att.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, att)
	}
	return result, rows.Err()
}
