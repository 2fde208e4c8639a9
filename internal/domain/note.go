package domain

import "time"

// Note is an append-only technician observation on a ticket.
type Note struct {
	ID             int64
	TicketID       int64
	AuthorID       int64
	AuthorUsername string
	Text           string
	CreatedAt      time.Time
}

// Attachment links a ticket to a stored image.
type Attachment struct {
	ID          int64
	TicketID    int64
	StorageKey  string
	FileName    string
	ContentType string
	SizeBytes   int64
	URL         string
	CreatedAt   time.Time
}

// TicketAssignment records that a technician works a ticket.
type TicketAssignment struct {
	TicketID     int64
	TechnicianID int64
	AssignedAt   time.Time
}
