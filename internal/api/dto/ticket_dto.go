package dto

import (
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// CreateTicketRequest carries the text fields of the ticket form. Images
// arrive as multipart files.
type CreateTicketRequest struct {
	RequesterName string `json:"requester_name" form:"requester_name"`
	RequestType   string `json:"request_type" form:"request_type"`
	Description   string `json:"description" form:"description"`
}

// ChangeStateRequest payload.
type ChangeStateRequest struct {
	State string `json:"state"`
	Note  string `json:"note"`
}

// AddNoteRequest payload.
type AddNoteRequest struct {
	Text string `json:"text"`
}

// AssignTechniciansRequest payload. A missing list is rejected.
type AssignTechniciansRequest struct {
	TechnicianIDs []int64 `json:"technician_ids"`
}

// TicketResponse is the list view of a ticket.
type TicketResponse struct {
	ID                  int64              `json:"id"`
	AreaID              int64              `json:"area_id"`
	AreaName            string             `json:"area_name"`
	RequesterName       string             `json:"requester_name"`
	Subject             string             `json:"subject"`
	Description         string             `json:"description"`
	State               domain.TicketState `json:"state"`
	CreatedAt           time.Time          `json:"created_at"`
	ClosedAt            *time.Time         `json:"closed_at"`
	PrimaryTechnicianID *int64             `json:"primary_technician_id"`
	Technicians         []string           `json:"technicians"`
	Surveyed            bool               `json:"surveyed"`
}

// TicketDetailResponse adds the working history of a ticket.
type TicketDetailResponse struct {
	TicketResponse
	Notes       []NoteResponse       `json:"notes"`
	Assigned    []TechnicianResponse `json:"assigned"`
	Attachments []AttachmentResponse `json:"attachments"`
}

// NoteResponse represents a technician note.
type NoteResponse struct {
	ID        int64     `json:"id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// TechnicianResponse is the public view of a technician.
type TechnicianResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// AttachmentResponse metadata.
type AttachmentResponse struct {
	ID          int64     `json:"id"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	URL         string    `json:"url"`
	CreatedAt   time.Time `json:"created_at"`
}

// QuotaResponse reports the requester's ticket allowance.
type QuotaResponse struct {
	Count     int `json:"count"`
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`
}

// NewTicketResponse maps a ticket to its list view.
func NewTicketResponse(t *domain.Ticket) TicketResponse {
	techs := t.Technicians
	if techs == nil {
		techs = []string{}
	}
	return TicketResponse{
		ID:                  t.ID,
		AreaID:              t.AreaID,
		AreaName:            t.AreaName,
		RequesterName:       t.RequesterName,
		Subject:             t.Subject,
		Description:         t.Description,
		State:               t.State,
		CreatedAt:           t.CreatedAt,
		ClosedAt:            t.ClosedAt,
		PrimaryTechnicianID: t.PrimaryTechnicianID,
		Technicians:         techs,
		Surveyed:            t.Surveyed,
	}
}

// NewTicketList maps tickets to list views.
func NewTicketList(tickets []domain.Ticket) []TicketResponse {
	out := make([]TicketResponse, 0, len(tickets))
	for i := range tickets {
		out = append(out, NewTicketResponse(&tickets[i]))
	}
	return out
}

// NewNoteResponse maps a note.
func NewNoteResponse(n *domain.Note) NoteResponse {
	return NoteResponse{ID: n.ID, Author: n.AuthorUsername, Text: n.Text, CreatedAt: n.CreatedAt}
}

// NewTechnicianList maps technician references.
func NewTechnicianList(refs []domain.TechnicianRef) []TechnicianResponse {
	out := make([]TechnicianResponse, 0, len(refs))
	for _, ref := range refs {
		out = append(out, TechnicianResponse{ID: ref.ID, Username: ref.Username})
	}
	return out
}

// NewAttachmentList maps attachments.
func NewAttachmentList(atts []domain.Attachment) []AttachmentResponse {
	out := make([]AttachmentResponse, 0, len(atts))
	for _, att := range atts {
		out = append(out, AttachmentResponse{
			ID:          att.ID,
			FileName:    att.FileName,
			ContentType: att.ContentType,
			SizeBytes:   att.SizeBytes,
			URL:         att.URL,
			CreatedAt:   att.CreatedAt,
		})
	}
	return out
}

// NewTicketDetailResponse assembles the technician view.
func NewTicketDetailResponse(t *domain.Ticket, notes []domain.Note, techs []domain.TechnicianRef, atts []domain.Attachment) TicketDetailResponse {
	noteResp := make([]NoteResponse, 0, len(notes))
	for i := range notes {
		noteResp = append(noteResp, NewNoteResponse(&notes[i]))
	}
	return TicketDetailResponse{
		TicketResponse: NewTicketResponse(t),
		Notes:          noteResp,
		Assigned:       NewTechnicianList(techs),
		Attachments:    NewAttachmentList(atts),
	}
}
