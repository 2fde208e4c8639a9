package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated       EventType = "ticket_created"
	EventTicketClaimed       EventType = "ticket_claimed"
	EventTechniciansAssigned EventType = "technicians_assigned"
	EventTicketStateChanged  EventType = "ticket_state_changed"
	EventTicketNoteAdded     EventType = "ticket_note_added"
	EventEvidenceAttached    EventType = "evidence_attached"
	EventSurveySubmitted     EventType = "survey_submitted"
)

// AllEventTypes lists every event the services publish.
var AllEventTypes = []EventType{
	EventTicketCreated,
	EventTicketClaimed,
	EventTechniciansAssigned,
	EventTicketStateChanged,
	EventTicketNoteAdded,
	EventEvidenceAttached,
	EventSurveySubmitted,
}

// Actor encapsulates actor metadata for an event.
type Actor struct {
	UserID int64       `json:"user_id"`
	Role   domain.Role `json:"role"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	TicketID  int64     `json:"ticket_id"`
	Actor     Actor     `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// New stamps an event with a fresh id.
func New(eventType EventType, ticketID int64, caller domain.Principal, at time.Time, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticketID,
		Actor:     Actor{UserID: caller.UserID, Role: caller.Role},
		Timestamp: at,
		Payload:   payload,
	}
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	AreaID      int64  `json:"area_id"`
	Subject     string `json:"subject"`
	Attachments int    `json:"attachments"`
}

// TicketClaimedPayload payload.
type TicketClaimedPayload struct {
	TechnicianID int64              `json:"technician_id"`
	State        domain.TicketState `json:"state"`
}

// TechniciansAssignedPayload lists technicians that were not assigned before.
type TechniciansAssignedPayload struct {
	Added []int64 `json:"added"`
}

// TicketStateChangedPayload payload.
type TicketStateChangedPayload struct {
	OldState domain.TicketState `json:"old_state"`
	NewState domain.TicketState `json:"new_state"`
	Note     string             `json:"note,omitempty"`
}

// TicketNoteAddedPayload payload.
type TicketNoteAddedPayload struct {
	NoteID      int64  `json:"note_id"`
	BodyPreview string `json:"body_preview"`
}

// EvidenceAttachedPayload payload.
type EvidenceAttachedPayload struct {
	Keys []string `json:"keys"`
}

// SurveySubmittedPayload payload.
type SurveySubmittedPayload struct {
	SurveyID int64  `json:"survey_id"`
	Attended string `json:"attended"`
}
