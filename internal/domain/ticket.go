package domain

import (
	"strings"
	"time"
)

// TicketState enumerates lifecycle states for tickets.
type TicketState string

const (
	TicketStatePending    TicketState = "PENDIENTE"
	TicketStateInProgress TicketState = "EN_CURSO"
	TicketStateResolved   TicketState = "RESUELTO"
	TicketStateCancelled  TicketState = "CANCELADO"
)

// StateFilterFinished selects every terminal state in requester listings.
const StateFilterFinished = "FINALIZADOS"

// MaxSubjectLength bounds the subject derived from the request type.
const MaxSubjectLength = 180

var (
	OpenStates     = []TicketState{TicketStatePending, TicketStateInProgress}
	TerminalStates = []TicketState{TicketStateResolved, TicketStateCancelled}
)

// ParseTicketState normalizes user input into a known state.
func ParseTicketState(raw string) (TicketState, bool) {
	state := TicketState(strings.ToUpper(strings.TrimSpace(raw)))
	switch state {
	case TicketStatePending, TicketStateInProgress, TicketStateResolved, TicketStateCancelled:
		return state, true
	}
	return "", false
}

// IsTerminal reports whether the state is closed.
func (s TicketState) IsTerminal() bool {
	return s == TicketStateResolved || s == TicketStateCancelled
}

// IsOpen reports whether technicians can still work on the ticket.
func (s TicketState) IsOpen() bool {
	return s == TicketStatePending || s == TicketStateInProgress
}

// RequesterStates resolves the state filter of a requester listing.
// Empty or unknown filters select the open states.
func RequesterStates(filter string) []TicketState {
	filter = strings.ToUpper(strings.TrimSpace(filter))
	if filter == StateFilterFinished {
		return TerminalStates
	}
	if state, ok := ParseTicketState(filter); ok {
		return []TicketState{state}
	}
	return OpenStates
}

// TechnicianScope selects which tickets a technician listing shows.
type TechnicianScope string

const (
	ScopeAvailable TechnicianScope = "disponibles"
	ScopeAssigned  TechnicianScope = "asignados"
	ScopeHistory   TechnicianScope = "historial"
)

// ParseTechnicianScope falls back to the available queue for unknown values.
func ParseTechnicianScope(raw string) TechnicianScope {
	switch scope := TechnicianScope(strings.ToLower(strings.TrimSpace(raw))); scope {
	case ScopeAssigned, ScopeHistory:
		return scope
	}
	return ScopeAvailable
}

// Ticket is the aggregate for support requests.
type Ticket struct {
	ID                  int64
	OwnerID             int64
	AreaID              int64
	AreaName            string
	RequesterName       string
	Subject             string
	Description         string
	State               TicketState
	CreatedAt           time.Time
	ClosedAt            *time.Time
	PrimaryTechnicianID *int64
	// Technicians holds assigned usernames in ascending order on reads.
	Technicians []string
	Surveyed    bool
}

// SubjectFromRequestType truncates the request type to the subject column size.
func SubjectFromRequestType(requestType string) string {
	requestType = strings.TrimSpace(requestType)
	runes := []rune(requestType)
	if len(runes) <= MaxSubjectLength {
		return requestType
	}
	return string(runes[:MaxSubjectLength])
}
