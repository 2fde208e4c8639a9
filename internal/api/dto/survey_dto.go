package dto

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// Answer accepts a JSON string or number and keeps its raw text.
type Answer string

func (a *Answer) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Answer(s)
		return nil
	}
	*a = Answer(strings.TrimSpace(string(data)))
	return nil
}

// SubmitSurveyRequest payload.
type SubmitSurveyRequest struct {
	TicketID             int64  `json:"ticket_id" form:"ticket_id"`
	P2                   Answer `json:"p2" form:"p2"`
	P3                   Answer `json:"p3" form:"p3"`
	P4                   Answer `json:"p4" form:"p4"`
	Speed                Answer `json:"speed" form:"speed"`
	EffectiveResolution  Answer `json:"effective_resolution" form:"effective_resolution"`
	SolutionSatisfaction Answer `json:"solution_satisfaction" form:"solution_satisfaction"`
	WebSatisfaction      Answer `json:"web_satisfaction" form:"web_satisfaction"`
	Identification       Answer `json:"identification" form:"identification"`
	Suggestions          string `json:"suggestions" form:"suggestions"`
	Comments             string `json:"comments" form:"comments"`
}

// Answers converts the payload to raw survey answers.
func (r SubmitSurveyRequest) Answers() domain.SurveyAnswers {
	return domain.SurveyAnswers{
		P2:                   string(r.P2),
		P3:                   string(r.P3),
		P4:                   string(r.P4),
		Speed:                string(r.Speed),
		EffectiveResolution:  string(r.EffectiveResolution),
		SolutionSatisfaction: string(r.SolutionSatisfaction),
		WebSatisfaction:      string(r.WebSatisfaction),
		Identification:       string(r.Identification),
		Suggestions:          r.Suggestions,
		Comments:             r.Comments,
	}
}

// SurveyResponse echoes a stored survey.
type SurveyResponse struct {
	ID                   int64     `json:"id"`
	TicketID             int64     `json:"ticket_id"`
	ServiceDuration      *string   `json:"service_duration"`
	AttentionDuration    *string   `json:"attention_duration"`
	Attended             string    `json:"attended"`
	P2                   *int      `json:"p2"`
	P3                   *int      `json:"p3"`
	P4                   *int      `json:"p4"`
	Speed                *int      `json:"speed"`
	EffectiveResolution  *int      `json:"effective_resolution"`
	SolutionSatisfaction *int      `json:"solution_satisfaction"`
	WebSatisfaction      *int      `json:"web_satisfaction"`
	Identification       *string   `json:"identification"`
	Suggestions          string    `json:"suggestions"`
	Comments             string    `json:"comments"`
	CreatedAt            time.Time `json:"created_at"`
}

// NewSurveyResponse maps a survey.
func NewSurveyResponse(s *domain.Survey) SurveyResponse {
	return SurveyResponse{
		ID:                   s.ID,
		TicketID:             s.TicketID,
		ServiceDuration:      s.ServiceDuration,
		AttentionDuration:    s.AttentionDuration,
		Attended:             s.Attended,
		P2:                   s.P2,
		P3:                   s.P3,
		P4:                   s.P4,
		Speed:                s.Speed,
		EffectiveResolution:  s.EffectiveResolution,
		SolutionSatisfaction: s.SolutionSatisfaction,
		WebSatisfaction:      s.WebSatisfaction,
		Identification:       s.Identification,
		Suggestions:          s.Suggestions,
		Comments:             s.Comments,
		CreatedAt:            s.CreatedAt,
	}
}

// SurveyFormResponse is shown before the requester answers.
type SurveyFormResponse struct {
	TicketID          int64                `json:"ticket_id"`
	RequesterName     string               `json:"requester_name"`
	AreaName          string               `json:"area_name"`
	Subject           string               `json:"subject"`
	State             domain.TicketState   `json:"state"`
	RequestedAt       time.Time            `json:"requested_at"`
	ClosedAt          *time.Time           `json:"closed_at"`
	Technicians       []TechnicianResponse `json:"technicians"`
	ServiceDuration   *string              `json:"service_duration"`
	AttentionDuration *string              `json:"attention_duration"`
}
