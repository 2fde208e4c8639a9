package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	AttendedYes = "yes"
	AttendedNo  = "no"
)

// Survey is the satisfaction questionnaire answered once per closed ticket.
type Survey struct {
	ID                   int64
	TicketID             int64
	ServiceDuration      *string
	AttentionDuration    *string
	Attended             string
	P2                   *int
	P3                   *int
	P4                   *int
	Speed                *int
	EffectiveResolution  *int
	SolutionSatisfaction *int
	WebSatisfaction      *int
	Identification       *string
	Suggestions          string
	Comments             string
	CreatedAt            time.Time
}

// SurveyAnswers holds the raw answers as submitted by the requester.
type SurveyAnswers struct {
	P2                   string
	P3                   string
	P4                   string
	Speed                string
	EffectiveResolution  string
	SolutionSatisfaction string
	WebSatisfaction      string
	Identification       string
	Suggestions          string
	Comments             string
}

// ParseRating returns a 1..5 rating or nil for anything else.
func ParseRating(raw string) *int {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || v < 1 || v > 5 {
		return nil
	}
	return &v
}

// NormalizeYesNo maps the identification answer to "si", "no" or nil.
func NormalizeYesNo(raw string) *string {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v != "si" && v != "no" {
		return nil
	}
	return &v
}

// FormatHMS renders a duration as zero padded HH:MM:SS, flooring negatives at zero.
func FormatHMS(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}

// ElapsedHMS formats to-from, or nil when either end is unknown.
func ElapsedHMS(from, to *time.Time) *string {
	if from == nil || to == nil {
		return nil
	}
	out := FormatHMS(to.Sub(*from))
	return &out
}
