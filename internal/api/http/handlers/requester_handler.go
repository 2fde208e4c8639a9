package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/api/dto"
	"github.com/spec-kit/helpdesk-service/internal/service"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// RequesterHandler manages the requester's ticket and survey endpoints.
type RequesterHandler struct {
	registry    *service.TicketRegistry
	gate        *service.SurveyGate
	attachments *service.AttachmentCatalog
}

// NewRequesterHandler constructs handler.
func NewRequesterHandler(registry *service.TicketRegistry, gate *service.SurveyGate, attachments *service.AttachmentCatalog) *RequesterHandler {
	return &RequesterHandler{registry: registry, gate: gate, attachments: attachments}
}

// CreateTicket POST /api/requester/tickets. Accepts JSON or a multipart form
// with images under "images" or "imagenes".
func (h *RequesterHandler) CreateTicket(c *fiber.Ctx) error {
	caller, err := principal(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	ticket, err := h.registry.CreateTicket(c.UserContext(), caller, service.CreateTicketInput{
		RequestType:   req.RequestType,
		Description:   req.Description,
		RequesterName: req.RequesterName,
		Images:        imageUploads(c, "images", "imagenes"),
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// ListTickets GET /api/requester/tickets?state=.
func (h *RequesterHandler) ListTickets(c *fiber.Ctx) error {
	caller, err := principal(c)
	if err != nil {
		return err
	}
	tickets, err := h.registry.ListForRequester(c.UserContext(), caller, firstQuery(c, "state", "estado"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketList(tickets)})
}

// Quota GET /api/requester/tickets/quota.
func (h *RequesterHandler) Quota(c *fiber.Ctx) error {
	caller, err := principal(c)
	if err != nil {
		return err
	}
	status, err := h.registry.QuotaStatus(c.UserContext(), caller)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.QuotaResponse{
		Count:     status.Count,
		Limit:     status.Limit,
		Remaining: status.Remaining,
	}})
}

// Attachments GET /api/requester/tickets/:id/attachments.
func (h *RequesterHandler) Attachments(c *fiber.Ctx) error {
	caller, err := principal(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	atts, err := h.attachments.ListAttachments(c.UserContext(), caller, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewAttachmentList(atts)})
}

// PendingSurveys GET /api/requester/surveys/pending.
func (h *RequesterHandler) PendingSurveys(c *fiber.Ctx) error {
	caller, err := principal(c)
	if err != nil {
		return err
	}
	pending, err := h.gate.PendingSurveys(c.UserContext(), caller)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": pending})
}

// SurveyForm GET /api/requester/surveys/:id.
func (h *RequesterHandler) SurveyForm(c *fiber.Ctx) error {
	caller, err := principal(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	form, err := h.gate.SurveyForm(c.UserContext(), caller, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.SurveyFormResponse{
		TicketID:          form.Ticket.ID,
		RequesterName:     form.Ticket.RequesterName,
		AreaName:          form.Ticket.AreaName,
		Subject:           form.Ticket.Subject,
		State:             form.Ticket.State,
		RequestedAt:       form.Ticket.CreatedAt,
		ClosedAt:          form.Ticket.ClosedAt,
		Technicians:       dto.NewTechnicianList(form.Technicians),
		ServiceDuration:   form.ServiceDuration,
		AttentionDuration: form.AttentionDuration,
	}})
}

// SubmitSurvey POST /api/requester/surveys.
func (h *RequesterHandler) SubmitSurvey(c *fiber.Ctx) error {
	caller, err := principal(c)
	if err != nil {
		return err
	}
	var req dto.SubmitSurveyRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.TicketID <= 0 {
		return apperrors.NewMissingField("ticket_id")
	}
	survey, err := h.gate.SubmitSurvey(c.UserContext(), caller, req.TicketID, req.Answers())
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewSurveyResponse(survey)})
}
