package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/api/dto"
	"github.com/spec-kit/helpdesk-service/internal/service"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// TechnicianHandler manages the technician work queue.
type TechnicianHandler struct {
	registry    *service.TicketRegistry
	ledger      *service.AssignmentLedger
	attachments *service.AttachmentCatalog
}

// NewTechnicianHandler constructs handler.
func NewTechnicianHandler(registry *service.TicketRegistry, ledger *service.AssignmentLedger, attachments *service.AttachmentCatalog) *TechnicianHandler {
	return &TechnicianHandler{registry: registry, ledger: ledger, attachments: attachments}
}

// ListTickets GET /api/technician/tickets?scope=disponibles|asignados|historial.
func (h *TechnicianHandler) ListTickets(c *fiber.Ctx) error {
	caller, err := principal(c)
	if err != nil {
		return err
	}
	tickets, err := h.registry.ListForTechnicianScope(c.UserContext(), caller, firstQuery(c, "scope", "vista"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketList(tickets)})
}

// GetTicket GET /api/technician/tickets/:id.
func (h *TechnicianHandler) GetTicket(c *fiber.Ctx) error {
	caller, err := principal(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	detail, err := h.registry.TicketDetail(c.UserContext(), caller, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketDetailResponse(&detail.Ticket, detail.Notes, detail.Technicians, detail.Attachments)})
}

// Technicians GET /api/technician/technicians.
func (h *TechnicianHandler) Technicians(c *fiber.Ctx) error {
	caller, err := principal(c)
	if err != nil {
		return err
	}
	techs, err := h.ledger.ListActiveTechnicians(c.UserContext(), caller)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTechnicianList(techs)})
}

// Claim POST /api/technician/tickets/:id/claim.
func (h *TechnicianHandler) Claim(c *fiber.Ctx) error {
	caller, err := principal(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	ticket, err := h.registry.Claim(c.UserContext(), caller, id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// Assign POST /api/technician/tickets/:id/assignees.
func (h *TechnicianHandler) Assign(c *fiber.Ctx) error {
	caller, err := principal(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var req dto.AssignTechniciansRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	added, err := h.ledger.Assign(c.UserContext(), caller, id, req.TechnicianIDs)
	if err != nil {
		return err
	}
	if added == nil {
		added = []int64{}
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"added": added}})
}

// ChangeState PATCH /api/technician/tickets/:id/state.
func (h *TechnicianHandler) ChangeState(c *fiber.Ctx) error {
	caller, err := principal(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var req dto.ChangeStateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.registry.ChangeState(c.UserContext(), caller, id, req.State, req.Note)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// AddNote POST /api/technician/tickets/:id/notes.
func (h *TechnicianHandler) AddNote(c *fiber.Ctx) error {
	caller, err := principal(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var req dto.AddNoteRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	note, err := h.registry.AddNote(c.UserContext(), caller, id, req.Text)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewNoteResponse(note)})
}

// Evidence POST /api/technician/tickets/:id/evidence (multipart "images", "imagenes" or "evidencias").
func (h *TechnicianHandler) Evidence(c *fiber.Ctx) error {
	caller, err := principal(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	saved, err := h.attachments.AttachEvidence(c.UserContext(), caller, id, imageUploads(c, "images", "imagenes", "evidencias"))
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewAttachmentList(saved)})
}
