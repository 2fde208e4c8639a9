package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/service"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// CatalogHandler serves the request catalog.
type CatalogHandler struct {
	catalog *service.CatalogService
}

// NewCatalogHandler constructs handler.
func NewCatalogHandler(catalog *service.CatalogService) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

// RequestTypes handles GET /api/catalog/request-types.
func (h *CatalogHandler) RequestTypes(c *fiber.Ctx) error {
	types, err := h.catalog.RequestTypes(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": types})
}

// Suggestions handles GET /api/catalog/suggestions?tipo_id=|tipo=.
func (h *CatalogHandler) Suggestions(c *fiber.Ctx) error {
	var typeID *int64
	if raw := firstQuery(c, "tipo_id", "type_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return apperrors.NewValidationError("invalid tipo_id", map[string]any{"field": "tipo_id"})
		}
		typeID = &id
	}
	suggestions, err := h.catalog.Suggestions(c.UserContext(), typeID, firstQuery(c, "tipo", "type"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": suggestions})
}
