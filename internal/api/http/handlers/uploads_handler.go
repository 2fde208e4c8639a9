package handlers

import (
	"errors"
	"path"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/storage"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// UploadsHandler streams stored ticket images.
type UploadsHandler struct {
	blobs storage.BlobReader
}

// NewUploadsHandler constructs handler. A nil reader answers 404 for every name.
func NewUploadsHandler(blobs storage.BlobReader) *UploadsHandler {
	return &UploadsHandler{blobs: blobs}
}

// Serve handles GET /uploads/tickets/:name.
func (h *UploadsHandler) Serve(c *fiber.Ctx) error {
	name := c.Params("name")
	if h.blobs == nil || !storage.ValidKey(name) {
		return apperrors.NewNotFound("upload", map[string]any{"name": name})
	}
	rc, err := h.blobs.Open(c.UserContext(), name)
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidKey) {
		return apperrors.NewNotFound("upload", map[string]any{"name": name})
	}
	if err != nil {
		return err
	}
	c.Type(strings.TrimPrefix(path.Ext(name), "."))
	c.Set(fiber.HeaderCacheControl, "private, max-age=3600")
	return c.SendStream(rc)
}
