package handlers

import (
	"io"
	"mime/multipart"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-service/internal/auth"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/service"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

func principal(c *fiber.Ctx) (domain.Principal, error) {
	p, ok := auth.PrincipalFromContext(c)
	if !ok {
		return domain.Principal{}, apperrors.NewUnauthenticated("authentication required")
	}
	return p, nil
}

func paramID(c *fiber.Ctx, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewValidationError("invalid "+name, map[string]any{"field": name})
	}
	return id, nil
}

// imageUploads collects the files posted under any of fields, in order.
// Non-multipart requests carry no images.
func imageUploads(c *fiber.Ctx, fields ...string) []service.ImageUpload {
	form, err := c.MultipartForm()
	if err != nil || form == nil {
		return nil
	}
	var uploads []service.ImageUpload
	for _, field := range fields {
		for _, fh := range form.File[field] {
			uploads = append(uploads, fileUpload(fh))
		}
	}
	return uploads
}

func fileUpload(fh *multipart.FileHeader) service.ImageUpload {
	return service.ImageUpload{
		FileName:    fh.Filename,
		ContentType: fh.Header.Get(fiber.HeaderContentType),
		Size:        fh.Size,
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

func firstQuery(c *fiber.Ctx, keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(c.Query(key)); v != "" {
			return v
		}
	}
	return ""
}
